package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/convoy/internal/protocol"
)

func testOptions() Options {
	return Options{
		MaxAttempts:       3,
		VisibilityTimeout: 50 * time.Millisecond,
		DeadLetterCap:     4,
	}
}

func newWorkEnvelope(t *testing.T, to string, priority int) *protocol.Envelope {
	t.Helper()

	env, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator, to,
		uuid.NewString(), uuid.NewString(), priority,
		&protocol.WorkRequest{TaskID: uuid.NewString(), WorkType: "echo"},
	)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestPublishConsumeAck(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	endpoint := protocol.AgentEndpoint("w1")
	env := newWorkEnvelope(t, endpoint, 3)
	if err := b.PublishWork(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d, err := b.ConsumeWork(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d.Envelope.MessageID != env.MessageID {
		t.Errorf("expected message %s, got %s", env.MessageID, d.Envelope.MessageID)
	}
	if d.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", d.Attempt)
	}

	if err := b.Ack(context.Background(), d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if depth := b.Depth(ChannelWork); depth != 0 {
		t.Errorf("expected empty work channel after ack, got depth %d", depth)
	}
}

func TestPriorityOrdering(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	endpoint := protocol.AgentEndpoint("w1")
	low := newWorkEnvelope(t, endpoint, 1)
	high := newWorkEnvelope(t, endpoint, 5)
	mid := newWorkEnvelope(t, endpoint, 3)

	for _, env := range []*protocol.Envelope{low, high, mid} {
		if err := b.PublishWork(context.Background(), env); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var got []int
	for i := 0; i < 3; i++ {
		d, err := b.ConsumeWork(context.Background(), endpoint)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		got = append(got, d.Envelope.Priority)
		if err := b.Ack(context.Background(), d); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}

	want := []int{5, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected priority order %v, got %v", want, got)
		}
	}
}

func TestRedeliveryAfterVisibilityTimeout(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	endpoint := protocol.AgentEndpoint("w1")
	env := newWorkEnvelope(t, endpoint, 3)
	if err := b.PublishWork(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Claim and never ack, simulating a consumer crash mid-task.
	if _, err := b.ConsumeWork(context.Background(), endpoint); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := b.ConsumeWork(ctx, endpoint)
	if err != nil {
		t.Fatalf("expected redelivery, got %v", err)
	}
	if d.Envelope.MessageID != env.MessageID {
		t.Errorf("expected redelivered message %s, got %s", env.MessageID, d.Envelope.MessageID)
	}
	if d.Attempt != 2 {
		t.Errorf("expected attempt 2 on redelivery, got %d", d.Attempt)
	}
}

func TestNackNoRequeueDeadLetters(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	endpoint := protocol.AgentEndpoint("w1")
	env := newWorkEnvelope(t, endpoint, 3)
	if err := b.PublishWork(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d, err := b.ConsumeWork(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := b.Nack(context.Background(), d, false, "validation failed"); err != nil {
		t.Fatalf("nack: %v", err)
	}

	dls := b.DeadLetters()
	if len(dls) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dls))
	}
	if dls[0].Reason != "validation failed" {
		t.Errorf("unexpected reason %q", dls[0].Reason)
	}
	if depth := b.Depth(ChannelWork); depth != 0 {
		t.Errorf("expected empty work channel, got depth %d", depth)
	}
}

func TestNackRequeueExhaustsToDeadLetter(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	endpoint := protocol.AgentEndpoint("w1")
	env := newWorkEnvelope(t, endpoint, 3)
	if err := b.PublishWork(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		d, err := b.ConsumeWork(context.Background(), endpoint)
		if err != nil {
			t.Fatalf("consume attempt %d: %v", attempt, err)
		}
		if d.Attempt != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, d.Attempt)
		}
		if err := b.Nack(context.Background(), d, true, "transient failure"); err != nil {
			t.Fatalf("nack attempt %d: %v", attempt, err)
		}
	}

	dls := b.DeadLetters()
	if len(dls) != 1 {
		t.Fatalf("expected 1 dead letter after exhaustion, got %d", len(dls))
	}
	if dls[0].Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", dls[0].Attempts)
	}
}

func TestDeadLetterCapEvictsOldest(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	for i := 0; i < 6; i++ {
		b.DeadLetterRaw([]byte{byte(i)}, "undecodable")
	}

	dls := b.DeadLetters()
	if len(dls) != 4 {
		t.Fatalf("expected dead-letter channel capped at 4, got %d", len(dls))
	}
	// Oldest two evicted; first remaining entry is the third written.
	if dls[0].Raw[0] != 2 {
		t.Errorf("expected oldest remaining entry 2, got %d", dls[0].Raw[0])
	}
}

func TestBroadcastFanOut(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	sub1 := b.SubscribeBroadcast("w1")
	sub2 := b.SubscribeBroadcast("w2")

	env, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator, protocol.EndpointBroadcast,
		uuid.NewString(), uuid.NewString(), 3,
		&protocol.Cancel{TaskID: "t1"},
	)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := b.Broadcast(env); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	for i, sub := range []<-chan *protocol.Envelope{sub1, sub2} {
		select {
		case got := <-sub:
			if got.MessageID != env.MessageID {
				t.Errorf("subscriber %d: wrong message", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestResubscribeReplacesSubscription(t *testing.T) {
	b, err := NewBroker(testOptions())
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	old := b.SubscribeBroadcast("w1")
	fresh := b.SubscribeBroadcast("w1")

	// The old channel is closed so a reconnecting agent does not leak.
	if _, ok := <-old; ok {
		t.Error("expected old subscription channel to be closed")
	}

	env, err := protocol.NewEnvelope(
		protocol.EndpointOrchestrator, protocol.EndpointBroadcast,
		uuid.NewString(), uuid.NewString(), 3,
		&protocol.Cancel{TaskID: "t1"},
	)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := b.Broadcast(env); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case got := <-fresh:
		if got.MessageID != env.MessageID {
			t.Error("fresh subscription received wrong message")
		}
	case <-time.After(time.Second):
		t.Fatal("fresh subscription timed out")
	}
}

// fakePersister records persistence calls for high-priority messages.
type fakePersister struct {
	mu      sync.Mutex
	saved   map[string]*protocol.Envelope
	deleted []string
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string]*protocol.Envelope)}
}

func (p *fakePersister) SaveMessage(_ context.Context, _ string, env *protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[env.MessageID] = env
	return nil
}

func (p *fakePersister) DeleteMessage(_ context.Context, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, messageID)
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *fakePersister) LoadMessages(_ context.Context, channel string) ([]*protocol.Envelope, error) {
	return nil, nil
}

func TestPersistencePolicyByPriority(t *testing.T) {
	persister := newFakePersister()
	opts := testOptions()
	opts.Persister = persister

	b, err := NewBroker(opts)
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}
	defer b.Close()

	endpoint := protocol.AgentEndpoint("w1")
	low := newWorkEnvelope(t, endpoint, 2)
	high := newWorkEnvelope(t, endpoint, 5)

	for _, env := range []*protocol.Envelope{low, high} {
		if err := b.PublishWork(context.Background(), env); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	persister.mu.Lock()
	_, lowSaved := persister.saved[low.MessageID]
	_, highSaved := persister.saved[high.MessageID]
	persister.mu.Unlock()

	if lowSaved {
		t.Error("priority 2 message should stay memory-resident")
	}
	if !highSaved {
		t.Error("priority 5 message should be persisted before delivery")
	}

	// Acking the high-priority message removes it from the persister.
	d, err := b.ConsumeWork(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d.Envelope.Priority != 5 {
		t.Fatalf("expected priority 5 first, got %d", d.Envelope.Priority)
	}
	if err := b.Ack(context.Background(), d); err != nil {
		t.Fatalf("ack: %v", err)
	}

	persister.mu.Lock()
	_, stillSaved := persister.saved[high.MessageID]
	persister.mu.Unlock()
	if stillSaved {
		t.Error("acked message should be deleted from the persister")
	}
}
