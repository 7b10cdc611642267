package orchestrator

import (
	"math"
	"testing"
	"time"

	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/pkg/models"
)

func TestOfflineSweepLosesToFreshHeartbeat(t *testing.T) {
	p, db, _, _ := newTestPipeline(t)
	registerTestAgent(t, p, "w1", 10)

	// The sweep's cutoff is computed before the heartbeat lands; the guarded
	// update must leave the agent online anyway.
	cutoff := time.Now().UTC()
	err := p.registry.ApplyHeartbeat(&protocol.StatusUpdate{
		AgentID:   "w1",
		AgentType: "general",
		Resources: models.ResourceSnapshot{CPUPct: 10},
	})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	changed, err := db.MarkAgentOffline("w1", cutoff)
	if err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if changed {
		t.Error("expected mid-sweep heartbeat to keep the agent online")
	}

	rec, err := db.GetAgent("w1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if rec.Status != models.AgentStatusOnline {
		t.Errorf("expected online, got %q", rec.Status)
	}
}

func TestMarkStaleOfflineSweepsSilentAgents(t *testing.T) {
	p, db, _, _ := newTestPipeline(t)
	p.registry.heartbeatWindow = time.Millisecond
	registerTestAgent(t, p, "w1", 10)

	time.Sleep(5 * time.Millisecond)
	marked, err := p.registry.MarkStaleOffline()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if marked != 1 {
		t.Fatalf("expected 1 agent marked offline, got %d", marked)
	}

	rec, err := db.GetAgent("w1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if rec.Status != models.AgentStatusOffline {
		t.Errorf("expected offline, got %q", rec.Status)
	}

	// A second sweep finds nothing left to transition.
	marked, err = p.registry.MarkStaleOffline()
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if marked != 0 {
		t.Errorf("expected idempotent sweep, marked %d", marked)
	}
}

func TestAssignmentAndOutcomePreserveHeartbeatFields(t *testing.T) {
	p, db, _, _ := newTestPipeline(t)
	registerTestAgent(t, p, "w1", 42)

	if err := p.registry.RecordAssignment("w1"); err != nil {
		t.Fatalf("record assignment: %v", err)
	}
	if err := p.registry.RecordOutcome("w1", false); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	rec, err := db.GetAgent("w1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if rec.Status != models.AgentStatusBusy {
		t.Errorf("expected busy after assignment, got %q", rec.Status)
	}
	if rec.LastAssignedAt.IsZero() {
		t.Error("expected assignment stamp")
	}
	if rec.Resources.CPUPct != 42 {
		t.Errorf("expected heartbeat resources preserved, got %v", rec.Resources.CPUPct)
	}
	if math.Abs(rec.PerformanceScore-0.8) > 1e-9 {
		t.Errorf("expected score 0.8 after one failure, got %v", rec.PerformanceScore)
	}

	// Outcomes for agents that disappeared are not an error.
	if err := p.registry.RecordOutcome("ghost", true); err != nil {
		t.Errorf("expected nil for unknown agent, got %v", err)
	}
}
