package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

func onlineAgent(id string, score float64, cpuPct float64, lastAssigned time.Time) *models.AgentRecord {
	return &models.AgentRecord{
		AgentID:          id,
		AgentType:        "general",
		Status:           models.AgentStatusOnline,
		Capabilities:     []string{"shell"},
		Resources:        models.ResourceSnapshot{CPUPct: cpuPct},
		LastAssignedAt:   lastAssigned,
		PerformanceScore: score,
	}
}

func TestRouteSelectsHighestScore(t *testing.T) {
	candidates := []*models.AgentRecord{
		onlineAgent("slow", 0.5, 80, time.Time{}),
		onlineAgent("fast", 1.0, 10, time.Time{}),
	}

	agent, err := Router{}.Route("shell", candidates)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if agent.AgentID != "fast" {
		t.Errorf("expected fast, got %q", agent.AgentID)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	candidates := []*models.AgentRecord{
		onlineAgent("a", 0.9, 30, time.Time{}),
		onlineAgent("b", 0.7, 10, time.Time{}),
		onlineAgent("c", 0.8, 50, time.Time{}),
	}

	first, err := Router{}.Route("shell", candidates)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Router{}.Route("shell", candidates)
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		if again.AgentID != first.AgentID {
			t.Fatalf("routing not deterministic: %q then %q", first.AgentID, again.AgentID)
		}
	}
}

func TestRouteTiesBreakLeastRecentlyUsed(t *testing.T) {
	now := time.Now()
	candidates := []*models.AgentRecord{
		onlineAgent("recent", 1.0, 10, now),
		onlineAgent("stale", 1.0, 10, now.Add(-time.Hour)),
	}

	agent, err := Router{}.Route("shell", candidates)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if agent.AgentID != "stale" {
		t.Errorf("expected LRU agent stale, got %q", agent.AgentID)
	}
}

func TestRouteFiltersCapabilityAndStatus(t *testing.T) {
	offline := onlineAgent("offline", 1.0, 0, time.Time{})
	offline.Status = models.AgentStatusOffline
	busy := onlineAgent("busy", 1.0, 0, time.Time{})
	busy.Status = models.AgentStatusBusy
	wrongType := onlineAgent("gpu-only", 1.0, 0, time.Time{})
	wrongType.Capabilities = []string{"reasoning"}

	_, err := Router{}.Route("shell", []*models.AgentRecord{offline, busy, wrongType})
	if !errors.Is(err, ErrNoEligibleAgent) {
		t.Errorf("expected ErrNoEligibleAgent, got %v", err)
	}

	eligible := onlineAgent("ok", 0.1, 90, time.Time{})
	agent, err := Router{}.Route("shell", []*models.AgentRecord{offline, busy, wrongType, eligible})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if agent.AgentID != "ok" {
		t.Errorf("expected the only eligible agent, got %q", agent.AgentID)
	}
}
