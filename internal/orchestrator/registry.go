package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/convoy/internal/protocol"
	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// AgentRegistry maintains the orchestrator's view of the fleet. Records are
// mutated only through heartbeat and registration handling; offline
// transitions are driven by missed-heartbeat timing, never self-asserted.
type AgentRegistry struct {
	db *state.DB
	// heartbeatWindow is how long an agent may go silent before it is
	// marked offline.
	heartbeatWindow time.Duration
	logger          *DebugLogger
}

// NewAgentRegistry creates a registry backed by the state store.
func NewAgentRegistry(db *state.DB, heartbeatWindow time.Duration, logger *DebugLogger) *AgentRegistry {
	if heartbeatWindow <= 0 {
		heartbeatWindow = 15 * time.Second
	}
	return &AgentRegistry{db: db, heartbeatWindow: heartbeatWindow, logger: logger}
}

// ApplyRegistration upserts an agent record from a Registration message.
// Re-registration refreshes capabilities and brings the agent online; the
// agent's score and assignment history are preserved.
func (r *AgentRegistry) ApplyRegistration(reg *protocol.Registration) error {
	r.logger.Log("registry: agent %s registered with capabilities %v", reg.AgentID, reg.Capabilities)
	return r.db.RegisterAgent(&models.AgentRecord{
		AgentID:         reg.AgentID,
		AgentType:       reg.AgentType,
		Capabilities:    reg.Capabilities,
		Status:          models.AgentStatusOnline,
		LastHeartbeatAt: time.Now().UTC(),
	})
}

// ApplyHeartbeat updates an agent record from a StatusUpdate. An unknown
// agent is registered implicitly; a busy/online transition follows whether
// the agent reported a current task.
func (r *AgentRegistry) ApplyHeartbeat(status *protocol.StatusUpdate) error {
	rec := &models.AgentRecord{
		AgentID:         status.AgentID,
		AgentType:       status.AgentType,
		Resources:       status.Resources,
		CurrentTaskID:   status.CurrentTaskID,
		LastHeartbeatAt: time.Now().UTC(),
	}
	if status.CurrentTaskID != "" {
		rec.Status = models.AgentStatusBusy
	} else {
		rec.Status = models.AgentStatusOnline
	}
	return r.db.RecordHeartbeat(rec)
}

// MarkStaleOffline transitions agents past the heartbeat window to offline
// and returns how many were transitioned. The store re-checks the heartbeat
// stamp inside the guarded update, so an agent whose heartbeat lands during
// the sweep stays online.
func (r *AgentRegistry) MarkStaleOffline() (int, error) {
	agents, err := r.db.ListAgents()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-r.heartbeatWindow)
	marked := 0
	for _, rec := range agents {
		if rec.Status == models.AgentStatusOffline || rec.LastHeartbeatAt.After(cutoff) {
			continue
		}
		changed, err := r.db.MarkAgentOffline(rec.AgentID, cutoff)
		if err != nil {
			return marked, fmt.Errorf("mark agent %s offline: %w", rec.AgentID, err)
		}
		if !changed {
			continue
		}
		r.logger.Log("registry: agent %s missed heartbeat window, marked offline", rec.AgentID)
		marked++
	}
	return marked, nil
}

// Eligible returns the online agents capable of executing workType.
func (r *AgentRegistry) Eligible(workType string) ([]*models.AgentRecord, error) {
	agents, err := r.db.ListAgents()
	if err != nil {
		return nil, err
	}

	var eligible []*models.AgentRecord
	for _, rec := range agents {
		if rec.Status == models.AgentStatusOnline && rec.CanExecute(workType) {
			eligible = append(eligible, rec)
		}
	}
	return eligible, nil
}

// Capable returns all non-offline agents capable of executing workType,
// regardless of whether they are currently free. The pause manager uses
// this wider set to judge fleet saturation.
func (r *AgentRegistry) Capable(workType string) ([]*models.AgentRecord, error) {
	agents, err := r.db.ListAgents()
	if err != nil {
		return nil, err
	}

	var capable []*models.AgentRecord
	for _, rec := range agents {
		if rec.Status != models.AgentStatusOffline && rec.CanExecute(workType) {
			capable = append(capable, rec)
		}
	}
	return capable, nil
}

// RecordAssignment stamps the agent's last-assigned time for LRU
// tie-breaking and marks it busy.
func (r *AgentRegistry) RecordAssignment(agentID string) error {
	return r.db.StampAssignment(agentID, time.Now().UTC())
}

// RecordOutcome folds a task outcome into the agent's rolling performance
// score (exponential moving average, weight 0.2 on the newest outcome).
func (r *AgentRegistry) RecordOutcome(agentID string, succeeded bool) error {
	outcome := 0.0
	if succeeded {
		outcome = 1.0
	}
	err := r.db.AdjustAgentScore(agentID, 0.8, outcome*0.2)
	if errors.Is(err, state.ErrAgentNotFound) {
		return nil
	}
	return err
}
