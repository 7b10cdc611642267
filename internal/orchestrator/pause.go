package orchestrator

import (
	"fmt"

	"github.com/ShayCichocki/convoy/internal/state"
	"github.com/ShayCichocki/convoy/pkg/models"
)

// PauseReasonFleetSaturated marks tasks parked because every capable agent
// was below the capacity threshold.
const PauseReasonFleetSaturated = "fleet-saturated"

// PauseManager gates dispatch on fleet capacity. When every agent capable
// of a task's work type reports capacity below the threshold, the task is
// written to the durable pause queue instead of dispatched. A background
// poll re-evaluates paused entries so a restart neither loses paused work
// nor resumes it prematurely.
type PauseManager struct {
	db        *state.DB
	registry  *AgentRegistry
	threshold float64
	logger    *DebugLogger
}

// NewPauseManager creates a pause manager. threshold is the minimum free
// capacity fraction; zero or negative selects the 0.20 default.
func NewPauseManager(db *state.DB, registry *AgentRegistry, threshold float64, logger *DebugLogger) *PauseManager {
	if threshold <= 0 {
		threshold = 0.20
	}
	return &PauseManager{db: db, registry: registry, threshold: threshold, logger: logger}
}

// ShouldPause reports whether a task must be parked, with the reason.
// An empty capable set is not a pause condition; the router handles it as
// a no-eligible-agent retry.
func (m *PauseManager) ShouldPause(task *models.Task) (bool, string, error) {
	capable, err := m.registry.Capable(task.WorkType)
	if err != nil {
		return false, "", err
	}
	if len(capable) == 0 {
		return false, "", nil
	}

	for _, rec := range capable {
		if rec.Resources.CapacityFraction() >= m.threshold {
			return false, "", nil
		}
	}
	return true, PauseReasonFleetSaturated, nil
}

// Pause parks a task: its row moves to paused and a durable pause queue
// entry records when and why.
func (m *PauseManager) Pause(task *models.Task, reason string) error {
	if err := m.db.UpdateTaskStatus(task.ID, task.Status, models.TaskStatusPaused); err != nil {
		return fmt.Errorf("pause task %s: %w", task.ID, err)
	}
	if err := m.db.EnqueuePaused(task.ID, reason); err != nil {
		return fmt.Errorf("enqueue paused task %s: %w", task.ID, err)
	}
	m.logger.Log("pause: task %s parked (%s)", task.ID, reason)
	return nil
}

// ResumeEligible re-evaluates every paused entry and returns the tasks
// whose gating condition cleared back to approved.
func (m *PauseManager) ResumeEligible() ([]*models.Task, error) {
	entries, err := m.db.ListPaused()
	if err != nil {
		return nil, err
	}

	var resumed []*models.Task
	for _, entry := range entries {
		task, err := m.db.GetTask(entry.TaskID)
		if err != nil {
			m.logger.Log("pause: dropping queue entry for unknown task %s", entry.TaskID)
			if err := m.db.MarkResumed(entry.TaskID); err != nil {
				m.logger.Log("pause: clearing queue entry for task %s failed: %v", entry.TaskID, err)
			}
			continue
		}

		stillPaused, _, err := m.ShouldPause(task)
		if err != nil {
			return resumed, err
		}
		if stillPaused {
			continue
		}

		if err := m.db.UpdateTaskStatus(task.ID, models.TaskStatusPaused, models.TaskStatusApproved); err != nil {
			m.logger.Log("pause: resume of task %s lost the status race: %v", task.ID, err)
			continue
		}
		if err := m.db.MarkResumed(task.ID); err != nil {
			return resumed, err
		}
		task.Status = models.TaskStatusApproved
		resumed = append(resumed, task)
		m.logger.Log("pause: task %s resumed", task.ID)
	}
	return resumed, nil
}
