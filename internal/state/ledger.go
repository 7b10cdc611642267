package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// Ledger is the append-only external audit ledger. Each completed or failed
// task is mirrored to it as one JSON line. Writes are best-effort: a failure
// is returned for logging but must never roll back or fail the task outcome.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// LedgerRecord is one ledger line.
type LedgerRecord struct {
	// TaskID is the recorded task.
	TaskID string `json:"task_id"`
	// PlanID is the task's work plan.
	PlanID string `json:"plan_id"`
	// WorkType is the task's work type.
	WorkType string `json:"work_type"`
	// Status is the terminal task status.
	Status models.TaskStatus `json:"status"`
	// AgentID is the agent that executed the task, if any.
	AgentID string `json:"agent_id,omitempty"`
	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`
	// RecordedAt is when the line was written.
	RecordedAt time.Time `json:"recorded_at"`
}

// NewLedger creates a ledger writing to the given path.
func NewLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{path: path}, nil
}

// Append writes one record to the ledger.
func (l *Ledger) Append(rec LedgerRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	return nil
}
