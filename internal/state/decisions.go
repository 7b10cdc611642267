package state

import (
	"fmt"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// SaveFallbackDecision appends one fallback audit record. Every backend
// choice, at every tier, win or lose, produces exactly one record.
func (db *DB) SaveFallbackDecision(d models.FallbackDecision) error {
	if d.QuotaRemaining < 0 || d.QuotaRemaining > 1 {
		return fmt.Errorf("quota fraction %v outside [0, 1]", d.QuotaRemaining)
	}

	succeeded := 0
	if d.Succeeded {
		succeeded = 1
	}

	_, err := db.Exec(`
		INSERT INTO fallback_decisions
		(task_id, backend, reason, quota_remaining, tokens, cost, succeeded, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.TaskID, d.Backend, d.Reason, d.QuotaRemaining, d.Tokens, d.Cost,
		succeeded, formatTime(d.Timestamp))
	if err != nil {
		return fmt.Errorf("save fallback decision for %s: %w", d.TaskID, err)
	}
	return nil
}

// ListFallbackDecisions returns the decision trail for a task, oldest first.
func (db *DB) ListFallbackDecisions(taskID string) ([]models.FallbackDecision, error) {
	rows, err := db.Query(`
		SELECT task_id, backend, reason, quota_remaining, tokens, cost, succeeded, timestamp
		FROM fallback_decisions WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list fallback decisions for %s: %w", taskID, err)
	}
	defer rows.Close()

	var decisions []models.FallbackDecision
	for rows.Next() {
		var d models.FallbackDecision
		var succeeded int
		var ts string

		if err := rows.Scan(&d.TaskID, &d.Backend, &d.Reason, &d.QuotaRemaining,
			&d.Tokens, &d.Cost, &succeeded, &ts); err != nil {
			return nil, fmt.Errorf("scan fallback decision: %w", err)
		}

		d.Succeeded = succeeded != 0
		parsed, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse decision timestamp: %w", err)
		}
		d.Timestamp = parsed

		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
