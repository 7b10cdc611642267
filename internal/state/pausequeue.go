package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// EnqueuePaused writes a durable pause queue entry for a task. Re-pausing a
// task that is already queued refreshes its entry.
func (db *DB) EnqueuePaused(taskID, reason string) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO pause_queue (task_id, paused_at, reason, resumed_at)
		VALUES (?, ?, ?, NULL)
	`, taskID, formatTime(time.Now()), reason)
	if err != nil {
		return fmt.Errorf("enqueue paused task %s: %w", taskID, err)
	}
	return nil
}

// ListPaused returns all pause queue entries that have not been resumed,
// oldest first.
func (db *DB) ListPaused() ([]models.PauseQueueEntry, error) {
	rows, err := db.Query(`
		SELECT task_id, paused_at, reason, resumed_at
		FROM pause_queue WHERE resumed_at IS NULL ORDER BY paused_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list paused tasks: %w", err)
	}
	defer rows.Close()

	var entries []models.PauseQueueEntry
	for rows.Next() {
		var e models.PauseQueueEntry
		var pausedAt string
		var resumedAt sql.NullString

		if err := rows.Scan(&e.TaskID, &pausedAt, &e.Reason, &resumedAt); err != nil {
			return nil, fmt.Errorf("scan pause queue entry: %w", err)
		}

		parsed, err := parseTime(pausedAt)
		if err != nil {
			return nil, fmt.Errorf("parse paused_at: %w", err)
		}
		e.PausedAt = parsed
		e.ResumedAt = parseNullableTime(resumedAt)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkResumed stamps a pause queue entry as resumed. The entry is kept for
// audit rather than deleted.
func (db *DB) MarkResumed(taskID string) error {
	result, err := db.Exec(`
		UPDATE pause_queue SET resumed_at = ? WHERE task_id = ? AND resumed_at IS NULL
	`, formatTime(time.Now()), taskID)
	if err != nil {
		return fmt.Errorf("mark task %s resumed: %w", taskID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s not in pause queue", taskID)
	}
	return nil
}
