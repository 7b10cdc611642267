package state

import (
	"database/sql"
	"fmt"
	"time"
)

// ExecutionLogEntry is one row of the append-only execution log.
type ExecutionLogEntry struct {
	// TaskID is the task this step belongs to.
	TaskID string
	// StepNumber orders steps within a task.
	StepNumber int
	// AgentID is the agent that performed the step, when one did.
	AgentID string
	// AgentType is the kind of worker that performed the step.
	AgentType string
	// Action names the step, e.g. "dispatch" or "execute".
	Action string
	// Status is the step outcome.
	Status string
	// OutputSummary is a truncated summary of the step output.
	OutputSummary string
	// ServiceTag is an opaque tag naming the service the step touched.
	ServiceTag string
	// Timestamp is when the step happened.
	Timestamp time.Time
	// Duration is how long the step took.
	Duration time.Duration
}

// ExecutionLogQuery filters execution log reads. Zero fields are ignored.
type ExecutionLogQuery struct {
	// TaskID restricts results to one task.
	TaskID string
	// Status restricts results to one step status.
	Status string
	// ServiceTag restricts results to one service tag.
	ServiceTag string
	// From is the inclusive lower time bound.
	From time.Time
	// To is the exclusive upper time bound.
	To time.Time
	// Limit caps the number of rows returned; zero means no cap.
	Limit int
}

// AppendExecutionLog writes one execution log entry. The step number is
// assigned as the next number for the task.
func (db *DB) AppendExecutionLog(entry ExecutionLogEntry) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var step int
		row := tx.QueryRow(`SELECT COALESCE(MAX(step_number), 0) + 1 FROM execution_log WHERE task_id = ?`, entry.TaskID)
		if err := row.Scan(&step); err != nil {
			return fmt.Errorf("next step number: %w", err)
		}

		ts := entry.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		_, err := tx.Exec(`
			INSERT INTO execution_log
			(task_id, step_number, agent_id, agent_type, action, status, output_summary, service_tag, timestamp, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.TaskID, step, entry.AgentID, entry.AgentType, entry.Action, entry.Status,
			entry.OutputSummary, entry.ServiceTag, formatTime(ts), entry.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("append execution log: %w", err)
		}
		return nil
	})
}

// QueryExecutionLog reads log entries matching the query, oldest first.
func (db *DB) QueryExecutionLog(q ExecutionLogQuery) ([]ExecutionLogEntry, error) {
	query := `
		SELECT task_id, step_number, agent_id, agent_type, action, status, output_summary,
		       service_tag, timestamp, duration_ms
		FROM execution_log WHERE 1=1`
	var args []any

	if q.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, q.TaskID)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, q.Status)
	}
	if q.ServiceTag != "" {
		query += " AND service_tag = ?"
		args = append(args, q.ServiceTag)
	}
	if !q.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, formatTime(q.To))
	}
	query += " ORDER BY timestamp, step_number"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution log: %w", err)
	}
	defer rows.Close()

	var entries []ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		var agentID, agentType, output, tag sql.NullString
		var ts string
		var durationMS int64

		if err := rows.Scan(&e.TaskID, &e.StepNumber, &agentID, &agentType, &e.Action,
			&e.Status, &output, &tag, &ts, &durationMS); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}

		e.AgentID = agentID.String
		e.AgentType = agentType.String
		e.OutputSummary = output.String
		e.ServiceTag = tag.String
		e.Duration = time.Duration(durationMS) * time.Millisecond

		parsed, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse log timestamp: %w", err)
		}
		e.Timestamp = parsed

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
