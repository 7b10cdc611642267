package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// ErrTaskNotFound indicates a lookup for an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrStatusConflict indicates a guarded status update lost the race: the
// task's current status did not match the expected status.
var ErrStatusConflict = errors.New("task status conflict")

// SaveTask inserts or replaces a task row.
func (db *DB) SaveTask(task *models.Task) error {
	params, err := json.Marshal(task.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	deps, err := json.Marshal(task.Dependencies)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	estimated, err := json.Marshal(task.Estimated)
	if err != nil {
		return fmt.Errorf("encode estimated resources: %w", err)
	}

	var actual any
	if task.Actual != nil {
		data, err := json.Marshal(task.Actual)
		if err != nil {
			return fmt.Errorf("encode actual resources: %w", err)
		}
		actual = string(data)
	}

	var startedAt, completedAt any
	if task.StartedAt != nil {
		startedAt = formatTime(*task.StartedAt)
	}
	if task.CompletedAt != nil {
		completedAt = formatTime(*task.CompletedAt)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO tasks
		(id, plan_id, request_id, trace_id, work_type, parameters, priority, status,
		 dependencies, assigned_to, estimated_resources, actual_resources, error,
		 retry_count, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.PlanID, task.RequestID, task.TraceID, task.WorkType,
		string(params), task.Priority, string(task.Status), string(deps),
		task.AssignedTo, string(estimated), actual, task.Error, task.RetryCount,
		formatTime(task.CreatedAt), startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask loads a task by ID.
func (db *DB) GetTask(taskID string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, plan_id, request_id, trace_id, work_type, parameters, priority,
		       status, dependencies, assigned_to, estimated_resources,
		       actual_resources, error, retry_count, created_at, started_at, completed_at
		FROM tasks WHERE id = ?
	`, taskID)
	return scanTask(row)
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*models.Task, error) {
	var task models.Task
	var params, deps, estimated, status string
	var actual, assignedTo, errMsg, startedAt, completedAt sql.NullString
	var createdAt string

	err := row.Scan(&task.ID, &task.PlanID, &task.RequestID, &task.TraceID,
		&task.WorkType, &params, &task.Priority, &status, &deps, &assignedTo,
		&estimated, &actual, &errMsg, &task.RetryCount, &createdAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = models.TaskStatus(status)
	task.AssignedTo = assignedTo.String
	task.Error = errMsg.String

	if params != "" {
		if err := json.Unmarshal([]byte(params), &task.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if deps != "" {
		if err := json.Unmarshal([]byte(deps), &task.Dependencies); err != nil {
			return nil, fmt.Errorf("decode dependencies: %w", err)
		}
	}
	if estimated != "" {
		if err := json.Unmarshal([]byte(estimated), &task.Estimated); err != nil {
			return nil, fmt.Errorf("decode estimated resources: %w", err)
		}
	}
	if actual.Valid {
		task.Actual = &models.ResourceEstimate{}
		if err := json.Unmarshal([]byte(actual.String), task.Actual); err != nil {
			return nil, fmt.Errorf("decode actual resources: %w", err)
		}
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	task.CreatedAt = created
	task.StartedAt = parseNullableTime(startedAt)
	task.CompletedAt = parseNullableTime(completedAt)

	return &task, nil
}

// UpdateTaskStatus atomically moves a task from expected to next. It is the
// single row-level primitive behind the task state machine: concurrent
// writers race on the expected status and exactly one wins.
func (db *DB) UpdateTaskStatus(taskID string, expected, next models.TaskStatus) error {
	if !expected.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for task %s", expected, next, taskID)
	}

	now := formatTime(time.Now())
	var result sql.Result
	var err error
	switch {
	case next == models.TaskStatusExecuting:
		result, err = db.Exec(`
			UPDATE tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?
		`, string(next), now, taskID, string(expected))
	case next.Terminal():
		result, err = db.Exec(`
			UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND status = ?
		`, string(next), now, taskID, string(expected))
	default:
		result, err = db.Exec(`
			UPDATE tasks SET status = ? WHERE id = ? AND status = ?
		`, string(next), taskID, string(expected))
	}
	if err != nil {
		return fmt.Errorf("update task %s status: %w", taskID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := db.GetTask(taskID); errors.Is(err, ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("%w: task %s not in %s", ErrStatusConflict, taskID, expected)
	}
	return nil
}

// MarkTaskFailed moves a task to failed with the given error message,
// regardless of its current non-terminal status.
func (db *DB) MarkTaskFailed(taskID, errMsg string) error {
	result, err := db.Exec(`
		UPDATE tasks SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`, string(models.TaskStatusFailed), errMsg, formatTime(time.Now()), taskID,
		string(models.TaskStatusCompleted), string(models.TaskStatusFailed),
		string(models.TaskStatusCancelled))
	if err != nil {
		return fmt.Errorf("mark task %s failed: %w", taskID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: task %s already terminal", ErrStatusConflict, taskID)
	}
	return nil
}

// IncrementTaskRetry bumps the retry counter and returns the new value.
func (db *DB) IncrementTaskRetry(taskID string) (int, error) {
	_, err := db.Exec(`UPDATE tasks SET retry_count = retry_count + 1 WHERE id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("increment retry for task %s: %w", taskID, err)
	}

	var count int
	row := db.QueryRow(`SELECT retry_count FROM tasks WHERE id = ?`, taskID)
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTaskNotFound
		}
		return 0, fmt.Errorf("read retry count for task %s: %w", taskID, err)
	}
	return count, nil
}

// AssignTask records the agent a task was routed to.
func (db *DB) AssignTask(taskID, agentID string) error {
	_, err := db.Exec(`UPDATE tasks SET assigned_to = ? WHERE id = ?`, agentID, taskID)
	if err != nil {
		return fmt.Errorf("assign task %s: %w", taskID, err)
	}
	return nil
}

// ListTasksByPlan returns all tasks belonging to a plan.
func (db *DB) ListTasksByPlan(planID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, plan_id, request_id, trace_id, work_type, parameters, priority,
		       status, dependencies, assigned_to, estimated_resources,
		       actual_resources, error, retry_count, created_at, started_at, completed_at
		FROM tasks WHERE plan_id = ? ORDER BY created_at
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for plan %s: %w", planID, err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByStatus returns all tasks in the given status.
func (db *DB) ListTasksByStatus(status models.TaskStatus) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, plan_id, request_id, trace_id, work_type, parameters, priority,
		       status, dependencies, assigned_to, estimated_resources,
		       actual_resources, error, retry_count, created_at, started_at, completed_at
		FROM tasks WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
