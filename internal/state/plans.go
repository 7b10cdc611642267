package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// ErrPlanNotFound indicates a lookup for an unknown plan.
var ErrPlanNotFound = errors.New("plan not found")

// SavePlan inserts or replaces a plan row and all of its task rows.
func (db *DB) SavePlan(plan *models.WorkPlan) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO plans
		(id, request_id, trace_id, request_text, status, complexity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, plan.ID, plan.RequestID, plan.TraceID, plan.RequestText,
		string(plan.Status), string(plan.Complexity), formatTime(plan.CreatedAt))
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}

	for _, task := range plan.Tasks {
		if err := db.SaveTask(task); err != nil {
			return err
		}
	}
	return nil
}

// GetPlan loads a plan and its tasks by plan ID.
func (db *DB) GetPlan(planID string) (*models.WorkPlan, error) {
	row := db.QueryRow(`
		SELECT id, request_id, trace_id, request_text, status, complexity, created_at
		FROM plans WHERE id = ?
	`, planID)
	return db.scanPlan(row)
}

// GetPlanByRequestID loads a plan and its tasks by the originating request ID.
func (db *DB) GetPlanByRequestID(requestID string) (*models.WorkPlan, error) {
	row := db.QueryRow(`
		SELECT id, request_id, trace_id, request_text, status, complexity, created_at
		FROM plans WHERE request_id = ?
	`, requestID)
	return db.scanPlan(row)
}

// ListPlansByStatus returns all plans in the given status, without tasks.
func (db *DB) ListPlansByStatus(status models.PlanStatus) ([]*models.WorkPlan, error) {
	rows, err := db.Query(`
		SELECT id, request_id, trace_id, request_text, status, complexity, created_at
		FROM plans WHERE status = ? ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list plans by status %s: %w", status, err)
	}
	defer rows.Close()

	var plans []*models.WorkPlan
	for rows.Next() {
		plan, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// UpdatePlanStatus atomically moves a plan from expected to next.
func (db *DB) UpdatePlanStatus(planID string, expected, next models.PlanStatus) error {
	result, err := db.Exec(`
		UPDATE plans SET status = ? WHERE id = ? AND status = ?
	`, string(next), planID, string(expected))
	if err != nil {
		return fmt.Errorf("update plan %s status: %w", planID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := db.GetPlan(planID); errors.Is(err, ErrPlanNotFound) {
			return ErrPlanNotFound
		}
		return fmt.Errorf("%w: plan %s not in %s", ErrStatusConflict, planID, expected)
	}
	return nil
}

func (db *DB) scanPlan(row *sql.Row) (*models.WorkPlan, error) {
	plan, err := scanPlanRow(row)
	if err != nil {
		return nil, err
	}

	tasks, err := db.ListTasksByPlan(plan.ID)
	if err != nil {
		return nil, err
	}
	plan.Tasks = tasks
	return plan, nil
}

func scanPlanRow(row scannable) (*models.WorkPlan, error) {
	var plan models.WorkPlan
	var status, complexity, createdAt string

	err := row.Scan(&plan.ID, &plan.RequestID, &plan.TraceID, &plan.RequestText,
		&status, &complexity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	plan.Status = models.PlanStatus(status)
	plan.Complexity = models.Complexity(complexity)
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	plan.CreatedAt = created
	return &plan, nil
}
