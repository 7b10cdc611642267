package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// ErrAgentNotFound indicates a lookup for an unknown agent ID.
var ErrAgentNotFound = errors.New("agent not found")

// Agent rows are written with column-scoped upserts rather than whole-row
// replacement: the heartbeat path, the offline sweep, and the scheduler all
// touch the same row concurrently, and each must only own its columns so a
// read-modify-write cannot drop another writer's update.

// RegisterAgent upserts the registration fields of an agent: type,
// capabilities, online status, and the heartbeat stamp. Re-registration is
// an upsert, not an error; score, resources, and assignment stamps of an
// existing row are preserved.
func (db *DB) RegisterAgent(rec *models.AgentRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	resources, err := json.Marshal(rec.Resources)
	if err != nil {
		return fmt.Errorf("encode resources: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO agents
		(agent_id, agent_type, status, capabilities, resources, current_task_id,
		 last_heartbeat_at, last_assigned_at, performance_score)
		VALUES (?, ?, ?, ?, ?, '', ?, NULL, 1.0)
		ON CONFLICT(agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			capabilities = excluded.capabilities,
			status = excluded.status,
			last_heartbeat_at = excluded.last_heartbeat_at
	`, rec.AgentID, rec.AgentType, string(rec.Status), string(caps),
		string(resources), formatTime(rec.LastHeartbeatAt))
	if err != nil {
		return fmt.Errorf("register agent %s: %w", rec.AgentID, err)
	}
	return nil
}

// RecordHeartbeat upserts the heartbeat fields of an agent: status,
// resources, current task, and the heartbeat stamp. Capabilities, score,
// and assignment stamps are untouched so a concurrent registration or
// scheduler write is never lost.
func (db *DB) RecordHeartbeat(rec *models.AgentRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	resources, err := json.Marshal(rec.Resources)
	if err != nil {
		return fmt.Errorf("encode resources: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO agents
		(agent_id, agent_type, status, capabilities, resources, current_task_id,
		 last_heartbeat_at, last_assigned_at, performance_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 1.0)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			resources = excluded.resources,
			current_task_id = excluded.current_task_id,
			last_heartbeat_at = excluded.last_heartbeat_at
	`, rec.AgentID, rec.AgentType, string(rec.Status), string(caps),
		string(resources), rec.CurrentTaskID, formatTime(rec.LastHeartbeatAt))
	if err != nil {
		return fmt.Errorf("record heartbeat for agent %s: %w", rec.AgentID, err)
	}
	return nil
}

// MarkAgentOffline transitions an agent to offline only if its last
// heartbeat is still older than cutoff, reporting whether the row changed.
// The guard re-checks the stamp inside the update so a heartbeat landing
// between the sweep's read and its write wins.
func (db *DB) MarkAgentOffline(agentID string, cutoff time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE agents SET status = ?
		WHERE agent_id = ? AND status != ?
		  AND (last_heartbeat_at IS NULL OR julianday(last_heartbeat_at) < julianday(?))
	`, string(models.AgentStatusOffline), agentID, string(models.AgentStatusOffline),
		formatTime(cutoff))
	if err != nil {
		return false, fmt.Errorf("mark agent %s offline: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark agent %s offline: %w", agentID, err)
	}
	return n > 0, nil
}

// StampAssignment marks an agent busy and records the assignment time for
// LRU tie-breaking. Heartbeat fields are untouched.
func (db *DB) StampAssignment(agentID string, at time.Time) error {
	res, err := db.Exec(`
		UPDATE agents SET last_assigned_at = ?, status = ? WHERE agent_id = ?
	`, formatTime(at), string(models.AgentStatusBusy), agentID)
	if err != nil {
		return fmt.Errorf("stamp assignment for agent %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp assignment for agent %s: %w", agentID, err)
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// AdjustAgentScore folds one outcome into the performance score in place:
// score = score*decay + contribution.
func (db *DB) AdjustAgentScore(agentID string, decay, contribution float64) error {
	res, err := db.Exec(`
		UPDATE agents SET performance_score = performance_score * ? + ?
		WHERE agent_id = ?
	`, decay, contribution, agentID)
	if err != nil {
		return fmt.Errorf("adjust score for agent %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust score for agent %s: %w", agentID, err)
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// GetAgent loads an agent record by ID.
func (db *DB) GetAgent(agentID string) (*models.AgentRecord, error) {
	row := db.QueryRow(`
		SELECT agent_id, agent_type, status, capabilities, resources,
		       current_task_id, last_heartbeat_at, last_assigned_at, performance_score
		FROM agents WHERE agent_id = ?
	`, agentID)
	return scanAgent(row)
}

// ListAgents returns all agent records.
func (db *DB) ListAgents() ([]*models.AgentRecord, error) {
	rows, err := db.Query(`
		SELECT agent_id, agent_type, status, capabilities, resources,
		       current_task_id, last_heartbeat_at, last_assigned_at, performance_score
		FROM agents ORDER BY agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, rec)
	}
	return agents, rows.Err()
}

func scanAgent(row scannable) (*models.AgentRecord, error) {
	var rec models.AgentRecord
	var status string
	var caps, resources, currentTask, heartbeat, assigned sql.NullString

	err := row.Scan(&rec.AgentID, &rec.AgentType, &status, &caps, &resources,
		&currentTask, &heartbeat, &assigned, &rec.PerformanceScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}

	rec.Status = models.AgentStatus(status)
	rec.CurrentTaskID = currentTask.String

	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &rec.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	if resources.Valid && resources.String != "" {
		if err := json.Unmarshal([]byte(resources.String), &rec.Resources); err != nil {
			return nil, fmt.Errorf("decode resources: %w", err)
		}
	}
	if t := parseNullableTime(heartbeat); t != nil {
		rec.LastHeartbeatAt = *t
	}
	if t := parseNullableTime(assigned); t != nil {
		rec.LastAssignedAt = *t
	}

	return &rec, nil
}
