package models

import "time"

// AgentStatus represents the current state of an agent in the fleet.
type AgentStatus string

const (
	// AgentStatusOnline indicates the agent is connected and accepting work.
	AgentStatusOnline AgentStatus = "online"
	// AgentStatusBusy indicates the agent is executing a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusOffline indicates the agent missed its heartbeat window.
	AgentStatusOffline AgentStatus = "offline"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusOnline, AgentStatusBusy, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// ResourceSnapshot holds the metrics an agent reports with each heartbeat.
type ResourceSnapshot struct {
	// CPUPct is the current CPU utilization in percent.
	CPUPct float64 `json:"cpu_pct"`
	// MemPct is the current memory utilization in percent.
	MemPct float64 `json:"mem_pct"`
	// GPUVRAMAvailableMB is the free GPU memory in megabytes.
	GPUVRAMAvailableMB int64 `json:"gpu_vram_available"`
	// GPUVRAMTotalMB is the total GPU memory in megabytes.
	GPUVRAMTotalMB int64 `json:"gpu_vram_total"`
}

// CapacityFraction returns the agent's free capacity as a fraction in [0, 1].
// It is the headroom on the scarcer of CPU and memory.
func (r ResourceSnapshot) CapacityFraction() float64 {
	used := r.CPUPct
	if r.MemPct > used {
		used = r.MemPct
	}
	if used > 100 {
		used = 100
	}
	if used < 0 {
		used = 0
	}
	return (100 - used) / 100
}

// AgentRecord is the orchestrator's view of one fleet agent.
// It is mutated only by the heartbeat handler; offline transitions are
// driven by missed-heartbeat timing, never self-asserted by the agent.
type AgentRecord struct {
	// AgentID is the unique identifier for this agent.
	AgentID string `json:"agent_id"`
	// AgentType describes the kind of worker (e.g. "general", "gpu").
	AgentType string `json:"agent_type"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// Capabilities is the set of work types this agent can execute.
	Capabilities []string `json:"capabilities"`
	// Resources is the most recent heartbeat metric snapshot.
	Resources ResourceSnapshot `json:"resources"`
	// CurrentTaskID is the task the agent reported working on, if any.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// LastHeartbeatAt is when the last heartbeat arrived.
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	// LastAssignedAt is when work was last routed to this agent.
	LastAssignedAt time.Time `json:"last_assigned_at,omitempty"`
	// PerformanceScore is the rolling success score used by the router.
	PerformanceScore float64 `json:"performance_score"`
}

// CanExecute returns true if the agent's capability set includes workType.
func (a *AgentRecord) CanExecute(workType string) bool {
	for _, c := range a.Capabilities {
		if c == workType {
			return true
		}
	}
	return false
}
