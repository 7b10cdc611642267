package orchestrator

import (
	"errors"

	"github.com/ShayCichocki/convoy/pkg/models"
)

// ErrNoEligibleAgent indicates no online, capable agent exists for a task.
// This is a capacity condition, not a failure: the task stays queued and is
// retried on the next scheduling pass up to the retry bound.
var ErrNoEligibleAgent = errors.New("no eligible agent")

// Router selects the agent for a ready task. Scoring is deterministic: for
// a fixed fleet snapshot the same task always routes to the same agent.
type Router struct{}

// Route picks the best eligible agent for workType. Candidates are scored
// on performance history, resource headroom, and a busy penalty baked into
// eligibility; the highest score wins and ties break to the agent assigned
// least recently.
func (Router) Route(workType string, candidates []*models.AgentRecord) (*models.AgentRecord, error) {
	var best *models.AgentRecord
	var bestScore float64

	for _, rec := range candidates {
		if rec.Status != models.AgentStatusOnline || !rec.CanExecute(workType) {
			continue
		}

		score := scoreAgent(rec)
		switch {
		case best == nil, score > bestScore:
			best, bestScore = rec, score
		case score == bestScore && rec.LastAssignedAt.Before(best.LastAssignedAt):
			best = rec
		}
	}

	if best == nil {
		return nil, ErrNoEligibleAgent
	}
	return best, nil
}

// scoreAgent weighs the rolling performance score against current resource
// headroom. Both terms are in [0,1]; performance dominates slightly so a
// flaky idle agent does not beat a reliable moderately loaded one.
func scoreAgent(rec *models.AgentRecord) float64 {
	return rec.PerformanceScore*0.6 + rec.Resources.CapacityFraction()*0.4
}
