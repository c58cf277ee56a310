package orchestrator

import (
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent/roster"
)

// Adaptation describes how the strategy changed in response to weak
// intermediate results.
type Adaptation struct {
	Status   string             `json:"status"` // adapted, unchanged, error
	Changes  []string           `json:"changes,omitempty"`
	NewSteps []PlanStep         `json:"new_steps,omitempty"`
	Metrics  map[string]float64 `json:"metrics"`
}

// AdaptStrategy evaluates the current aggregated results of a running
// investigation and emits corrective steps. Unknown ids yield status
// "error".
func (o *Orchestrator) AdaptStrategy(id, query string, current *Result) Adaptation {
	o.mu.RLock()
	run, ok := o.active[id]
	o.mu.RUnlock()
	if !ok {
		return Adaptation{Status: "error", Metrics: map[string]float64{}}
	}
	return o.adapt(run, query, current)
}

// adapt applies the rule table: each weak metric injects a corrective step.
// Injected steps are later union-merged into the live plan.
func (o *Orchestrator) adapt(run *activeRun, query string, current *Result) Adaptation {
	metrics := map[string]float64{
		"findings":   float64(len(current.Findings)),
		"sources":    float64(len(current.Sources)),
		"confidence": current.ConfidenceScore,
	}

	anomalyRate := 0.0
	if len(current.Findings) > 0 {
		flagged := 0
		for _, f := range current.Findings {
			if f.AnomalyScore >= 0.5 {
				flagged++
			}
		}
		anomalyRate = float64(flagged) / float64(len(current.Findings))
	}
	metrics["anomaly_rate"] = anomalyRate
	metrics["geographic_concentration"] = run.metrics["geographic_concentration"]

	var changes []string
	var steps []PlanStep

	if len(current.Findings) < run.quality.MinFindings {
		changes = append(changes, "loosen detection threshold")
		steps = append(steps, PlanStep{
			AgentName: roster.AnomalyDetector,
			Action:    "detect_anomalies",
			Parameters: map[string]interface{}{
				"sensitivity": "high",
				"threshold":   2.0,
			},
		})
	}

	if current.ConfidenceScore < run.quality.MinConfidence {
		changes = append(changes, "add pattern analysis")
		steps = append(steps, PlanStep{
			AgentName: roster.PatternAnalyst,
			Action:    "analyze_patterns",
			DependsOn: []string{roster.AnomalyDetector},
		})
	}

	if len(current.Sources) < run.quality.MinSources {
		changes = append(changes, "diversify data sources")
		steps = append(steps, PlanStep{
			AgentName: roster.RegionalAnalyst,
			Action:    "analyze_region",
		})
	}

	if anomalyRate > 0.3 {
		changes = append(changes, "deepen policy analysis")
		steps = append(steps, PlanStep{
			AgentName: roster.PolicyAnalyst,
			Action:    "analyze_policy",
		})
	}

	if run.metrics["geographic_concentration"] > 0.7 {
		changes = append(changes, "investigate regional inequality")
		steps = append(steps, PlanStep{
			AgentName: roster.RegionalAnalyst,
			Action:    "analyze_inequality",
			Parameters: map[string]interface{}{
				"focus": "inequality",
			},
		})
	}

	status := "unchanged"
	if len(steps) > 0 {
		status = "adapted"
	}
	return Adaptation{
		Status:   status,
		Changes:  changes,
		NewSteps: steps,
		Metrics:  metrics,
	}
}
