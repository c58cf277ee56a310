package orchestrator

import (
	"fmt"
	"strings"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent/roster"
)

// Planner turns a free-text query into an investigation plan using keyword
// classes over the lowercased text. Planning is rule-based and pure.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Keyword classes. Queries arrive in Portuguese or English.
var (
	anomalyKeywords = []string{
		"anomalia", "anomaly", "irregularidade", "irregularity", "irregular",
		"contrato", "contract", "licitacao", "licitação", "bidding",
		"suspeito", "suspicious", "fraude", "fraud", "superfaturamento",
		"dispensa", "inexigibilidade",
	}
	policyKeywords = []string{
		"politica", "política", "policy", "efetividade", "effectiveness",
		"impacto", "impact", "programa", "program",
	}
	regionalKeywords = []string{
		"regiao", "região", "region", "estado", "state", "municipio",
		"município", "municipality", "geografic", "geographic",
		"nordeste", "norte", "sul", "sudeste", "centro-oeste",
	}
	reportKeywords = []string{
		"relatorio", "relatório", "report", "resumo", "summary",
		"documento", "document",
	}
)

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// GeneratePlan builds the plan for a query. The dependency graph it emits
// is always a DAG: every depends_on names the agent of an earlier step.
func (p *Planner) GeneratePlan(query string) *Plan {
	text := strings.ToLower(query)

	wantsAnomaly := containsAny(text, anomalyKeywords)
	wantsPolicy := containsAny(text, policyKeywords)
	wantsRegional := containsAny(text, regionalKeywords)
	wantsReport := containsAny(text, reportKeywords)

	var steps []PlanStep
	if wantsAnomaly {
		steps = append(steps, PlanStep{
			AgentName: roster.AnomalyDetector,
			Action:    "detect_anomalies",
		})
	}
	if wantsPolicy {
		steps = append(steps, PlanStep{
			AgentName: roster.PolicyAnalyst,
			Action:    "analyze_policy",
		})
	}
	if wantsRegional {
		steps = append(steps, PlanStep{
			AgentName: roster.RegionalAnalyst,
			Action:    "analyze_region",
		})
	}

	// No keyword class matched: fall back to a single anomaly scan.
	if len(steps) == 0 && !wantsReport {
		steps = append(steps, PlanStep{
			AgentName: roster.AnomalyDetector,
			Action:    "detect_anomalies",
		})
		return p.finishPlan(query, steps, false)
	}

	if wantsAnomaly {
		steps = append(steps, PlanStep{
			AgentName: roster.PatternAnalyst,
			Action:    "analyze_patterns",
			DependsOn: []string{roster.AnomalyDetector},
		})
	}

	if wantsRegional || len(steps) >= 3 {
		steps = append(steps, PlanStep{
			AgentName: roster.DataAggregator,
			Action:    "aggregate",
			DependsOn: stepAgents(steps),
		})
	}

	if wantsReport || len(steps) >= 2 {
		steps = append(steps, PlanStep{
			AgentName: roster.Reporter,
			Action:    "generate_report",
			DependsOn: stepAgents(steps),
		})
	}

	return p.finishPlan(query, steps, wantsAnomaly)
}

func (p *Planner) finishPlan(query string, steps []PlanStep, anomalyPath bool) *Plan {
	minConfidence := 0.70
	if anomalyPath {
		minConfidence = 0.75
	}

	agents := distinctAgents(steps)
	minSources := 1
	if len(agents) > 1 {
		minSources = 2
	}

	return &Plan{
		Objective:            fmt.Sprintf("Investigate: %s", query),
		Steps:                steps,
		RequiredAgents:       agents,
		EstimatedTimeSeconds: 30 + 15*len(steps),
		Quality: QualityCriteria{
			MinConfidence: minConfidence,
			MinFindings:   1,
			MinSources:    minSources,
		},
		FallbackStrategies: []string{"loosen_threshold", "diversify_sources"},
	}
}

// stepAgents returns the distinct agent names already planned, in order.
func stepAgents(steps []PlanStep) []string {
	return distinctAgents(steps)
}
