package orchestrator

// PlanStep is one agent invocation in an investigation plan. Steps address
// agents by registry name; depends_on lists agent names of earlier steps.
type PlanStep struct {
	AgentName  string                 `json:"agent_name"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	DependsOn  []string               `json:"depends_on,omitempty"`
}

// QualityCriteria are the thresholds a finished investigation is judged by.
type QualityCriteria struct {
	MinConfidence float64 `json:"min_confidence"`
	MinFindings   int     `json:"min_findings"`
	MinSources    int     `json:"min_sources"`
}

// Plan is a full investigation strategy for one query.
type Plan struct {
	Objective            string          `json:"objective"`
	Steps                []PlanStep      `json:"steps"`
	RequiredAgents       []string        `json:"required_agents"`
	EstimatedTimeSeconds int             `json:"estimated_time_seconds"`
	Quality              QualityCriteria `json:"quality_criteria"`
	FallbackStrategies   []string        `json:"fallback_strategies,omitempty"`
}

// Clone returns a deep value copy of the plan, used for result snapshots.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.Steps = make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		cs := s
		cs.DependsOn = append([]string(nil), s.DependsOn...)
		if s.Parameters != nil {
			cs.Parameters = make(map[string]interface{}, len(s.Parameters))
			for k, v := range s.Parameters {
				cs.Parameters[k] = v
			}
		}
		cp.Steps[i] = cs
	}
	cp.RequiredAgents = append([]string(nil), p.RequiredAgents...)
	cp.FallbackStrategies = append([]string(nil), p.FallbackStrategies...)
	return &cp
}

// AddSteps union-merges new steps into the plan and refreshes the distinct
// required_agents list.
func (p *Plan) AddSteps(steps []PlanStep) {
	p.Steps = append(p.Steps, steps...)
	p.RequiredAgents = distinctAgents(p.Steps)
	p.EstimatedTimeSeconds = 30 + 15*len(p.Steps)
}

func distinctAgents(steps []PlanStep) []string {
	seen := make(map[string]bool)
	var agents []string
	for _, s := range steps {
		if !seen[s.AgentName] {
			seen[s.AgentName] = true
			agents = append(agents, s.AgentName)
		}
	}
	return agents
}

// DependencyGroups converts the plan's steps into an ordered sequence of
// groups safe for parallel execution. Iterating steps in order, a step
// joins the current group only when none of its dependencies and not its
// own agent have appeared in that group already; otherwise a new group
// starts. Dependencies satisfied by earlier groups do not split.
func (p *Plan) DependencyGroups() [][]PlanStep {
	var groups [][]PlanStep
	var current []PlanStep
	inCurrent := make(map[string]bool)

	for _, step := range p.Steps {
		conflict := inCurrent[step.AgentName]
		for _, dep := range step.DependsOn {
			if inCurrent[dep] {
				conflict = true
				break
			}
		}

		if conflict && len(current) > 0 {
			groups = append(groups, current)
			current = nil
			inCurrent = make(map[string]bool)
		}

		current = append(current, step)
		inCurrent[step.AgentName] = true
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
