package orchestrator

import (
	"testing"
)

func TestDependencyGroupsSoundness(t *testing.T) {
	plans := []*Plan{
		NewPlanner().GeneratePlan("Detectar contratos suspeitos no Nordeste e gerar relatório"),
		NewPlanner().GeneratePlan("anomalias em contratos"),
		{Steps: []PlanStep{
			{AgentName: "a"},
			{AgentName: "b"},
			{AgentName: "c", DependsOn: []string{"a"}},
			{AgentName: "a", DependsOn: []string{"b"}},
			{AgentName: "d", DependsOn: []string{"c", "a"}},
		}},
	}

	for pi, plan := range plans {
		groups := plan.DependencyGroups()

		// No group may contain two steps for one agent, or a step whose
		// dependency appears earlier in the same group.
		for gi, group := range groups {
			agents := make(map[string]bool)
			for _, step := range group {
				if agents[step.AgentName] {
					t.Errorf("plan %d group %d: agent %q appears twice", pi, gi, step.AgentName)
				}
				for _, dep := range step.DependsOn {
					if agents[dep] {
						t.Errorf("plan %d group %d: step %q depends on %q in the same group", pi, gi, step.AgentName, dep)
					}
				}
				agents[step.AgentName] = true
			}
		}

		// Flattening preserves the original order.
		var flat []PlanStep
		for _, group := range groups {
			flat = append(flat, group...)
		}
		if len(flat) != len(plan.Steps) {
			t.Fatalf("plan %d: flattened %d steps, want %d", pi, len(flat), len(plan.Steps))
		}
		for i := range flat {
			if flat[i].AgentName != plan.Steps[i].AgentName || flat[i].Action != plan.Steps[i].Action {
				t.Errorf("plan %d: flattened step %d = %v, want %v", pi, i, flat[i], plan.Steps[i])
			}
		}
	}
}

func TestPlanClone(t *testing.T) {
	original := NewPlanner().GeneratePlan("contratos suspeitos com relatório")
	original.Steps[0].Parameters = map[string]interface{}{"threshold": 2.5}

	clone := original.Clone()
	clone.Steps[0].Parameters["threshold"] = 1.0
	clone.Steps[0].AgentName = "mutated"
	clone.RequiredAgents[0] = "mutated"

	if original.Steps[0].AgentName == "mutated" {
		t.Error("clone shares step backing array with original")
	}
	if original.Steps[0].Parameters["threshold"] != 2.5 {
		t.Error("clone shares parameter map with original")
	}
	if original.RequiredAgents[0] == "mutated" {
		t.Error("clone shares required_agents with original")
	}
}

func TestAddStepsRefreshesAgents(t *testing.T) {
	plan := NewPlanner().GeneratePlan("xyz")
	before := len(plan.Steps)

	plan.AddSteps([]PlanStep{
		{AgentName: "new_agent", Action: "act"},
		{AgentName: plan.Steps[0].AgentName, Action: "again"},
	})

	if len(plan.Steps) != before+2 {
		t.Fatalf("steps = %d, want %d", len(plan.Steps), before+2)
	}
	if !containsAll(plan.RequiredAgents, []string{"new_agent"}) {
		t.Errorf("required_agents = %v, missing new_agent", plan.RequiredAgents)
	}
	if plan.EstimatedTimeSeconds != 30+15*len(plan.Steps) {
		t.Errorf("estimated time not refreshed: %d", plan.EstimatedTimeSeconds)
	}
}
