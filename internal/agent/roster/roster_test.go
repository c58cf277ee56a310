package roster

import (
	"context"
	"strings"
	"testing"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

func TestRegisterAll(t *testing.T) {
	reg := agent.NewRegistry()
	RegisterAll(reg)

	for _, name := range []string{
		AnomalyDetector, PatternAnalyst, RegionalAnalyst,
		PolicyAnalyst, Reporter, DataAggregator,
	} {
		factory, err := reg.Factory(name)
		if err != nil {
			t.Errorf("agent %q not registered: %v", name, err)
			continue
		}
		inst := factory()
		if inst.Name() != name {
			t.Errorf("agent %q reports name %q", name, inst.Name())
		}
		if inst.Description() == "" || len(inst.Capabilities()) == 0 {
			t.Errorf("agent %q missing description or capabilities", name)
		}
	}
}

func TestPatternSupplierConcentration(t *testing.T) {
	a := NewPatternAgent()

	contracts := []map[string]interface{}{
		{"fornecedor": "Empresa A"},
		{"fornecedor": "Empresa A"},
		{"fornecedor": "Empresa A"},
		{"fornecedor": "Empresa B"},
	}
	resp, err := a.Process(context.Background(), contractsPayload(contracts), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	findings := resultFindings(t, resp)
	conc := findingsOfType(findings, "supplier_concentration")
	if len(conc) != 1 {
		t.Fatalf("concentration findings = %d, want 1", len(conc))
	}
	if !strings.Contains(conc[0].Description, "Empresa A") {
		t.Errorf("finding = %q, want the dominant supplier named", conc[0].Description)
	}
	if resp.Result["suppliers_seen"] != 2 {
		t.Errorf("suppliers_seen = %v, want 2", resp.Result["suppliers_seen"])
	}
}

func TestPatternSmallSampleNoFlag(t *testing.T) {
	a := NewPatternAgent()

	// Three contracts are below the minimum sample for concentration.
	contracts := []map[string]interface{}{
		{"fornecedor": "Empresa A"},
		{"fornecedor": "Empresa A"},
		{"fornecedor": "Empresa A"},
	}
	resp, _ := a.Process(context.Background(), contractsPayload(contracts), nil)
	if got := resultFindings(t, resp); len(got) != 0 {
		t.Errorf("findings = %v on a 3-record sample, want none", got)
	}
}

func TestRegionalConcentration(t *testing.T) {
	a := NewRegionalAgent()

	contracts := []map[string]interface{}{
		{"orgao": "Ministério X", "valor": 9_000_000.0},
		{"orgao": "Secretaria Y", "valor": 1_000_000.0},
	}
	resp, err := a.Process(context.Background(), contractsPayload(contracts), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := resp.Result["geographic_concentration"]; got != 0.9 {
		t.Errorf("concentration = %v, want 0.9", got)
	}
	findings := findingsOfType(resultFindings(t, resp), "geographic_concentration")
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1 above the 70%% line", len(findings))
	}
	if !strings.Contains(findings[0].Description, "Ministério X") {
		t.Errorf("finding = %q", findings[0].Description)
	}
}

func TestAggregatorSortsAndDedupes(t *testing.T) {
	a := NewAggregatorAgent()

	resp, err := a.Process(context.Background(), agent.Message{
		Action: "merge_findings",
		Payload: map[string]interface{}{
			"findings": []agent.Finding{
				{Type: "low", AnomalyScore: 0.2},
				{Type: "high", AnomalyScore: 0.9},
				{Type: "mid", AnomalyScore: 0.5},
			},
			"sources": []string{"portal_transparencia", "siafi", "portal_transparencia"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	findings := resultFindings(t, resp)
	if len(findings) != 3 || findings[0].Type != "high" || findings[2].Type != "low" {
		t.Errorf("findings order = %v, want descending by score", findings)
	}
	sources, _ := resp.Result["sources"].([]string)
	if len(sources) != 2 {
		t.Errorf("sources = %v, want deduplicated", sources)
	}
}

func TestReporterRendersFindings(t *testing.T) {
	a := NewReporterAgent()

	resp, err := a.Process(context.Background(), agent.Message{
		Action: "generate_report",
		Payload: map[string]interface{}{
			"query": "contratos do órgão X",
			"findings": []agent.Finding{{
				Type:            "no_bid_award",
				Description:     "contratação direta",
				AnomalyScore:    0.7,
				Recommendations: []string{"verificar justificativa"},
			}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	report, _ := resp.Result["report"].(string)
	for _, want := range []string{
		"# Relatório de Investigação",
		"contratos do órgão X",
		"no_bid_award",
		"0.70",
		"verificar justificativa",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestReporterEmptyFindings(t *testing.T) {
	a := NewReporterAgent()

	resp, _ := a.Process(context.Background(), agent.Message{
		Action:  "generate_report",
		Payload: map[string]interface{}{},
	}, nil)
	report, _ := resp.Result["report"].(string)
	if !strings.Contains(report, "Nenhuma irregularidade") {
		t.Errorf("empty report = %q", report)
	}
}
