package roster

import (
	"context"
	"testing"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

func contractsPayload(contracts []map[string]interface{}) agent.Message {
	return agent.Message{
		Action:  "detect_anomalies",
		Payload: map[string]interface{}{"contracts": contracts},
	}
}

func resultFindings(t *testing.T, resp *agent.Response) []agent.Finding {
	t.Helper()
	findings, ok := resp.Result["findings"].([]agent.Finding)
	if !ok {
		t.Fatalf("findings have type %T", resp.Result["findings"])
	}
	return findings
}

func findingsOfType(findings []agent.Finding, typ string) []agent.Finding {
	var out []agent.Finding
	for _, f := range findings {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestAnomalyValueOutlier(t *testing.T) {
	a := NewAnomalyAgent()

	// Ten ordinary contracts plus one an order of magnitude above; with a
	// small sample a single extreme cannot clear 2.5 standard deviations.
	contracts := []map[string]interface{}{
		{"id": "c1", "valor": 100.0}, {"id": "c2", "valor": 110.0},
		{"id": "c3", "valor": 95.0}, {"id": "c4", "valor": 105.0},
		{"id": "c5", "valor": 98.0}, {"id": "c6", "valor": 102.0},
		{"id": "c7", "valor": 97.0}, {"id": "c8", "valor": 103.0},
		{"id": "c9", "valor": 99.0}, {"id": "c10", "valor": 101.0},
		{"id": "c11", "valor": 10000.0},
	}
	resp, err := a.Process(context.Background(), contractsPayload(contracts), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	outliers := findingsOfType(resultFindings(t, resp), "value_outlier")
	if len(outliers) != 1 {
		t.Fatalf("outliers = %d, want 1", len(outliers))
	}
	f := outliers[0]
	if f.Data["contract_id"] != "c11" {
		t.Errorf("flagged contract = %v, want c11", f.Data["contract_id"])
	}
	if f.AnomalyScore <= 0.5 || f.AnomalyScore > 1.0 {
		t.Errorf("score = %v, want (0.5, 1.0]", f.AnomalyScore)
	}
	if len(f.Indicators) == 0 || len(f.Recommendations) == 0 {
		t.Error("finding missing indicators or recommendations")
	}
}

func TestAnomalyNoOutliersInUniformBatch(t *testing.T) {
	a := NewAnomalyAgent()

	contracts := []map[string]interface{}{
		{"id": "c1", "valor": 100.0},
		{"id": "c2", "valor": 100.0},
		{"id": "c3", "valor": 100.0},
	}
	resp, err := a.Process(context.Background(), contractsPayload(contracts), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := resultFindings(t, resp); len(got) != 0 {
		t.Errorf("findings = %v, want none for zero variance", got)
	}
}

func TestAnomalySmallBatchSkipsStatistics(t *testing.T) {
	a := NewAnomalyAgent()

	// Two records are not enough for a meaningful z-score.
	contracts := []map[string]interface{}{
		{"id": "c1", "valor": 100.0},
		{"id": "c2", "valor": 100000.0},
	}
	resp, _ := a.Process(context.Background(), contractsPayload(contracts), nil)
	if outliers := findingsOfType(resultFindings(t, resp), "value_outlier"); len(outliers) != 0 {
		t.Errorf("outliers = %d on a 2-record batch, want 0", len(outliers))
	}
}

func TestAnomalyProcurementFlags(t *testing.T) {
	a := NewAnomalyAgent()

	contracts := []map[string]interface{}{
		{"id": "c1", "modalidadeLicitacao": "Dispensa de Licitação", "numeroProponentes": 1.0},
		{"id": "c2", "modalidadeLicitacao": "Pregão Eletrônico", "numeroProponentes": 7.0},
		{"id": "c3", "modalidadeLicitacao": "INEXIGIBILIDADE"},
	}
	resp, err := a.Process(context.Background(), contractsPayload(contracts), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	findings := resultFindings(t, resp)

	noBid := findingsOfType(findings, "no_bid_award")
	if len(noBid) != 2 {
		t.Errorf("no_bid_award findings = %d, want 2 (dispensa and inexigibilidade)", len(noBid))
	}
	for _, f := range noBid {
		if f.AnomalyScore != 0.7 {
			t.Errorf("no_bid_award score = %v, want 0.7", f.AnomalyScore)
		}
	}

	single := findingsOfType(findings, "single_bidder")
	if len(single) != 1 {
		t.Fatalf("single_bidder findings = %d, want 1", len(single))
	}
	if single[0].AnomalyScore != 0.6 || single[0].Data["contract_id"] != "c1" {
		t.Errorf("single_bidder finding = %+v", single[0])
	}
}

func TestAnomalyThresholdParameter(t *testing.T) {
	a := NewAnomalyAgent()

	contracts := []map[string]interface{}{
		{"id": "c1", "valor": 100.0},
		{"id": "c2", "valor": 120.0},
		{"id": "c3", "valor": 80.0},
		{"id": "c4", "valor": 200.0},
	}

	strict, _ := a.Process(context.Background(), contractsPayload(contracts), nil)
	loose, _ := a.Process(context.Background(), agent.Message{
		Action: "detect_anomalies",
		Payload: map[string]interface{}{
			"contracts": contracts,
			"threshold": 1.0,
		},
	}, nil)

	strictOutliers := findingsOfType(resultFindings(t, strict), "value_outlier")
	looseOutliers := findingsOfType(resultFindings(t, loose), "value_outlier")
	if len(looseOutliers) <= len(strictOutliers) {
		t.Errorf("loose threshold found %d outliers, strict found %d; want more with the loose one",
			len(looseOutliers), len(strictOutliers))
	}
}

func TestAnomalyReflect(t *testing.T) {
	a := NewAnomalyAgent()

	empty, err := a.Reflect(context.Background(), map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if empty.QualityScore != 0.5 || len(empty.Issues) == 0 || len(empty.Suggestions) == 0 {
		t.Errorf("empty reflection = %+v", empty)
	}

	full, _ := a.Reflect(context.Background(), map[string]interface{}{
		"findings": []agent.Finding{{Type: "value_outlier", AnomalyScore: 0.8}},
	}, nil)
	if full.QualityScore != 1.0 || len(full.Issues) != 0 {
		t.Errorf("full reflection = %+v", full)
	}
}
