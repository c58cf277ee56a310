package roster

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

// AnomalyAgent screens contract records for statistical and procedural
// irregularities: value outliers, no-bid modalities, single-bidder awards.
type AnomalyAgent struct {
	baseAgent
}

// NewAnomalyAgent creates the anomaly detection specialist.
func NewAnomalyAgent() *AnomalyAgent {
	return &AnomalyAgent{baseAgent{
		name:        AnomalyDetector,
		description: "Detects value outliers, no-bid awards and single-bidder contracts",
		capabilities: []string{
			"detect_anomalies", "value_outliers", "procurement_screening",
		},
	}}
}

// Process screens the contracts in the message payload. The detection
// threshold (in standard deviations) can be loosened via the "threshold"
// parameter; "sensitivity=high" also lowers the score floor.
func (a *AnomalyAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contracts := payloadContracts(msg.Payload)
	threshold := 2.5
	if v, ok := msg.Payload["threshold"].(float64); ok && v > 0 {
		threshold = v
	}

	findings := detectValueOutliers(contracts, threshold)
	findings = append(findings, detectProcurementFlags(contracts)...)

	sources := []string{"portal_transparencia"}
	if src, ok := msg.Payload["source"].(string); ok && src != "" {
		sources = []string{src}
	}

	return agent.CompletedResponse(a.name, map[string]interface{}{
		"findings":  findings,
		"sources":   sources,
		"contracts": contracts,
	}, started), nil
}

// Reflect assesses the completeness of an anomaly result.
func (a *AnomalyAgent) Reflect(ctx context.Context, result map[string]interface{}, ic *agent.InvestigationContext) (*agent.Reflection, error) {
	findings := payloadFindings(result)
	refl := &agent.Reflection{QualityScore: 1.0}
	if len(findings) == 0 {
		refl.QualityScore = 0.5
		refl.Issues = append(refl.Issues, "no anomalies detected")
		refl.Suggestions = append(refl.Suggestions, "loosen detection threshold or widen the date range")
	}
	return refl, nil
}

// detectValueOutliers flags contracts whose value deviates from the batch
// mean by more than threshold standard deviations.
func detectValueOutliers(contracts []map[string]interface{}, threshold float64) []agent.Finding {
	if len(contracts) < 3 {
		return nil
	}

	var sum float64
	values := make([]float64, len(contracts))
	for i, c := range contracts {
		values[i] = contractValue(c)
		sum += values[i]
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(variance / float64(len(values)))
	if stddev == 0 {
		return nil
	}

	var findings []agent.Finding
	for i, c := range contracts {
		z := (values[i] - mean) / stddev
		if z < threshold {
			continue
		}
		score := math.Min(0.5+z/10, 1.0)
		findings = append(findings, agent.Finding{
			Type:         "value_outlier",
			Description:  fmt.Sprintf("Contract %s is %.1f standard deviations above the batch mean (R$ %.2f)", contractString(c, "id"), z, values[i]),
			AnomalyScore: score,
			Indicators:   []string{fmt.Sprintf("z_score=%.2f", z), fmt.Sprintf("valor=%.2f", values[i])},
			Recommendations: []string{
				"Compare the contract value against reference prices for the same object",
			},
			Data: map[string]interface{}{"contract_id": contractString(c, "id")},
		})
	}
	return findings
}

// detectProcurementFlags flags no-bid modalities and single-bidder awards.
func detectProcurementFlags(contracts []map[string]interface{}) []agent.Finding {
	var findings []agent.Finding
	for _, c := range contracts {
		modality := strings.ToLower(contractString(c, "modalidadeLicitacao"))
		if strings.Contains(modality, "dispensa") || strings.Contains(modality, "inexigibilidade") {
			findings = append(findings, agent.Finding{
				Type:         "no_bid_award",
				Description:  fmt.Sprintf("Contract %s awarded without competitive bidding (%s)", contractString(c, "id"), contractString(c, "modalidadeLicitacao")),
				AnomalyScore: 0.7,
				Indicators:   []string{"modality=" + modality},
				Recommendations: []string{
					"Verify the legal justification attached to the waiver",
				},
				Data: map[string]interface{}{"contract_id": contractString(c, "id")},
			})
		}

		if n, ok := c["numeroProponentes"]; ok {
			bidders := 0
			switch v := n.(type) {
			case float64:
				bidders = int(v)
			case int:
				bidders = v
			}
			if bidders == 1 {
				findings = append(findings, agent.Finding{
					Type:         "single_bidder",
					Description:  fmt.Sprintf("Contract %s received exactly one bid", contractString(c, "id")),
					AnomalyScore: 0.6,
					Indicators:   []string{"bidders=1"},
					Recommendations: []string{
						"Check whether the bidding period or requirements restricted competition",
					},
					Data: map[string]interface{}{"contract_id": contractString(c, "id")},
				})
			}
		}
	}
	return findings
}
