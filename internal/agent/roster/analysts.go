package roster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

// PatternAgent looks for supplier concentration and repetition across the
// contracts and upstream anomaly findings.
type PatternAgent struct {
	baseAgent
}

// NewPatternAgent creates the pattern analysis specialist.
func NewPatternAgent() *PatternAgent {
	return &PatternAgent{baseAgent{
		name:         PatternAnalyst,
		description:  "Correlates anomalies across suppliers and time",
		capabilities: []string{"supplier_concentration", "temporal_patterns"},
	}}
}

// Process groups contracts by supplier and flags concentration above 50%.
func (a *PatternAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contracts := payloadContracts(msg.Payload)
	bySupplier := make(map[string]int)
	for _, c := range contracts {
		supplier := contractString(c, "fornecedor")
		if supplier == "" {
			supplier = contractString(c, "nomeFornecedor")
		}
		if supplier != "" {
			bySupplier[supplier]++
		}
	}

	var findings []agent.Finding
	total := len(contracts)
	for supplier, count := range bySupplier {
		if total >= 4 && count*2 > total {
			findings = append(findings, agent.Finding{
				Type:         "supplier_concentration",
				Description:  fmt.Sprintf("Supplier %q holds %d of %d contracts in the sample", supplier, count, total),
				AnomalyScore: 0.65,
				Indicators:   []string{fmt.Sprintf("share=%.2f", float64(count)/float64(total))},
				Recommendations: []string{
					"Cross-check the supplier against partner and ownership records",
				},
			})
		}
	}

	return agent.CompletedResponse(a.name, map[string]interface{}{
		"findings":       findings,
		"sources":        []string{"portal_transparencia"},
		"suppliers_seen": len(bySupplier),
	}, started), nil
}

// RegionalAgent aggregates spending by organisation/region and measures
// geographic concentration.
type RegionalAgent struct {
	baseAgent
}

// NewRegionalAgent creates the regional analysis specialist.
func NewRegionalAgent() *RegionalAgent {
	return &RegionalAgent{baseAgent{
		name:         RegionalAnalyst,
		description:  "Breaks spending down by organisation and region",
		capabilities: []string{"regional_breakdown", "geographic_concentration"},
	}}
}

// Process computes the share of total value held by the top organisation.
func (a *RegionalAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contracts := payloadContracts(msg.Payload)
	byOrg := make(map[string]float64)
	var total float64
	for _, c := range contracts {
		org := contractString(c, "orgao")
		if org == "" {
			org = contractString(c, "nomeOrgao")
		}
		v := contractValue(c)
		byOrg[org] += v
		total += v
	}

	concentration := 0.0
	topOrg := ""
	for org, v := range byOrg {
		if total > 0 && v/total > concentration {
			concentration = v / total
			topOrg = org
		}
	}

	var findings []agent.Finding
	if concentration > 0.7 && len(byOrg) > 1 {
		findings = append(findings, agent.Finding{
			Type:         "geographic_concentration",
			Description:  fmt.Sprintf("Organisation %q concentrates %.0f%% of the sampled spending", topOrg, concentration*100),
			AnomalyScore: 0.55,
			Indicators:   []string{fmt.Sprintf("concentration=%.2f", concentration)},
		})
	}

	return agent.CompletedResponse(a.name, map[string]interface{}{
		"findings":                 findings,
		"sources":                  []string{"portal_transparencia", "ibge"},
		"geographic_concentration": concentration,
	}, started), nil
}

// PolicyAgent produces a coarse effectiveness read of the sampled spending.
type PolicyAgent struct {
	baseAgent
}

// NewPolicyAgent creates the policy analysis specialist.
func NewPolicyAgent() *PolicyAgent {
	return &PolicyAgent{baseAgent{
		name:         PolicyAnalyst,
		description:  "Assesses spending against program objectives",
		capabilities: []string{"policy_effectiveness", "spending_review"},
	}}
}

// Process summarises total and mean spending per program object.
func (a *PolicyAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contracts := payloadContracts(msg.Payload)
	var total float64
	for _, c := range contracts {
		total += contractValue(c)
	}

	var findings []agent.Finding
	if len(contracts) > 0 {
		mean := total / float64(len(contracts))
		findings = append(findings, agent.Finding{
			Type:        "spending_profile",
			Description: fmt.Sprintf("Sample covers %d contracts totalling R$ %.2f (mean R$ %.2f)", len(contracts), total, mean),
			Data:        map[string]interface{}{"total": total, "mean": mean},
		})
	}

	return agent.CompletedResponse(a.name, map[string]interface{}{
		"findings": findings,
		"sources":  []string{"portal_transparencia", "siafi"},
	}, started), nil
}

// AggregatorAgent merges upstream findings and deduplicates sources.
type AggregatorAgent struct {
	baseAgent
}

// NewAggregatorAgent creates the data aggregation specialist.
func NewAggregatorAgent() *AggregatorAgent {
	return &AggregatorAgent{baseAgent{
		name:         DataAggregator,
		description:  "Merges findings from upstream specialists",
		capabilities: []string{"merge_findings", "dedup_sources"},
	}}
}

// Process passes upstream findings through, sorted by score descending,
// with sources deduplicated.
func (a *AggregatorAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := payloadFindings(msg.Payload)
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].AnomalyScore > findings[j].AnomalyScore
	})

	seen := make(map[string]bool)
	var sources []string
	if raw, ok := msg.Payload["sources"].([]string); ok {
		for _, s := range raw {
			if !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}

	return agent.CompletedResponse(a.name, map[string]interface{}{
		"findings": findings,
		"sources":  sources,
	}, started), nil
}
