// Package roster contains the built-in specialist agents. Detection here is
// deliberately rule-based; each agent satisfies the agent.Agent contract and
// is addressed by name through the registry.
package roster

import (
	"context"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

// Registered agent names. Plan steps address agents by these strings.
const (
	AnomalyDetector = "anomaly_detector"
	PatternAnalyst  = "pattern_analyst"
	RegionalAnalyst = "regional_analyst"
	PolicyAnalyst   = "policy_analyst"
	Reporter        = "reporter"
	DataAggregator  = "data_aggregator"
)

// RegisterAll installs every built-in specialist into the registry.
func RegisterAll(reg *agent.Registry) {
	reg.Register(AnomalyDetector, func() agent.Agent { return NewAnomalyAgent() })
	reg.Register(PatternAnalyst, func() agent.Agent { return NewPatternAgent() })
	reg.Register(RegionalAnalyst, func() agent.Agent { return NewRegionalAgent() })
	reg.Register(PolicyAnalyst, func() agent.Agent { return NewPolicyAgent() })
	reg.Register(Reporter, func() agent.Agent { return NewReporterAgent() })
	reg.Register(DataAggregator, func() agent.Agent { return NewAggregatorAgent() })
}

// baseAgent carries the static attributes and no-op lifecycle shared by all
// built-in specialists.
type baseAgent struct {
	name         string
	description  string
	capabilities []string
}

func (b *baseAgent) Name() string           { return b.name }
func (b *baseAgent) Description() string    { return b.description }
func (b *baseAgent) Capabilities() []string { return b.capabilities }

func (b *baseAgent) Initialize(ctx context.Context) error { return nil }
func (b *baseAgent) Shutdown(ctx context.Context) error   { return nil }

// payloadContracts extracts the contract records carried in a message
// payload. Accepts []map[string]interface{} or []interface{} of maps.
func payloadContracts(payload map[string]interface{}) []map[string]interface{} {
	raw, ok := payload["contracts"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []map[string]interface{}:
		return v
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// payloadFindings extracts upstream findings from a message payload.
func payloadFindings(payload map[string]interface{}) []agent.Finding {
	raw, ok := payload["findings"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []agent.Finding:
		return v
	case []interface{}:
		var out []agent.Finding
		for _, item := range v {
			if f, ok := item.(agent.Finding); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// contractValue reads the monetary value of a contract record, trying the
// field names the transparency API actually uses.
func contractValue(c map[string]interface{}) float64 {
	for _, key := range []string{"valor", "valorInicial", "valorGlobal"} {
		if v, ok := c[key]; ok {
			switch n := v.(type) {
			case float64:
				return n
			case int:
				return float64(n)
			case int64:
				return float64(n)
			}
		}
	}
	return 0
}

func contractString(c map[string]interface{}, key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
