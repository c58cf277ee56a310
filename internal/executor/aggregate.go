package executor

import (
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

// Aggregate is the summary of a batch of parallel results.
type Aggregate struct {
	Total              int
	Successful         int
	Failed             int
	TotalExecutionTime time.Duration
	ResultsByAgent     map[string][]Result
	Items              []interface{} // concatenated payload field across successes
}

// AggregateResults summarises results, concatenating the named field from
// each successful response payload. The field may hold a list or a scalar;
// the default key is "findings".
func AggregateResults(results []Result, key string) Aggregate {
	if key == "" {
		key = "findings"
	}

	agg := Aggregate{
		ResultsByAgent: make(map[string][]Result),
		Items:          []interface{}{},
	}

	for _, res := range results {
		agg.Total++
		agg.TotalExecutionTime += res.ExecutionTime
		agg.ResultsByAgent[res.AgentName] = append(agg.ResultsByAgent[res.AgentName], res)

		if !res.Success {
			agg.Failed++
			continue
		}
		agg.Successful++

		if res.Response == nil || res.Response.Result == nil {
			continue
		}
		raw, ok := res.Response.Result[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case []interface{}:
			agg.Items = append(agg.Items, v...)
		default:
			agg.Items = append(agg.Items, appendAny(v)...)
		}
	}

	return agg
}

// appendAny normalises a scalar or typed slice into []interface{}.
func appendAny(v interface{}) []interface{} {
	switch items := v.(type) {
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(items))
		for i, m := range items {
			out[i] = m
		}
		return out
	case []agent.Finding:
		out := make([]interface{}, len(items))
		for i, f := range items {
			out[i] = f
		}
		return out
	default:
		return []interface{}{v}
	}
}
