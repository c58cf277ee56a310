package orchestrator

// ReflectionReport is the orchestrator's own quality assessment of a
// finished investigation. Agents may additionally expose their own
// reflection capability; this one never requires it.
type ReflectionReport struct {
	QualityScore float64  `json:"quality_score"`
	Issues       []string `json:"issues,omitempty"`
}

// reflect scores a result: base 1.0 minus 0.2 per issue, plus small boosts
// for strong confidence and a substantive explanation, clamped to [0,1].
func (o *Orchestrator) reflect(result *Result) ReflectionReport {
	var issues []string
	if len(result.Findings) == 0 {
		issues = append(issues, "no findings")
	}
	if result.ConfidenceScore < 0.5 {
		issues = append(issues, "low confidence")
	}
	if len(result.Explanation) < 50 {
		issues = append(issues, "explanation too short")
	}
	if len(result.Sources) < 2 {
		issues = append(issues, "insufficient source diversity")
	}

	score := 1.0 - 0.2*float64(len(issues))
	if result.ConfidenceScore > 0.8 {
		score += 0.1
	}
	if len(result.Explanation) > 100 {
		score += 0.1
	}

	return ReflectionReport{
		QualityScore: clamp01(score),
		Issues:       issues,
	}
}
