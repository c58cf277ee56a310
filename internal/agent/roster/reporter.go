package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
)

// ReporterAgent renders the accumulated findings into a markdown summary.
type ReporterAgent struct {
	baseAgent
}

// NewReporterAgent creates the report generation specialist.
func NewReporterAgent() *ReporterAgent {
	return &ReporterAgent{baseAgent{
		name:         Reporter,
		description:  "Renders investigation findings into a readable report",
		capabilities: []string{"generate_report", "summarize_findings"},
	}}
}

// Process builds the report from the findings in the payload.
func (a *ReporterAgent) Process(ctx context.Context, msg agent.Message, ic *agent.InvestigationContext) (*agent.Response, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := payloadFindings(msg.Payload)
	query, _ := msg.Payload["query"].(string)

	var b strings.Builder
	b.WriteString("# Relatório de Investigação\n\n")
	if query != "" {
		fmt.Fprintf(&b, "**Consulta:** %s\n\n", query)
	}
	fmt.Fprintf(&b, "**Achados:** %d\n\n", len(findings))

	if len(findings) == 0 {
		b.WriteString("Nenhuma irregularidade identificada na amostra analisada.\n")
	}
	for i, f := range findings {
		fmt.Fprintf(&b, "## %d. %s\n\n%s\n\n", i+1, f.Type, f.Description)
		if f.AnomalyScore > 0 {
			fmt.Fprintf(&b, "Score de anomalia: %.2f\n\n", f.AnomalyScore)
		}
		for _, rec := range f.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
		if len(f.Recommendations) > 0 {
			b.WriteString("\n")
		}
	}

	return agent.CompletedResponse(a.name, map[string]interface{}{
		"findings": findings,
		"report":   b.String(),
		"sources":  []string{"cidadao_ai"},
	}, started), nil
}
