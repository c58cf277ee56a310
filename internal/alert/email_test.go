package alert

import (
	"strings"
	"testing"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
)

func TestSeverityColor(t *testing.T) {
	cases := map[string]string{
		store.SeverityCritical: "#dc3545",
		store.SeverityHigh:     "#fd7e14",
		store.SeverityMedium:   "#ffc107",
		store.SeverityLow:      "#28a745",
		"unknown":              "#6c757d",
	}
	for severity, want := range cases {
		if got := severityColor(severity); got != want {
			t.Errorf("severityColor(%q) = %q, want %q", severity, got, want)
		}
	}
}

func TestRenderEmail(t *testing.T) {
	body, err := renderEmail(&store.Anomaly{
		ID:              "an-1",
		Severity:        store.SeverityHigh,
		Score:           0.78,
		Source:          "portal_transparencia",
		Type:            "single_bidder",
		Title:           "Licitação com proponente único",
		Description:     "apenas um proponente",
		Indicators:      []string{"numeroProponentes = 1"},
		Recommendations: []string{"verificar edital"},
		ContractData:    map[string]interface{}{"valor": 1500000.0},
	})
	if err != nil {
		t.Fatalf("renderEmail: %v", err)
	}

	for _, want := range []string{
		"an-1",
		"#fd7e14",
		"0.78",
		"Licitação com proponente único",
		"numeroProponentes = 1",
		"verificar edital",
		"valor: 1.5e+06",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRenderEmailEscapesHTML(t *testing.T) {
	body, err := renderEmail(&store.Anomaly{
		ID:       "an-2",
		Severity: store.SeverityLow,
		Title:    `<script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("renderEmail: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Error("title not HTML-escaped")
	}
}

func TestRenderEmailOptionalSections(t *testing.T) {
	body, err := renderEmail(&store.Anomaly{ID: "an-3", Severity: store.SeverityMedium, Title: "t"})
	if err != nil {
		t.Fatalf("renderEmail: %v", err)
	}
	for _, absent := range []string{"Indicadores", "Recomendações", "Dados do contrato"} {
		if strings.Contains(body, absent) {
			t.Errorf("empty anomaly rendered section %q", absent)
		}
	}
}
