package alert

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
)

// severityColor maps a severity to its badge colour in the email.
func severityColor(severity string) string {
	switch severity {
	case store.SeverityCritical:
		return "#dc3545"
	case store.SeverityHigh:
		return "#fd7e14"
	case store.SeverityMedium:
		return "#ffc107"
	case store.SeverityLow:
		return "#28a745"
	default:
		return "#6c757d"
	}
}

var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #212529;">
  <h2 style="color: {{.SeverityColor}};">Anomalia detectada: {{.Title}}</h2>
  <table cellpadding="6">
    <tr><td><b>Identificador</b></td><td>{{.AnomalyID}}</td></tr>
    <tr><td><b>Severidade</b></td><td><span style="background: {{.SeverityColor}}; color: #fff; padding: 2px 8px; border-radius: 4px;">{{.Severity}}</span></td></tr>
    <tr><td><b>Pontuação</b></td><td>{{printf "%.2f" .Score}}</td></tr>
    <tr><td><b>Fonte</b></td><td>{{.Source}}</td></tr>
    <tr><td><b>Tipo</b></td><td>{{.AnomalyType}}</td></tr>
    <tr><td><b>Detectada em</b></td><td>{{.DetectedAt}}</td></tr>
  </table>
  <p>{{.Description}}</p>
  {{if .Indicators}}<h3>Indicadores</h3><ul>{{range .Indicators}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if .Recommendations}}<h3>Recomendações</h3><ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if .ContractData}}<h3>Dados do contrato</h3><pre>{{.ContractData}}</pre>{{end}}
</body>
</html>`))

// renderEmail produces the HTML body for an anomaly alert email.
func renderEmail(anomaly *store.Anomaly) (string, error) {
	contractData := ""
	if len(anomaly.ContractData) > 0 {
		var sb strings.Builder
		for k, v := range anomaly.ContractData {
			fmt.Fprintf(&sb, "%s: %v\n", k, v)
		}
		contractData = sb.String()
	}

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]interface{}{
		"AnomalyID":       anomaly.ID,
		"Title":           anomaly.Title,
		"Severity":        anomaly.Severity,
		"SeverityColor":   severityColor(anomaly.Severity),
		"Score":           anomaly.Score,
		"Source":          anomaly.Source,
		"AnomalyType":     anomaly.Type,
		"Description":     anomaly.Description,
		"Indicators":      anomaly.Indicators,
		"Recommendations": anomaly.Recommendations,
		"ContractData":    contractData,
		"DetectedAt":      anomaly.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// smtpMailer sends over plain SMTP with optional auth.
type smtpMailer struct {
	host string
	port int
	user string
	pass string
	from string
}

func newSMTPMailer(cfg config.AlertingConfig) *smtpMailer {
	return &smtpMailer{
		host: cfg.SMTPHost,
		port: cfg.SMTPPort,
		user: cfg.SMTPUser,
		pass: cfg.SMTPPassword,
		from: cfg.EmailFrom,
	}
}

func (m *smtpMailer) Send(to []string, subject, htmlBody string) error {
	if m.host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(htmlBody)

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}
	return smtp.SendMail(addr, auth, m.from, to, msg.Bytes())
}
