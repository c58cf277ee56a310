// Package alert fans anomaly notifications out to webhooks, email and
// the dashboard alert table.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
)

// Dispatcher delivers anomaly alerts over the configured channels. The
// dashboard record is always written; webhooks and email depend on
// configuration.
type Dispatcher struct {
	cfg    config.AlertingConfig
	store  *store.Store
	client *http.Client
	mailer mailer
	log    zerolog.Logger
}

// mailer is swapped in tests to avoid real SMTP traffic.
type mailer interface {
	Send(to []string, subject, htmlBody string) error
}

// NewDispatcher builds a dispatcher over the store.
func NewDispatcher(cfg config.AlertingConfig, st *store.Store) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: 10 * time.Second},
		mailer: newSMTPMailer(cfg),
		log:    logging.Component("alerts"),
	}
}

// Dispatch delivers an anomaly to every channel. Per-channel failures
// are isolated: one dead webhook never blocks the others or the
// dashboard record.
func (d *Dispatcher) Dispatch(ctx context.Context, anomaly *store.Anomaly) {
	delivered := []string{"dashboard"}

	for _, url := range d.cfg.WebhookURLs {
		if err := d.postWebhook(ctx, url, anomaly); err != nil {
			d.log.Warn().Err(err).Str("url", url).Str("anomaly_id", anomaly.ID).Msg("webhook alert failed")
		} else {
			delivered = append(delivered, "webhook")
		}
	}

	if d.cfg.EmailEnabled && len(d.cfg.AlertEmails) > 0 {
		if err := d.sendEmail(anomaly); err != nil {
			d.log.Warn().Err(err).Str("anomaly_id", anomaly.ID).Msg("email alert failed")
		} else {
			delivered = append(delivered, "email")
		}
	}

	// One persisted row per dispatch: the dashboard channel record, with
	// the other delivered channels kept in metadata.
	record := &store.Alert{
		AnomalyID:  anomaly.ID,
		Type:       "dashboard",
		Severity:   anomaly.Severity,
		Title:      anomaly.Title,
		Message:    anomaly.Description,
		Recipients: d.cfg.AlertEmails,
		Status:     "sent",
		Metadata:   map[string]interface{}{"channels": delivered},
	}
	if err := d.store.CreateAlert(ctx, record); err != nil {
		d.log.Error().Err(err).Str("anomaly_id", anomaly.ID).Msg("failed to record dashboard alert")
	}
}

// postWebhook POSTs the anomaly envelope to one destination. Non-2xx is
// a failure for that destination only.
func (d *Dispatcher) postWebhook(ctx context.Context, url string, anomaly *store.Anomaly) error {
	payload := map[string]interface{}{
		"event":     "anomaly_detected",
		"timestamp": time.Now().Format(time.RFC3339),
		"anomaly": map[string]interface{}{
			"id":              anomaly.ID,
			"title":           anomaly.Title,
			"severity":        anomaly.Severity,
			"score":           anomaly.Score,
			"source":          anomaly.Source,
			"type":            anomaly.Type,
			"description":     anomaly.Description,
			"indicators":      anomaly.Indicators,
			"recommendations": anomaly.Recommendations,
		},
		"contract": anomaly.ContractData,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) sendEmail(anomaly *store.Anomaly) error {
	body, err := renderEmail(anomaly)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("[Cidadão.AI] Anomalia %s: %s", anomaly.Severity, anomaly.Title)
	return d.mailer.Send(d.cfg.AlertEmails, subject, body)
}
