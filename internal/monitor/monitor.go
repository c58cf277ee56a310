// Package monitor runs the unattended investigation pipeline: fetch
// recent contracts, pre-screen for suspicion signals, and hand the
// suspicious ones to the anomaly agent.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent/roster"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/events"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/metrics"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/orchestrator"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/transparency"
)

// investigationPause throttles back-to-back agent runs.
const investigationPause = 500 * time.Millisecond

// ContractSource fetches contract batches for a date window.
// Implemented by the transparency client.
type ContractSource interface {
	GetContracts(ctx context.Context, filter transparency.ContractFilter) ([]map[string]interface{}, error)
}

// AlertSink receives high and critical anomalies for delivery.
type AlertSink interface {
	Dispatch(ctx context.Context, anomaly *store.Anomaly)
}

// RunOptions shape one monitor pass.
type RunOptions struct {
	LookbackHours int
	Organisations []string

	// PriorityOrgs substitutes the configured priority organisations
	// when no explicit list is given.
	PriorityOrgs bool
}

// RunSummary reports what a monitor pass did.
type RunSummary struct {
	ContractsScanned int `json:"contracts_scanned"`
	Suspicious       int `json:"suspicious"`
	Investigated     int `json:"investigated"`
	AnomaliesFound   int `json:"anomalies_found"`
	Errors           int `json:"errors"`
}

// Monitor is the auto-investigation driver.
type Monitor struct {
	cfg    config.MonitorConfig
	source ContractSource
	pool   *agent.Pool
	store  *store.Store
	alerts AlertSink
	bus    *events.Bus

	// sleep is swapped in tests to skip the inter-investigation pause.
	sleep func(time.Duration)

	log zerolog.Logger
}

// New creates a monitor. alerts and bus may be nil.
func New(cfg config.MonitorConfig, source ContractSource, pool *agent.Pool, st *store.Store, alerts AlertSink, bus *events.Bus) *Monitor {
	return &Monitor{
		cfg:    cfg,
		source: source,
		pool:   pool,
		store:  st,
		alerts: alerts,
		bus:    bus,
		sleep:  time.Sleep,
		log:    logging.Component("monitor"),
	}
}

// Run executes one monitor pass over the lookback window, per
// organisation when any are given. Fetch errors skip the batch; single
// investigation errors skip the contract.
func (m *Monitor) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	lookback := opts.LookbackHours
	if lookback <= 0 {
		lookback = m.cfg.LookbackHoursDefault
	}
	to := time.Now()
	from := to.Add(-time.Duration(lookback) * time.Hour)

	orgs := opts.Organisations
	if len(orgs) == 0 && opts.PriorityOrgs {
		orgs = m.cfg.PriorityOrganisations
	}

	contracts := m.fetchWindow(ctx, from, to, orgs)
	summary := m.runPipeline(ctx, contracts, "new_contracts")

	m.log.Info().
		Int("scanned", summary.ContractsScanned).
		Int("suspicious", summary.Suspicious).
		Int("anomalies", summary.AnomaliesFound).
		Msg("monitor pass finished")
	m.publish(events.MonitorRunFinished, map[string]interface{}{
		"mode":    "new_contracts",
		"summary": summary,
	})
	return summary, ctx.Err()
}

// Historical reanalyses past contracts in weekly batches across
// monthsBack, running the same pre-screen and investigate phases.
func (m *Monitor) Historical(ctx context.Context, monthsBack, batchSize int) (*RunSummary, error) {
	if monthsBack <= 0 {
		monthsBack = m.cfg.MonthsBackDefault
	}
	if batchSize <= 0 {
		batchSize = m.cfg.BatchSize
	}

	total := &RunSummary{}
	end := time.Now()
	start := end.AddDate(0, -monthsBack, 0)

	for weekStart := start; weekStart.Before(end); weekStart = weekStart.AddDate(0, 0, 7) {
		if ctx.Err() != nil {
			break
		}
		weekEnd := weekStart.AddDate(0, 0, 7)
		if weekEnd.After(end) {
			weekEnd = end
		}

		contracts := m.fetchWindow(ctx, weekStart, weekEnd, m.cfg.PriorityOrganisations)
		if len(contracts) > batchSize {
			contracts = contracts[:batchSize]
		}
		batch := m.runPipeline(ctx, contracts, "historical")
		total.ContractsScanned += batch.ContractsScanned
		total.Suspicious += batch.Suspicious
		total.Investigated += batch.Investigated
		total.AnomaliesFound += batch.AnomaliesFound
		total.Errors += batch.Errors
	}

	m.publish(events.MonitorRunFinished, map[string]interface{}{
		"mode":    "historical",
		"summary": total,
	})
	return total, ctx.Err()
}

// Investigate runs the pre-screen and investigate phases over contracts
// fetched elsewhere, such as the external dispensa source.
func (m *Monitor) Investigate(ctx context.Context, contracts []map[string]interface{}, source string) (*RunSummary, error) {
	summary := m.runPipeline(ctx, m.capDaily(contracts), source)
	m.publish(events.MonitorRunFinished, map[string]interface{}{
		"mode":    source,
		"summary": summary,
	})
	return summary, ctx.Err()
}

// fetchWindow pulls contracts for the window, per organisation when any
// are given. A failed batch is logged and skipped.
func (m *Monitor) fetchWindow(ctx context.Context, from, to time.Time, orgs []string) []map[string]interface{} {
	filter := transparency.ContractFilter{DateFrom: from, DateTo: to, PageSize: 100}

	if len(orgs) == 0 {
		batch, err := m.source.GetContracts(ctx, filter)
		if err != nil {
			m.log.Warn().Err(err).Msg("contract fetch failed, skipping batch")
			return nil
		}
		return m.capDaily(batch)
	}

	var out []map[string]interface{}
	for _, org := range orgs {
		filter.OrgCode = org
		batch, err := m.source.GetContracts(ctx, filter)
		if err != nil {
			m.log.Warn().Err(err).Str("org", org).Msg("contract fetch failed, skipping batch")
			continue
		}
		out = append(out, batch...)
	}
	return m.capDaily(out)
}

func (m *Monitor) capDaily(contracts []map[string]interface{}) []map[string]interface{} {
	if m.cfg.DailyContractLimit > 0 && len(contracts) > m.cfg.DailyContractLimit {
		return contracts[:m.cfg.DailyContractLimit]
	}
	return contracts
}

// runPipeline pre-screens the contracts and investigates the suspicious
// ones, pausing briefly between investigations.
func (m *Monitor) runPipeline(ctx context.Context, contracts []map[string]interface{}, source string) *RunSummary {
	summary := &RunSummary{ContractsScanned: len(contracts)}

	for i, contract := range contracts {
		if ctx.Err() != nil {
			break
		}
		screen := Screen(contract, m.cfg)
		if !screen.Promoted {
			continue
		}
		summary.Suspicious++

		if summary.Investigated > 0 && i > 0 {
			m.sleep(investigationPause)
		}

		found, err := m.investigate(ctx, contract, screen, source)
		if err != nil {
			summary.Errors++
			m.log.Warn().Err(err).Str("contract_id", contractID(contract)).Msg("auto investigation failed, continuing")
			continue
		}
		summary.Investigated++
		summary.AnomaliesFound += found
	}
	return summary
}

// investigate runs the anomaly agent over one suspicious contract and
// persists whatever it finds.
func (m *Monitor) investigate(ctx context.Context, contract map[string]interface{}, screen ScreenResult, source string) (int, error) {
	id := orchestrator.NewInvestigationID()
	contextJSON, _ := json.Marshal(map[string]interface{}{
		"auto_triggered":  true,
		"suspicion_score": screen.Score,
		"signals":         screen.Signals,
		"contract_id":     contractID(contract),
	})
	if err := m.store.CreateAutoInvestigation(ctx, id, "Investigação automática de contrato suspeito", string(contextJSON)); err != nil {
		return 0, err
	}
	m.publish(events.InvestigationStarted, map[string]interface{}{
		"investigation_id": id,
		"auto_triggered":   true,
	})

	var findings []agent.Finding
	err := m.pool.With(ctx, roster.AnomalyDetector, func(inst agent.Agent) error {
		resp, err := inst.Process(ctx, agent.Message{
			Sender: "auto_monitor",
			Action: "detect_anomalies",
			Payload: map[string]interface{}{
				"contracts": []map[string]interface{}{contract},
				"source":    source,
			},
		}, &agent.InvestigationContext{InvestigationID: id})
		if err != nil {
			return err
		}
		findings = responseFindings(resp)
		return nil
	})
	if err != nil {
		_ = m.store.CompleteAutoInvestigation(ctx, id, "error", "", 0)
		return 0, err
	}

	resultsJSON, _ := json.Marshal(map[string]interface{}{"findings": findings})
	if err := m.store.CompleteAutoInvestigation(ctx, id, "completed", string(resultsJSON), len(findings)); err != nil {
		return 0, err
	}
	m.publish(events.InvestigationCompleted, map[string]interface{}{
		"investigation_id": id,
		"anomalies_found":  len(findings),
	})

	for _, f := range findings {
		if err := m.persistAnomaly(ctx, id, contract, f, source); err != nil {
			m.log.Warn().Err(err).Str("investigation_id", id).Msg("failed to persist anomaly")
		}
	}
	return len(findings), nil
}

// persistAnomaly stores one finding and dispatches alerts for high and
// critical severities.
func (m *Monitor) persistAnomaly(ctx context.Context, investigationID string, contract map[string]interface{}, f agent.Finding, source string) error {
	anomaly := &store.Anomaly{
		AutoInvestigationID: investigationID,
		Source:              source,
		SourceID:            contractID(contract),
		Type:                f.Type,
		Score:               f.AnomalyScore,
		Title:               anomalyTitle(f),
		Description:         f.Description,
		Indicators:          f.Indicators,
		Recommendations:     f.Recommendations,
		ContractData:        contract,
	}
	if err := m.store.CreateAnomaly(ctx, anomaly); err != nil {
		return err
	}
	metrics.AnomaliesDetected.WithLabelValues(anomaly.Severity).Inc()
	m.publish(events.AnomalyDetected, map[string]interface{}{
		"anomaly_id": anomaly.ID,
		"severity":   anomaly.Severity,
		"score":      anomaly.Score,
	})

	if m.alerts != nil && (anomaly.Severity == store.SeverityHigh || anomaly.Severity == store.SeverityCritical) {
		m.alerts.Dispatch(ctx, anomaly)
		m.publish(events.AlertDispatched, map[string]interface{}{
			"anomaly_id": anomaly.ID,
			"severity":   anomaly.Severity,
		})
	}
	return nil
}

func (m *Monitor) publish(t events.Type, payload map[string]interface{}) {
	if m.bus != nil {
		m.bus.Publish(events.New(t, "monitor", payload))
	}
}

func responseFindings(resp *agent.Response) []agent.Finding {
	if resp == nil || resp.Result == nil {
		return nil
	}
	switch v := resp.Result["findings"].(type) {
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

func anomalyTitle(f agent.Finding) string {
	switch f.Type {
	case "value_outlier":
		return "Valor contratual fora do padrão"
	case "no_bid_award":
		return "Contratação sem licitação"
	case "single_bidder":
		return "Licitação com proponente único"
	default:
		return "Irregularidade detectada: " + f.Type
	}
}
