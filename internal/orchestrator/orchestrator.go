// Package orchestrator drives investigations: it plans over the registered
// specialists, executes dependency groups through the parallel executor,
// reflects on the aggregated output and adapts the plan when quality falls
// short.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/executor"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/metrics"
)

// ErrMissingQuery is returned when investigate is called without a query.
var ErrMissingQuery = errors.New("missing query")

// Result is the outcome of one investigation.
type Result struct {
	InvestigationID  string                 `json:"investigation_id"`
	Query            string                 `json:"query"`
	Status           string                 `json:"status"` // completed, error
	Findings         []agent.Finding        `json:"findings"`
	Sources          []string               `json:"sources"`
	ConfidenceScore  float64                `json:"confidence_score"`
	Explanation      string                 `json:"explanation"`
	Error            string                 `json:"error,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Progress is the monitor_progress view of a running investigation.
type Progress struct {
	Status   string  `json:"status"` // running, completed, failed, not_found
	Plan     *Plan   `json:"plan,omitempty"`
	Progress float64 `json:"progress"`
}

// InvestigationStore persists investigation rows. Implemented by the
// sqlite store; nil disables persistence.
type InvestigationStore interface {
	CreateInvestigation(ctx context.Context, id, query, contextJSON, initiatedBy string) error
	CompleteInvestigation(ctx context.Context, id, status, resultsJSON string, anomaliesFound int) error
}

// ContractFetcher seeds investigations with recent contract records. The
// auto-monitor passes records directly instead.
type ContractFetcher interface {
	RecentContracts(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// Options tune a single investigate call.
type Options struct {
	UserID    string
	SessionID string
	Contracts []map[string]interface{} // pre-fetched records, bypasses the fetcher
	Source    string                   // data source tag carried into agent payloads
}

type activeRun struct {
	plan      *Plan
	status    string
	total     int
	executed  int
	succeeded int
	findings  []agent.Finding
	sources   []string
	metrics   map[string]float64
	quality   QualityCriteria
}

// Orchestrator owns a context and plan for the duration of one
// investigation, keyed by investigation_id.
type Orchestrator struct {
	registry *agent.Registry
	exec     *executor.Executor
	planner  *Planner
	store    InvestigationStore
	fetcher  ContractFetcher

	mu     sync.RWMutex
	active map[string]*activeRun

	log zerolog.Logger
}

// New creates an orchestrator. store and fetcher may be nil.
func New(registry *agent.Registry, exec *executor.Executor, store InvestigationStore, fetcher ContractFetcher) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		exec:     exec,
		planner:  NewPlanner(),
		store:    store,
		fetcher:  fetcher,
		active:   make(map[string]*activeRun),
		log:      logging.Component("orchestrator"),
	}
}

// NewInvestigationID returns a fresh time-ordered identifier.
func NewInvestigationID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// PlanInvestigation generates a plan without executing it.
func (o *Orchestrator) PlanInvestigation(query string) *Plan {
	return o.planner.GeneratePlan(query)
}

// Investigate runs the full pipeline for a query: plan, execute dependency
// groups, reflect and, when reflection flags the result, adapt once.
// Individual step failures never abort the run; they are logged and the
// result reflects what was obtained.
func (o *Orchestrator) Investigate(ctx context.Context, query string, opts Options) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrMissingQuery
	}

	started := time.Now()
	id := NewInvestigationID()
	ic := &agent.InvestigationContext{
		InvestigationID: id,
		UserID:          opts.UserID,
		SessionID:       opts.SessionID,
		TraceID:         id,
		StartedAt:       started,
		Metadata:        map[string]interface{}{},
	}

	plan := o.planner.GeneratePlan(query)
	run := &activeRun{
		plan:    plan,
		status:  "running",
		total:   len(plan.Steps),
		metrics: map[string]float64{},
		quality: plan.Quality,
	}
	o.mu.Lock()
	o.active[id] = run
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, id)
		o.mu.Unlock()
	}()

	if o.store != nil {
		ctxJSON, _ := json.Marshal(ic)
		if err := o.store.CreateInvestigation(ctx, id, query, string(ctxJSON), opts.UserID); err != nil {
			o.log.Warn().Err(err).Str("investigation_id", id).Msg("failed to persist investigation")
		}
	}

	contracts := opts.Contracts
	if contracts == nil && o.fetcher != nil {
		fetched, err := o.fetcher.RecentContracts(ctx, 100)
		if err != nil {
			o.log.Warn().Err(err).Msg("contract fetch failed, investigating without records")
		} else {
			contracts = fetched
		}
	}

	result := o.executePlan(ctx, ic, run, query, contracts, opts.Source)

	// Self-reflection: adapt once when the quality score is poor.
	reflection := o.reflect(result)
	result.Metadata["reflection"] = reflection
	if reflection.QualityScore < 0.7 {
		adaptation := o.adapt(run, query, result)
		if len(adaptation.NewSteps) > 0 {
			o.log.Info().
				Str("investigation_id", id).
				Strs("changes", adaptation.Changes).
				Msg("adapting investigation strategy")
			run.plan.AddSteps(adaptation.NewSteps)
			run.total = len(run.plan.Steps)
			extra := &Plan{Steps: adaptation.NewSteps}
			o.executeGroups(ctx, ic, run, extra.DependencyGroups(), query, contracts, opts.Source)
			result = o.buildResult(ic, run, query, started)
			result.Metadata["adaptation"] = adaptation
			result.Metadata["reflection"] = o.reflect(result)
		}
	}

	// Terminal failure: the plan ran but not a single step produced a
	// usable response. The attempted plan stays in the metadata.
	if run.succeeded == 0 {
		run.status = "failed"
		result.Status = "error"
		result.Error = "no plan step completed successfully"
	} else {
		run.status = "completed"
	}
	result.ProcessingTimeMs = time.Since(started).Milliseconds()
	metrics.Investigations.WithLabelValues(result.Status).Inc()

	if o.store != nil {
		resJSON, _ := json.Marshal(result)
		scored := 0
		for _, f := range result.Findings {
			if f.AnomalyScore > 0 {
				scored++
			}
		}
		if err := o.store.CompleteInvestigation(ctx, id, result.Status, string(resJSON), scored); err != nil {
			o.log.Warn().Err(err).Str("investigation_id", id).Msg("failed to record investigation result")
		}
	}

	return result, nil
}

// executePlan runs every dependency group of the current plan.
func (o *Orchestrator) executePlan(ctx context.Context, ic *agent.InvestigationContext, run *activeRun, query string, contracts []map[string]interface{}, source string) *Result {
	o.executeGroups(ctx, ic, run, run.plan.DependencyGroups(), query, contracts, source)
	return o.buildResult(ic, run, query, ic.StartedAt)
}

// executeGroups dispatches each group to the executor under BEST_EFFORT.
// Groups run strictly sequentially; steps within a group run concurrently.
func (o *Orchestrator) executeGroups(ctx context.Context, ic *agent.InvestigationContext, run *activeRun, groups [][]PlanStep, query string, contracts []map[string]interface{}, source string) {
	for _, group := range groups {
		tasks := make([]executor.Task, 0, len(group))
		for _, step := range group {
			if !o.registry.Has(step.AgentName) {
				o.log.Warn().
					Str("agent", step.AgentName).
					Str("investigation_id", ic.InvestigationID).
					Msg("plan names unavailable agent, skipping step")
				run.executed++
				continue
			}
			payload := map[string]interface{}{
				"query":     query,
				"action":    step.Action,
				"contracts": contracts,
				"findings":  run.findings,
				"sources":   run.sources,
			}
			if source != "" {
				payload["source"] = source
			}
			for k, v := range step.Parameters {
				payload[k] = v
			}
			tasks = append(tasks, executor.Task{
				AgentName: step.AgentName,
				Message: agent.Message{
					Sender:     "orchestrator",
					Recipient:  step.AgentName,
					Action:     step.Action,
					Payload:    payload,
					ContextRef: ic.InvestigationID,
				},
			})
		}
		if len(tasks) == 0 {
			continue
		}

		results := o.exec.Execute(ctx, tasks, ic, executor.BestEffort)
		for _, res := range results {
			run.executed++
			if !res.Success {
				o.log.Warn().
					Str("agent", res.AgentName).
					Str("error", res.Error).
					Str("investigation_id", ic.InvestigationID).
					Msg("step failed")
				continue
			}
			run.succeeded++
			o.mergeResponse(run, res.Response)
		}
	}
}

// mergeResponse folds a completed agent response into the run state.
func (o *Orchestrator) mergeResponse(run *activeRun, resp *agent.Response) {
	if resp == nil || resp.Result == nil {
		return
	}
	switch v := resp.Result["findings"].(type) {
	case []agent.Finding:
		run.findings = mergeFindings(run.findings, v)
	}
	if srcs, ok := resp.Result["sources"].([]string); ok {
		run.sources = mergeSources(run.sources, srcs)
	}
	if gc, ok := resp.Result["geographic_concentration"].(float64); ok {
		run.metrics["geographic_concentration"] = gc
	}
	if rpt, ok := resp.Result["report"].(string); ok {
		run.metrics["report_length"] = float64(len(rpt))
	}
}

// mergeFindings appends new findings, dropping exact duplicates by
// type+description.
func mergeFindings(existing, incoming []agent.Finding) []agent.Finding {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f.Type+"|"+f.Description] = true
	}
	for _, f := range incoming {
		key := f.Type + "|" + f.Description
		if !seen[key] {
			seen[key] = true
			existing = append(existing, f)
		}
	}
	return existing
}

func mergeSources(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	return existing
}

// buildResult assembles the investigation result from the run state.
func (o *Orchestrator) buildResult(ic *agent.InvestigationContext, run *activeRun, query string, started time.Time) *Result {
	explanation := o.explain(query, run)
	confidence := ConfidenceScore(run.findings, run.sources)

	run.metrics["findings"] = float64(len(run.findings))
	run.metrics["sources"] = float64(len(run.sources))
	run.metrics["confidence"] = confidence

	return &Result{
		InvestigationID: ic.InvestigationID,
		Query:           query,
		Status:          "completed",
		Findings:        run.findings,
		Sources:         run.sources,
		ConfidenceScore: confidence,
		Explanation:     explanation,
		Metadata: map[string]interface{}{
			"plan":           run.plan.Clone(),
			"agents_used":    run.plan.RequiredAgents,
			"steps_executed": run.executed,
		},
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Timestamp:        time.Now(),
	}
}

// ConfidenceScore computes confidence from findings volume, source
// diversity and mean anomaly score. Zero findings always scores zero.
func ConfidenceScore(findings []agent.Finding, sources []string) float64 {
	if len(findings) == 0 {
		return 0
	}
	f := math.Min(float64(len(findings))/10, 1.0)
	s := math.Min(float64(len(sources))/3, 1.0)

	var scoreSum float64
	for _, fd := range findings {
		scoreSum += fd.AnomalyScore
	}
	a := scoreSum / float64(len(findings))

	return clamp01(0.3*f + 0.2*s + 0.5*a)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// explain renders a human-readable narrative of what was found.
func (o *Orchestrator) explain(query string, run *activeRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigação sobre %q executou %d de %d etapas com os agentes %s. ",
		query, run.executed, run.total, strings.Join(run.plan.RequiredAgents, ", "))
	if len(run.findings) == 0 {
		b.WriteString("Nenhum achado relevante foi identificado na amostra analisada.")
		return b.String()
	}
	fmt.Fprintf(&b, "Foram identificados %d achados a partir de %d fontes de dados.",
		len(run.findings), len(run.sources))

	high := 0
	for _, f := range run.findings {
		if f.AnomalyScore >= 0.7 {
			high++
		}
	}
	if high > 0 {
		fmt.Fprintf(&b, " %d achados têm score de anomalia alto (≥ 0,7) e merecem triagem prioritária.", high)
	}
	return b.String()
}

// MonitorProgress reports the status of an investigation by id.
func (o *Orchestrator) MonitorProgress(id string) Progress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.active[id]
	if !ok {
		return Progress{Status: "not_found"}
	}
	progress := 0.0
	if run.total > 0 {
		progress = float64(run.executed) / float64(run.total)
	}
	return Progress{
		Status:   run.status,
		Plan:     run.plan.Clone(),
		Progress: progress,
	}
}
