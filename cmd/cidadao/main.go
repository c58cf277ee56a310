package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/agent/roster"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/alert"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/events"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/executor"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/monitor"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/natsbridge"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/orchestrator"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/queue"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/server"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/transparency"
)

func main() {
	configPath := flag.String("config", "configs/cidadao.yaml", "Configuration file")
	port := flag.Int("port", 0, "HTTP port override")
	flag.Parse()

	// Secrets come from .env in development; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("daemon exited with error")
	}
}

func run(cfg *config.Config) error {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	journal := queue.NewSQLStore(st.DB(), 7*24*time.Hour)
	if err := journal.Init(); err != nil {
		return fmt.Errorf("failed to init task journal: %w", err)
	}

	// Agents and execution.
	registry := agent.NewRegistry()
	roster.RegisterAll(registry)
	pool := agent.NewPool(registry, 4)

	var execOpts []executor.Option
	if cfg.Executor.EnablePooling {
		execOpts = append(execOpts, executor.WithPooling(pool))
	}
	exec := executor.New(registry, cfg.Executor.MaxConcurrent, cfg.Executor.DefaultTimeout(), execOpts...)

	portal := transparency.NewClient(cfg.Transparency)
	dispensas := transparency.NewDispensaSource(cfg.Dispensas)

	orch := orchestrator.New(registry, exec, st, portal)

	bus := events.NewBus()
	alerts := alert.NewDispatcher(cfg.Alerting, st)
	mon := monitor.New(cfg.Monitor, portal, pool, st, alerts, bus)

	// Queue, workers, scheduler.
	q := queue.New(time.Duration(cfg.Queue.ResultRetentionSeconds)*time.Second, journal)
	registerHandlers(q, orch, mon, dispensas, bus)
	if restored, err := q.Restore(); err != nil {
		log.Warn().Err(err).Msg("failed to restore journaled tasks")
	} else if restored > 0 {
		log.Info().Int("tasks", restored).Msg("restored journaled tasks")
	}

	workers := queue.NewWorkerPool(q, cfg.Queue.MaxWorkers, cfg.Queue.SoftLimit(), cfg.Queue.HardLimit())
	sched := queue.NewScheduler(q)
	seedSchedules(sched)

	// Optional NATS event bridge.
	var embedded *natsbridge.EmbeddedServer
	var bridge *natsbridge.Bridge
	if cfg.NATS.Enabled {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			embedded = natsbridge.NewEmbeddedServer(4222, cfg.NATS.DataDir)
			if err := embedded.Start(); err != nil {
				log.Warn().Err(err).Msg("failed to start embedded NATS server")
				embedded = nil
			} else {
				url = embedded.URL()
			}
		}
		if client, err := natsbridge.NewClient(url); err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, bridge disabled")
		} else {
			bridge = natsbridge.NewBridge(client, bus)
			bridge.Start()
			defer client.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers.Start(ctx)
	sched.Start(ctx)

	srv := server.New(st, q, sched, exec, bus)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.Server.Port)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	sched.Stop()
	workers.Stop()
	if bridge != nil {
		bridge.Stop()
	}
	if embedded != nil {
		embedded.Shutdown()
	}
	pool.Shutdown(shutdownCtx)
	return nil
}

// registerHandlers binds every task type the queue dispatches.
func registerHandlers(q *queue.Queue, orch *orchestrator.Orchestrator, mon *monitor.Monitor, dispensas *transparency.DispensaSource, bus *events.Bus) {
	q.RegisterHandler(server.TaskInvestigationRun, func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		query, _ := payload["query"].(string)
		userID, _ := payload["user_id"].(string)
		result, err := orch.Investigate(ctx, query, orchestrator.Options{UserID: userID})
		if err != nil {
			return nil, err
		}
		bus.Publish(events.New(events.InvestigationCompleted, "queue", map[string]interface{}{
			"investigation_id": result.InvestigationID,
			"status":           result.Status,
			"findings":         len(result.Findings),
		}))
		return result, nil
	})

	q.RegisterHandler(server.TaskMonitorRun, func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		if historical, _ := payload["historical"].(bool); historical {
			return mon.Historical(ctx, intArg(payload, "months_back"), intArg(payload, "batch_size"))
		}
		priorityOrgs, _ := payload["priority_orgs"].(bool)
		return mon.Run(ctx, monitor.RunOptions{
			LookbackHours: intArg(payload, "lookback_hours"),
			Organisations: strsArg(payload, "organisations"),
			PriorityOrgs:  priorityOrgs,
		})
	})

	q.RegisterHandler("monitor.historical", func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		return mon.Historical(ctx, intArg(payload, "months_back"), intArg(payload, "batch_size"))
	})

	q.RegisterHandler("dispensas.scan", func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		if !dispensas.Configured() {
			return map[string]interface{}{"skipped": "dispensa source not configured"}, nil
		}
		records, err := dispensas.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		contracts := make([]map[string]interface{}, 0, len(records))
		for _, d := range records {
			contracts = append(contracts, d.AsContract())
		}
		return mon.Investigate(ctx, contracts, "dispensas_api")
	})

	q.RegisterHandler("dispensas.health", func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		if !dispensas.Configured() {
			return map[string]interface{}{"skipped": "dispensa source not configured"}, nil
		}
		return map[string]interface{}{"healthy": dispensas.Health(ctx)}, nil
	})

	q.RegisterHandler("queue.cleanup", func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		removed := q.CleanupResults()
		return map[string]interface{}{"removed": removed}, nil
	})

	q.RegisterHandler("health.ping", func(ctx context.Context, payload, metadata map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"pong": time.Now().Format(time.RFC3339)}, nil
	})
}

// seedSchedules registers the recurring background work.
func seedSchedules(sched *queue.Scheduler) {
	sched.Register("result_cleanup", 24*time.Hour, "queue.cleanup", nil, queue.PriorityBackground)
	sched.Register("health_ping", 5*time.Minute, "health.ping", nil, queue.PriorityLow)
	sched.Register("contract_monitor", 6*time.Hour, server.TaskMonitorRun, nil, queue.PriorityNormal)
	sched.Register("priority_org_monitor", 4*time.Hour, server.TaskMonitorRun,
		map[string]interface{}{"priority_orgs": true}, queue.PriorityNormal)
	sched.Register("historical_reanalysis", 7*24*time.Hour, "monitor.historical", nil, queue.PriorityBackground)
	sched.Register("auto_investigation_health", time.Hour, "health.ping",
		map[string]interface{}{"component": "auto_investigations"}, queue.PriorityLow)
	sched.Register("dispensas_scan", 6*time.Hour, "dispensas.scan", nil, queue.PriorityNormal)
	sched.Register("dispensas_health", time.Hour, "dispensas.health", nil, queue.PriorityLow)
}

// intArg reads an int payload field regardless of JSON numeric typing.
func intArg(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func strsArg(payload map[string]interface{}, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
