// Package metrics exposes Prometheus instrumentation for the queue, the
// executor and the investigation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksEnqueued counts queue submissions by task type.
	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidadao",
		Subsystem: "queue",
		Name:      "tasks_enqueued_total",
		Help:      "Tasks submitted to the priority queue.",
	}, []string{"task_type", "priority"})

	// TasksCompleted counts terminal task outcomes.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidadao",
		Subsystem: "queue",
		Name:      "tasks_completed_total",
		Help:      "Tasks reaching a terminal state.",
	}, []string{"task_type", "status"})

	// TaskRetries counts retry attempts.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cidadao",
		Subsystem: "queue",
		Name:      "task_retries_total",
		Help:      "Task retry attempts.",
	})

	// QueueDepth tracks the number of pending tasks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cidadao",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending tasks on the heap.",
	})

	// WorkersBusy tracks workers currently processing a task.
	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cidadao",
		Subsystem: "queue",
		Name:      "workers_busy",
		Help:      "Workers currently holding a task.",
	})

	// ExecutorTasks counts parallel executor task outcomes.
	ExecutorTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidadao",
		Subsystem: "executor",
		Name:      "tasks_total",
		Help:      "Parallel executor tasks by outcome.",
	}, []string{"agent", "outcome"})

	// Investigations counts orchestrator runs by status.
	Investigations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidadao",
		Subsystem: "orchestrator",
		Name:      "investigations_total",
		Help:      "Investigations run by terminal status.",
	}, []string{"status"})

	// AnomaliesDetected counts persisted anomalies by severity.
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cidadao",
		Subsystem: "monitor",
		Name:      "anomalies_total",
		Help:      "Anomalies persisted, by severity.",
	}, []string{"severity"})
)
