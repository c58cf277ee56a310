// cidadaoctl is the operations CLI over the daemon's HTTP surface.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var baseURL string

func main() {
	root := &cobra.Command{
		Use:           "cidadaoctl",
		Short:         "Operações sobre o serviço de investigação Cidadão.AI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "server", "http://localhost:8000", "Daemon base URL")

	root.AddCommand(
		investigateCmd(),
		taskCmd(),
		monitorCmd(),
		schedulesCmd(),
		anomaliesCmd(),
		statsCmd(),
		healthCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func investigateCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "investigate <query>",
		Short: "Enfileira uma investigação",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/api/investigations", map[string]interface{}{
				"query":    args[0],
				"priority": priority,
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "high", "Task priority (critical, high, normal, low, background)")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Gerencia tarefas da fila"}

	var taskType, priority, callback string
	var timeoutSeconds, maxRetries int
	enqueue := &cobra.Command{
		Use:   "enqueue <payload-json>",
		Short: "Enfileira uma tarefa",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
			return post("/api/tasks", map[string]interface{}{
				"task_type":       taskType,
				"payload":         payload,
				"priority":        priority,
				"timeout_seconds": timeoutSeconds,
				"max_retries":     maxRetries,
				"callback_url":    callback,
			})
		},
	}
	enqueue.Flags().StringVar(&taskType, "type", "", "Task type (required)")
	enqueue.Flags().StringVar(&priority, "priority", "normal", "Task priority")
	enqueue.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Hard timeout in seconds")
	enqueue.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget")
	enqueue.Flags().StringVar(&callback, "callback", "", "Callback URL")
	_ = enqueue.MarkFlagRequired("type")

	status := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Mostra o estado de uma tarefa",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/tasks/" + args[0])
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancela uma tarefa pendente",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return del("/api/tasks/" + args[0])
		},
	}

	cmd.AddCommand(enqueue, status, cancel)
	return cmd
}

func monitorCmd() *cobra.Command {
	var lookbackHours, monthsBack, batchSize int
	var orgs []string
	var historical bool

	cmd := &cobra.Command{Use: "monitor", Short: "Controla o monitor automático"}
	run := &cobra.Command{
		Use:   "run",
		Short: "Dispara uma varredura do monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/api/monitor/run", map[string]interface{}{
				"lookback_hours": lookbackHours,
				"organisations":  orgs,
				"historical":     historical,
				"months_back":    monthsBack,
				"batch_size":     batchSize,
			})
		},
	}
	run.Flags().IntVar(&lookbackHours, "lookback-hours", 0, "Window of contracts to scan")
	run.Flags().StringSliceVar(&orgs, "org", nil, "Organisation codes to scan")
	run.Flags().BoolVar(&historical, "historical", false, "Run the historical reanalysis instead")
	run.Flags().IntVar(&monthsBack, "months-back", 0, "Months to reanalyse (historical)")
	run.Flags().IntVar(&batchSize, "batch-size", 0, "Contracts per weekly batch (historical)")

	cmd.AddCommand(run)
	return cmd
}

func schedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "Lista as tarefas periódicas registradas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/schedules")
		},
	}
}

func anomaliesCmd() *cobra.Command {
	var severity, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Lista anomalias detectadas",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/anomalies?limit=%d", limit)
			if severity != "" {
				path += "&severity=" + severity
			}
			if status != "" {
				path += "&status=" + status
			}
			return get(path)
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Mostra estatísticas da fila e do executor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/tasks/stats")
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Verifica a saúde do serviço",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/healthz")
		},
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func get(path string) error {
	resp, err := httpClient.Get(baseURL + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func post(path string, body map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func del(path string) error {
	req, err := http.NewRequest(http.MethodDelete, baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// printResponse pretty-prints the JSON body and fails on error statuses.
func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
