package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/queue"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store, *queue.Queue) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q := queue.New(time.Hour, nil)
	sched := queue.NewScheduler(q)
	srv := New(st, q, sched, nil, nil)
	return srv, st, q
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON response %q", method, path, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestCreateInvestigationEnqueues(t *testing.T) {
	srv, _, q := testServer(t)

	rec, body := doJSON(t, srv.Handler(), "POST", "/api/investigations",
		`{"query": "contratos suspeitos", "user_id": "auditor", "priority": "critical"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	taskID, _ := body["task_id"].(string)
	if taskID == "" || body["status"] != "queued" {
		t.Fatalf("body = %v", body)
	}

	task := q.Dequeue()
	if task == nil || task.ID != taskID {
		t.Fatal("enqueued task not on the queue")
	}
	if task.Type != TaskInvestigationRun || task.Priority != queue.PriorityCritical {
		t.Errorf("task = %s at %v", task.Type, task.Priority)
	}
	if task.Payload["query"] != "contratos suspeitos" || task.Payload["user_id"] != "auditor" {
		t.Errorf("payload = %v", task.Payload)
	}
}

func TestCreateInvestigationValidation(t *testing.T) {
	srv, _, _ := testServer(t)

	rec, _ := doJSON(t, srv.Handler(), "POST", "/api/investigations", `{"query": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rec.Code)
	}
	rec, _ = doJSON(t, srv.Handler(), "POST", "/api/investigations", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", rec.Code)
	}
}

func TestGetInvestigationBothTables(t *testing.T) {
	srv, st, _ := testServer(t)
	ctx := context.Background()
	st.CreateInvestigation(ctx, "user-1", "consulta", "", "auditor")
	st.CreateAutoInvestigation(ctx, "auto-1", "automática", "")

	rec, body := doJSON(t, srv.Handler(), "GET", "/api/investigations/user-1", "")
	if rec.Code != http.StatusOK || body["id"] != "user-1" {
		t.Errorf("user investigation: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, srv.Handler(), "GET", "/api/investigations/auto-1", "")
	if rec.Code != http.StatusOK || body["id"] != "auto-1" {
		t.Errorf("auto investigation fallback: %d %v", rec.Code, body)
	}
	if body["initiated_by"] != "auto_monitor" {
		t.Errorf("initiated_by = %v", body["initiated_by"])
	}

	rec, _ = doJSON(t, srv.Handler(), "GET", "/api/investigations/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, _, q := testServer(t)
	h := srv.Handler()

	rec, body := doJSON(t, h, "POST", "/api/tasks",
		`{"task_type": "health.ping", "priority": "low", "payload": {"x": 1}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d", rec.Code)
	}
	taskID := body["task_id"].(string)

	rec, body = doJSON(t, h, "GET", "/api/tasks/"+taskID, "")
	if rec.Code != http.StatusOK || body["status"] != "pending" {
		t.Errorf("pending task: %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, h, "DELETE", "/api/tasks/"+taskID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("cancel status = %d", rec.Code)
	}

	// Cancelled tasks cannot be cancelled again.
	rec, _ = doJSON(t, h, "DELETE", "/api/tasks/"+taskID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}

	// A processing task cannot be cancelled either.
	rec, body = doJSON(t, h, "POST", "/api/tasks", `{"task_type": "health.ping"}`)
	processingID := body["task_id"].(string)
	q.Dequeue()
	rec, _ = doJSON(t, h, "DELETE", "/api/tasks/"+processingID, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel of processing task = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, h, "GET", "/api/tasks/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, h, "POST", "/api/tasks", `{"payload": {}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing task_type status = %d, want 400", rec.Code)
	}
}

func TestTaskStats(t *testing.T) {
	srv, _, q := testServer(t)
	q.Enqueue("noop", nil, queue.PriorityNormal, queue.EnqueueOpts{})

	rec, body := doJSON(t, srv.Handler(), "GET", "/api/tasks/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	qs, _ := body["queue"].(map[string]interface{})
	if qs["pending"] != 1.0 {
		t.Errorf("queue stats = %v", qs)
	}
}

func TestMonitorRunEnqueues(t *testing.T) {
	srv, _, q := testServer(t)

	rec, _ := doJSON(t, srv.Handler(), "POST", "/api/monitor/run",
		`{"historical": true, "months_back": 3}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	task := q.Dequeue()
	if task == nil || task.Type != TaskMonitorRun || task.Priority != queue.PriorityHigh {
		t.Fatalf("task = %+v", task)
	}
	if task.Payload["historical"] != true || task.Payload["months_back"] != 3 {
		t.Errorf("payload = %v", task.Payload)
	}
}

func TestAnomalyEndpoints(t *testing.T) {
	srv, st, _ := testServer(t)
	h := srv.Handler()
	ctx := context.Background()
	st.CreateAutoInvestigation(ctx, "auto-1", "q", "")

	high := &store.Anomaly{AutoInvestigationID: "auto-1", Source: "portal", Type: "single_bidder", Score: 0.75, Title: "Proponente único"}
	low := &store.Anomaly{AutoInvestigationID: "auto-1", Source: "dispensas_api", Type: "vendor", Score: 0.2, Title: "Concentração"}
	st.CreateAnomaly(ctx, high)
	st.CreateAnomaly(ctx, low)

	rec, body := doJSON(t, h, "GET", "/api/anomalies?severity=high", "")
	if rec.Code != http.StatusOK || body["count"] != 1.0 {
		t.Errorf("severity filter: %d %v", rec.Code, body["count"])
	}

	rec, body = doJSON(t, h, "GET", "/api/anomalies?min_score=0.5", "")
	if body["count"] != 1.0 {
		t.Errorf("min_score filter count = %v", body["count"])
	}

	rec, body = doJSON(t, h, "PATCH", "/api/anomalies/"+high.ID,
		`{"status": "investigating", "assigned_to": "ana"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	if body["status"] != "investigating" || body["assigned_to"] != "ana" {
		t.Errorf("patched anomaly = %v", body)
	}

	rec, _ = doJSON(t, h, "PATCH", "/api/anomalies/missing", `{"status": "resolved"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("patch of unknown anomaly = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, h, "PATCH", "/api/anomalies/"+high.ID, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("patch without status = %d, want 400", rec.Code)
	}
}

func TestListAlertsEndpoint(t *testing.T) {
	srv, st, _ := testServer(t)
	ctx := context.Background()
	st.CreateAutoInvestigation(ctx, "auto-1", "q", "")
	anomaly := &store.Anomaly{AutoInvestigationID: "auto-1", Source: "portal", Type: "t", Score: 0.9, Title: "t"}
	st.CreateAnomaly(ctx, anomaly)
	st.CreateAlert(ctx, &store.Alert{AnomalyID: anomaly.ID, Type: "dashboard", Severity: "critical", Title: "t"})

	rec, body := doJSON(t, srv.Handler(), "GET", "/api/alerts", "")
	if rec.Code != http.StatusOK || body["count"] != 1.0 {
		t.Errorf("alerts: %d %v", rec.Code, body)
	}
}

func TestListSchedules(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.scheduler.Register("contract_monitor", 6*time.Hour, TaskMonitorRun, nil, queue.PriorityNormal)

	rec, body := doJSON(t, srv.Handler(), "GET", "/api/schedules", "")
	if rec.Code != http.StatusOK || body["count"] != 1.0 {
		t.Fatalf("schedules: %d %v", rec.Code, body)
	}
	schedules, _ := body["schedules"].([]interface{})
	first, _ := schedules[0].(map[string]interface{})
	if first["name"] != "contract_monitor" {
		t.Errorf("schedule = %v", first)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)

	rec, body := doJSON(t, srv.Handler(), "GET", "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz: %d %v", rec.Code, body)
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("healthz missing uptime")
	}
}
