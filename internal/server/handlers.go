package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/queue"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
)

// Task types the boundary layer enqueues; handlers for them are
// registered at wiring time.
const (
	TaskInvestigationRun = "investigation.run"
	TaskMonitorRun       = "monitor.run"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleCreateInvestigation enqueues an investigation run and returns
// the task id tracking it.
func (s *Server) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string `json:"query"`
		UserID   string `json:"user_id"`
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	priority := queue.PriorityHigh
	if req.Priority != "" {
		priority = queue.ParsePriority(req.Priority)
	}
	taskID, err := s.queue.Enqueue(TaskInvestigationRun, map[string]interface{}{
		"query":   req.Query,
		"user_id": req.UserID,
	}, priority, queue.EnqueueOpts{})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
}

func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	invs, err := s.store.ListInvestigations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"investigations": invs, "count": len(invs)})
}

// handleGetInvestigation looks the id up in both tables: user-initiated
// first, then auto-triggered.
func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inv, err := s.store.GetInvestigation(r.Context(), id)
	if err == store.ErrNotFound {
		inv, err = s.store.GetAutoInvestigation(r.Context(), id)
	}
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "investigation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskType       string                 `json:"task_type"`
		Payload        map[string]interface{} `json:"payload"`
		Priority       string                 `json:"priority"`
		TimeoutSeconds int                    `json:"timeout_seconds"`
		MaxRetries     int                    `json:"max_retries"`
		CallbackURL    string                 `json:"callback_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TaskType == "" {
		writeError(w, http.StatusBadRequest, "task_type is required")
		return
	}

	taskID, err := s.queue.Enqueue(req.TaskType, req.Payload, queue.ParsePriority(req.Priority), queue.EnqueueOpts{
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
		MaxRetries:  req.MaxRetries,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, ok := s.queue.GetTaskStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	resp := map[string]interface{}{"task_id": id, "status": status}
	if res := s.queue.GetTaskResult(id); res != nil {
		resp["result"] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.queue.CancelTask(id) {
		writeError(w, http.StatusConflict, "task is not pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "cancelled"})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"queue": s.queue.GetStats()}
	if s.exec != nil {
		resp["executor"] = s.exec.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := s.scheduler.Schedules()
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": schedules, "count": len(schedules)})
}

// handleMonitorRun enqueues a monitor pass at high priority.
func (s *Server) handleMonitorRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LookbackHours int      `json:"lookback_hours"`
		Organisations []string `json:"organisations"`
		Historical    bool     `json:"historical"`
		MonthsBack    int      `json:"months_back"`
		BatchSize     int      `json:"batch_size"`
	}
	// Empty body runs with defaults.
	_ = json.NewDecoder(r.Body).Decode(&req)

	payload := map[string]interface{}{
		"lookback_hours": req.LookbackHours,
		"organisations":  req.Organisations,
		"historical":     req.Historical,
		"months_back":    req.MonthsBack,
		"batch_size":     req.BatchSize,
	}
	taskID, err := s.queue.Enqueue(TaskMonitorRun, payload, queue.PriorityHigh, queue.EnqueueOpts{})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	minScore, _ := strconv.ParseFloat(q.Get("min_score"), 64)

	anomalies, err := s.store.ListAnomalies(r.Context(), store.AnomalyFilter{
		Severity:        q.Get("severity"),
		Status:          q.Get("status"),
		Source:          q.Get("source"),
		InvestigationID: q.Get("investigation_id"),
		MinScore:        minScore,
	}, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": anomalies, "count": len(anomalies)})
}

func (s *Server) handleUpdateAnomaly(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status     string `json:"status"`
		AssignedTo string `json:"assigned_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	err := s.store.UpdateAnomalyStatus(r.Context(), id, req.Status, req.AssignedTo)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "anomaly not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	anomaly, err := s.store.GetAnomaly(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, anomaly)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts, err := s.store.ListAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
	})
}
