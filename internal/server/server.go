// Package server exposes the operational HTTP surface: investigation
// and task facades over the core, plus the dashboard websocket stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/events"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/executor"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/queue"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/store"
)

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	store     *store.Store
	queue     *queue.Queue
	scheduler *queue.Scheduler
	exec      *executor.Executor
	bus       *events.Bus

	eventCh   <-chan events.Event
	startTime time.Time
	log       zerolog.Logger
}

// New wires the server over the core components. bus may be nil; the
// websocket stream is then silent.
func New(st *store.Store, q *queue.Queue, sched *queue.Scheduler, exec *executor.Executor, bus *events.Bus) *Server {
	s := &Server{
		hub:       NewHub(),
		store:     st,
		queue:     q,
		scheduler: sched,
		exec:      exec,
		bus:       bus,
		startTime: time.Now(),
		log:       logging.Component("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.requestLog)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/investigations", s.handleCreateInvestigation).Methods("POST")
	api.HandleFunc("/investigations", s.handleListInvestigations).Methods("GET")
	api.HandleFunc("/investigations/{id}", s.handleGetInvestigation).Methods("GET")
	api.HandleFunc("/tasks", s.handleEnqueueTask).Methods("POST")
	api.HandleFunc("/tasks/stats", s.handleTaskStats).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleCancelTask).Methods("DELETE")
	api.HandleFunc("/schedules", s.handleListSchedules).Methods("GET")
	api.HandleFunc("/monitor/run", s.handleMonitorRun).Methods("POST")
	api.HandleFunc("/anomalies", s.handleListAnomalies).Methods("GET")
	api.HandleFunc("/anomalies/{id}", s.handleUpdateAnomaly).Methods("PATCH")
	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start binds the listener and serves until Shutdown.
func (s *Server) Start(port int) error {
	if s.bus != nil {
		s.eventCh = s.bus.Subscribe()
	} else {
		s.eventCh = make(chan events.Event)
	}
	go s.hub.Run(s.eventCh)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.bus != nil && s.eventCh != nil {
		s.bus.Unsubscribe(s.eventCh)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, wsBufferSize)}
	s.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// requestLog logs each request at debug level.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}
