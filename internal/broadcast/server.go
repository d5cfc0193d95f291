// Package broadcast serves the operator surface: a periodic system state
// stream over websocket plus start/stop/risk control endpoints.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// Source provides the state snapshots to publish.
type Source interface {
	Snapshot() schema.SystemState
}

// Controller is the runtime control surface exposed over HTTP.
type Controller interface {
	Start()
	Stop(reason string)
	UpdateRiskConfig(schema.RiskConfig) error
	ResetDaily()
}

// Config controls the listen address and publish cadence.
type Config struct {
	Addr     string
	Interval time.Duration
}

// Server publishes state snapshots to every connected client on a fixed
// interval and on demand via GET /state.
type Server struct {
	cfg        Config
	source     Source
	controller Controller
	hub        *hub[schema.SystemState]
	upgrader   websocket.Upgrader
}

// NewServer builds the operator server.
func NewServer(cfg Config, source Source, controller Controller) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Server{
		cfg:        cfg,
		source:     source,
		controller: controller,
		hub:        newHub[schema.SystemState](),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.routes()}

	go s.publishLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logs.Infof("operator server listening on %s", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/ws/state", s.handleStateStream)
	mux.HandleFunc("/control/start", s.handleStart)
	mux.HandleFunc("/control/stop", s.handleStop)
	mux.HandleFunc("/control/risk", s.handleRisk)
	mux.HandleFunc("/control/reset-daily", s.handleResetDaily)
	return mux
}

func (s *Server) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Len() == 0 {
				continue
			}
			s.hub.Broadcast(s.source.Snapshot())
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(8)
	defer s.hub.Unsubscribe(sub)

	// First frame immediately so clients do not wait a full interval.
	if err := conn.WriteJSON(s.source.Snapshot()); err != nil {
		return
	}
	for state := range sub.ch {
		if err := conn.WriteJSON(state); err != nil {
			return
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.controller.Start()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.controller.Stop("operator stop")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var cfg schema.RiskConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.controller.UpdateRiskConfig(cfg); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleResetDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.controller.ResetDaily()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
