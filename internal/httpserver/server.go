package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/launchbox/launchbox/internal/apps"
	"github.com/launchbox/launchbox/internal/bridge"
	"github.com/launchbox/launchbox/internal/config"
	"github.com/launchbox/launchbox/internal/events"
	"github.com/launchbox/launchbox/internal/hardware"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Server struct {
	cfg    atomic.Pointer[config.Config]
	log    *zap.Logger
	bus    *events.Bus
	bridge *bridge.Bridge
	apps   *apps.Manager
	kind   hardware.Kind
	r      *chi.Mux
	up     websocket.Upgrader
}

func New(cfg *config.Config, log *zap.Logger, bus *events.Bus, br *bridge.Bridge, mgr *apps.Manager, kind hardware.Kind) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	s := &Server{
		log:    log,
		bus:    bus,
		bridge: br,
		apps:   mgr,
		kind:   kind,
		r:      r,
		up:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.cfg.Store(cfg)
	s.routes()
	return s
}

func (s *Server) Router() http.Handler      { return s.r }
func (s *Server) Reload(cfg *config.Config) { s.cfg.Store(cfg) }

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.r.Get("/v1/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name":     "launchbox",
			"time":     time.Now().UTC(),
			"hardware": s.kind,
			"queue":    s.cfg.Load().Bridge.QueueSize,
			"bus":      s.bus.Stats(),
			"bridge":   s.bridge.Stats(),
			"app":      s.apps.Current(),
		})
	})

	s.r.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.up.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		s.bridge.Serve(r.Context(), conn)
	})

	s.r.Post("/v1/buttons/{id}/press", func(w http.ResponseWriter, r *http.Request) {
		err := s.bridge.Press(r.Context(), chi.URLParam(r, "id"))
		s.ack(w, bridge.CommandPressButton, err)
	})

	s.r.Post("/v1/switch", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value *int `json:"value"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1024)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
			s.ack(w, bridge.CommandSetSwitch, bridge.ErrInvalidCommand)
			return
		}
		s.ack(w, bridge.CommandSetSwitch, s.bridge.SetSwitch(r.Context(), *body.Value))
	})

	s.r.Route("/v1/apps", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.apps.List())
		})
		r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
			s.apps.Stop()
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		})
		r.Post("/{name}/start", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			if err := s.apps.Start(name); err != nil {
				writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "app": name})
		})
	})
}

// ack answers a command endpoint. State is never returned here; it reaches
// clients through the event stream.
func (s *Server) ack(w http.ResponseWriter, command string, err error) {
	if err != nil {
		s.log.Debug("command rejected", zap.String("command", command), zap.Error(err))
		writeJSON(w, statusFor(err), map[string]any{"command": command, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": command, "status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrInvalidCommand),
		errors.Is(err, bridge.ErrUnknownButton),
		errors.Is(err, bridge.ErrSwitchOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrCommandsUnavailable):
		return http.StatusConflict
	case errors.Is(err, apps.ErrUnknownApp):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
