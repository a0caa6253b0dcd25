package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/observability"
	"github.com/ent0n29/voxbridge/internal/session"
	"github.com/ent0n29/voxbridge/internal/voice"
)

// Controller is the slice of the orchestrator the HTTP surface drives.
type Controller interface {
	Status(now time.Time) session.Status
	Advance(ctx context.Context) (session.Transition, error)
	Select(ctx context.Context, targetID string) (session.Target, error)
	PushBrowserAudio(samples []int16, sampleRate int)
	Done() <-chan struct{}
}

// PlaybackControl pauses and resumes local speech output.
type PlaybackControl interface {
	Pause()
	Resume()
}

type Server struct {
	cfg      config.Config
	ctrl     Controller
	playback PlaybackControl
	hub      *Hub
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, ctrl Controller, playback PlaybackControl, hub *Hub, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(logger, metrics)
	}
	return &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		playback: playback,
		hub:      hub,
		metrics:  metrics,
		logger:   logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				return sameOrigin(r)
			},
		},
	}
}

// sameOrigin accepts non-browser clients that send no Origin header.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/mode/advance", s.handleAdvance)
		r.Get("/targets", s.handleTargets)
		r.Post("/targets/select", s.handleSelect)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Get("/ws", s.handleWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"browser_clients": s.hub.ClientCount(),
	})
}

// handleReady fails once the orchestrator loop has stopped.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ctrl == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "orchestrator not configured")
		return
	}
	select {
	case <-s.ctrl.Done():
		respondError(w, http.StatusServiceUnavailable, "stopped", "orchestrator stopped")
	default:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.requireController(w) {
		return
	}
	respondJSON(w, http.StatusOK, s.ctrl.Status(time.Now()))
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	tr, err := s.ctrl.Advance(r.Context())
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tr)
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	if !s.requireController(w) {
		return
	}
	st := s.ctrl.Status(time.Now())
	targets := st.Targets
	if targets == nil {
		targets = []session.Target{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"targets":  targets,
		"selected": st.Selected,
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	var req session.SelectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.TargetID == "" {
		respondError(w, http.StatusBadRequest, "invalid_target_id", "target_id is required")
		return
	}
	target, err := s.ctrl.Select(r.Context(), req.TargetID)
	if err != nil {
		s.respondControlError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, target)
}

func (s *Server) requireController(w http.ResponseWriter) bool {
	if s.ctrl == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return false
	}
	return true
}

func (s *Server) respondControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownTarget):
		respondError(w, http.StatusNotFound, "target_not_found", err.Error())
	case errors.Is(err, voice.ErrOrchestratorStopped):
		respondError(w, http.StatusServiceUnavailable, "stopped", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusRequestTimeout, "canceled", err.Error())
	default:
		s.logger.Error("control request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
