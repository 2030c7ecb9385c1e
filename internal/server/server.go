// Package server exposes the operator-facing admin surface over HTTP: take
// control of an escalated conversation, reply as the operator, resolve it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/unrolled/secure"

	"github.com/skedy/conversation-core/internal/escalation"
	"github.com/skedy/conversation-core/internal/store"
	"github.com/skedy/conversation-core/pkg/logger"
	"github.com/skedy/conversation-core/pkg/metrics"
)

// Config holds the HTTP server settings.
type Config struct {
	Port           int      `yaml:"port" env:"SERVER_PORT" default:"8080"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS" default:"https://*"`
}

// Server is the admin HTTP server.
type Server struct {
	cfg     Config
	manager *escalation.Manager
	log     logger.Logger
	mtx     *metrics.Metrics
	server  *http.Server
}

// New creates the admin server.
func New(cfg Config, manager *escalation.Manager, mtx *metrics.Metrics, log logger.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		log:     log,
		mtx:     mtx,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(s.log.HTTPMiddleware)
	r.Use(s.mtx.HTTPMiddleware())

	r.Get("/healthz", s.handleHealth)
	r.Route("/admin/escalations/{sessionID}", func(r chi.Router) {
		r.Post("/take-control", s.handleTakeControl)
		r.Post("/message", s.handleMessage)
		r.Post("/resolve", s.handleResolve)
	})

	return r
}

// Listen starts serving and blocks until the server stops.
func (s *Server) Listen() error {
	s.log.Info("starting admin server", logger.IntField("port", s.cfg.Port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type actionResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type takeControlRequest struct {
	OperatorID string `json:"operator_id"`
}

type messageRequest struct {
	OperatorID string `json:"operator_id"`
	Text       string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTakeControl(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req takeControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OperatorID == "" {
		writeJSON(w, http.StatusBadRequest, actionResponse{Reason: "operator_id is required"})
		return
	}

	if err := s.manager.TakeControl(r.Context(), sessionID, req.OperatorID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OperatorID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, actionResponse{Reason: "operator_id and text are required"})
		return
	}

	if err := s.manager.OperatorSend(r.Context(), sessionID, req.OperatorID, req.Text); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.manager.Resolve(r.Context(), sessionID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

// writeActionError maps escalation errors onto status codes with the
// human-readable reason the dashboard shows operators.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escalation.ErrConflict),
		errors.Is(err, escalation.ErrAlreadyEscalated),
		errors.Is(err, escalation.ErrWrongOperator),
		errors.Is(err, escalation.ErrNotAttending):
		writeJSON(w, http.StatusConflict, actionResponse{Reason: err.Error()})
	case errors.Is(err, escalation.ErrNoActive), errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, actionResponse{Reason: err.Error()})
	default:
		s.log.Error("admin action failed", logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, actionResponse{Reason: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
