// Package httpapi exposes the daemon's local control surface: hook ingestion,
// activation toggling, and read-only status endpoints. It binds to localhost;
// the remote human never talks to this API directly.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/afkbridge/afkd/internal/audit"
	"github.com/afkbridge/afkd/internal/config"
	"github.com/afkbridge/afkd/internal/manager"
	"github.com/afkbridge/afkd/internal/observability"
	"github.com/afkbridge/afkd/internal/protocol"
	"github.com/afkbridge/afkd/internal/session"
)

type Server struct {
	cfg      config.Config
	manager  *manager.Manager
	registry *session.Registry
	audits   audit.Store
}

func New(cfg config.Config, mgr *manager.Manager, registry *session.Registry, audits audit.Store) *Server {
	return &Server{cfg: cfg, manager: mgr, registry: registry, audits: audits}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/hook", s.handleHook)
	r.Post("/v1/activate", s.handleActivate)
	r.Post("/v1/deactivate", s.handleDeactivate)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/queue", s.handleQueue)
	r.Get("/v1/sessions", s.handleSessions)
	r.Delete("/v1/sessions/{name}", s.handleRemoveSession)
	r.Get("/v1/audit", s.handleAudit)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bridge": string(s.manager.State()),
	})
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req, err := protocol.ParseHookRequest(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_hook", err.Error())
		return
	}
	resp := s.manager.HandleHookRequest(r.Context(), req)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Activate(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "activation_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bridge": string(s.manager.State())})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, _ *http.Request) {
	// Deactivation flushes the queue; use a fresh context so a canceled
	// request does not strand abandoned hooks.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.manager.Deactivate(ctx)
	respondJSON(w, http.StatusOK, map[string]any{"bridge": string(s.manager.State())})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"bridge":     string(s.manager.State()),
		"queue_size": s.manager.Queue().Size(),
		"active":     s.manager.Queue().Active() != nil,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	entries := s.manager.Queue().Summary()
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.registry == nil {
		respondJSON(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_session", "missing session name")
		return
	}
	s.manager.CleanupSession(name)
	if s.registry != nil {
		s.registry.Remove(name)
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": name})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		respondJSON(w, http.StatusOK, map[string]any{"records": []audit.Record{}})
		return
	}
	sessionName := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionName == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "query parameter session is required")
		return
	}
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.audits.Recent(r.Context(), sessionName, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audit_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
