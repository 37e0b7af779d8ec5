// Package web exposes the gateway's HTTP surface: the typed task API,
// an OpenAI/jimeng-free-api-compatible layer, and admin endpoints for
// session and API-key management.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/config"
	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/queue"
	"github.com/fran0220/jimeng-gateway/internal/sessionpool"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
)

// Server is the gateway's HTTP server.
type Server struct {
	cfg         config.Config
	store       *db.DB
	pool        *sessionpool.Pool
	queue       *queue.Queue
	credentials *auth.Credentials
	gate        *auth.Gate
	client      *upstream.Client

	mux    *http.ServeMux
	server *http.Server
}

// New builds a Server. Call Start to begin serving.
func New(cfg config.Config, store *db.DB, pool *sessionpool.Pool, q *queue.Queue, credentials *auth.Credentials, gate *auth.Gate, client *upstream.Client) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		pool:        pool,
		queue:       q,
		credentials: credentials,
		gate:        gate,
		client:      client,
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests. It blocks until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("jimeng-gateway listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authed wraps a handler with the admission gate and, when scope is
// non-empty, a scope check. Routes that merely need a caller attached
// (stats, me) pass an empty scope.
func (s *Server) authed(scope string, h http.HandlerFunc) http.Handler {
	var handler http.Handler = h
	if scope != "" {
		handler = auth.RequireScope(scope)(handler)
	}
	return s.gate.Middleware(handler)
}

func (s *Server) registerRoutes() {
	// Typed task API.
	s.mux.Handle("GET /api/v1/tasks", s.authed("task:read", s.handleListTasks))
	s.mux.Handle("POST /api/v1/tasks", s.authed("video:create", s.handleCreateTask))
	s.mux.Handle("GET /api/v1/tasks/{id}", s.authed("task:read", s.handleGetTask))
	s.mux.Handle("POST /api/v1/tasks/{id}/cancel", s.authed("task:cancel", s.handleCancelTask))
	s.mux.Handle("POST /api/v1/tasks/{id}/retry", s.authed("video:create", s.handleRetryTask))
	s.mux.Handle("GET /api/v1/stats", s.authed("", s.handleStats))

	// Admin: session pool CRUD.
	s.mux.Handle("GET /api/v1/sessions", s.authed("admin", s.handleListSessions))
	s.mux.Handle("POST /api/v1/sessions", s.authed("admin", s.handleAddSession))
	s.mux.Handle("DELETE /api/v1/sessions/{id}", s.authed("admin", s.handleRemoveSession))
	s.mux.Handle("PATCH /api/v1/sessions/{id}", s.authed("admin", s.handleToggleSession))
	s.mux.Handle("POST /api/v1/sessions/{id}/test", s.authed("admin", s.handleTestSession))

	// Admin: API key CRUD.
	s.mux.Handle("GET /api/v1/keys", s.authed("admin", s.handleListKeys))
	s.mux.Handle("POST /api/v1/keys", s.authed("admin", s.handleCreateKey))
	s.mux.Handle("GET /api/v1/keys/{id}", s.authed("admin", s.handleGetKey))
	s.mux.Handle("PATCH /api/v1/keys/{id}", s.authed("admin", s.handleUpdateKey))
	s.mux.Handle("DELETE /api/v1/keys/{id}", s.authed("admin", s.handleDeleteKey))
	s.mux.Handle("POST /api/v1/keys/{id}/regenerate", s.authed("admin", s.handleRegenerateKey))

	// Admin: usage reporting.
	s.mux.Handle("GET /api/v1/usage", s.authed("admin", s.handleUsage))
	s.mux.Handle("GET /api/v1/usage/summary", s.authed("admin", s.handleUsageSummary))

	s.mux.Handle("GET /api/v1/me", s.authed("", s.handleMe))

	// jimeng-free-api-all compatibility layer. /v1/models and /ping carry
	// no auth requirement at all, not even an anonymous pass-through, so
	// they are mounted directly on the mux rather than through the gate.
	s.mux.Handle("POST /v1/videos/generations", s.authed("video:create", s.handleCompatGenerate))
	s.mux.HandleFunc("GET /v1/models", s.handleCompatModels)
	s.mux.HandleFunc("GET /ping", s.handlePing)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeQuotaExceeded reports a daily-quota rejection with the quota
// and usage figures a client needs to back off intelligently.
func writeQuotaExceeded(w http.ResponseWriter, qe *auth.QuotaExceededError) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "Daily quota exceeded",
		"daily_quota": qe.DailyQuota,
		"used":        qe.Used,
	})
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

func parseLimitOffset(r *http.Request, defaultLimit int) (limit int, err error) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	return limit, nil
}
