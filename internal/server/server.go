// Package server exposes the chat product's HTTP surface: the three
// streaming POST routes, chat listing, health, schema, and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/auth"
	"github.com/vantagesec/vantage/internal/catalog"
	"github.com/vantagesec/vantage/internal/config"
	"github.com/vantagesec/vantage/internal/executors"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/pipeline"
	"github.com/vantagesec/vantage/internal/ratelimit"
	"github.com/vantagesec/vantage/internal/reconcile"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/internal/search"
	"github.com/vantagesec/vantage/internal/store"
	"github.com/vantagesec/vantage/pkg/models"
)

// Deps carries every collaborator the routes dispatch into. The command
// layer builds this once at startup; tests substitute fakes freely.
type Deps struct {
	Config     *config.Config
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Store      store.Store
	Reconciler *reconcile.Reconciler
	Pipeline   *pipeline.Pipeline
	Catalog    *catalog.Catalog
	Providers  map[catalog.ProviderKind]agent.LLMProvider
	Limiter    *ratelimit.Limiter
	Auth       *auth.Service
	Sandboxes  *sandbox.Manager
	Truncator  *agent.Truncator
	Searcher   search.Searcher
	Browser    *executors.Browser
	Titles     *executors.TitleGenerator
	Tracer     *observability.Tracer
	Registry   *prometheus.Registry
}

// Server is the HTTP front of the chat core.
type Server struct {
	deps  Deps
	mux   *http.ServeMux
	start time.Time
}

// New assembles the route table.
func New(deps Deps) *Server {
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer("vantage")
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), start: time.Now()}

	authn := authMiddleware(deps.Auth, deps.Logger)

	s.mux.Handle("POST /api/chat", authn(s.turnHandler(models.PluginNone, deps.Config.Server.ChatBudget)))
	s.mux.Handle("POST /api/agent", authn(s.turnHandler(models.PluginTerminal, deps.Config.Server.AgentBudget)))
	s.mux.Handle("POST /api/tasks", authn(s.turnHandler(models.PluginDeepResearch, deps.Config.Server.AgentBudget)))

	s.mux.Handle("GET /api/chats", authn(http.HandlerFunc(s.handleListChats)))
	s.mux.Handle("GET /api/chats/{id}/messages", authn(http.HandlerFunc(s.handleListMessages)))
	s.mux.Handle("DELETE /api/chats/{id}", authn(http.HandlerFunc(s.handleDeleteChat)))

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/schema", s.handleSchema)
	if deps.Registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the root handler with cross-cutting middleware applied.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(loggingMiddleware(s.deps.Logger)(s.mux))
}

// ListenAndServe blocks serving the configured address.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.deps.Logger.Info(context.Background(), "listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	chats, err := s.deps.Store.ListChats(r.Context(), user.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list chats")
		return
	}
	writeJSON(w, map[string]any{"chats": chats})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	chatID := r.PathValue("id")

	chat, err := s.deps.Store.GetChat(r.Context(), chatID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load chat")
		return
	}
	if chat.UserID != user.ID {
		writeError(w, http.StatusForbidden, "forbidden", "chat belongs to another user")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	msgs, err := s.deps.Store.GetMessages(r.Context(), chatID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list messages")
		return
	}
	writeJSON(w, map[string]any{"chat": chat, "messages": msgs})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	chatID := r.PathValue("id")

	chat, err := s.deps.Store.GetChat(r.Context(), chatID)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load chat")
		return
	}
	if chat.UserID != user.ID {
		writeError(w, http.StatusForbidden, "forbidden", "chat belongs to another user")
		return
	}
	if err := s.deps.Store.DeleteChat(r.Context(), chatID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"uptime_s":   int(time.Since(s.start).Seconds()),
		"goroutines": runtime.NumGoroutine(),
	})
}

// maxBodyBytes bounds request bodies; attachments ride inline as base64.
const maxBodyBytes = 32 << 20

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// anonymousUser is the identity used when auth is disabled.
func anonymousUser() *models.User {
	return &models.User{ID: "anonymous", Tier: models.TierFree}
}
