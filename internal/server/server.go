// Package server exposes the agent over HTTP: a streaming chat endpoint
// plus read endpoints for sessions, tools, and skills.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/internal/agent"
	"github.com/miniagent/miniagent/internal/sessions"
	"github.com/miniagent/miniagent/internal/skills"
	"github.com/miniagent/miniagent/internal/tools"
)

// Server owns the HTTP listener and routes.
type Server struct {
	addr     string
	agent    *agent.Agent
	store    sessions.Store
	registry *tools.Registry
	skills   *skills.Manager
	logger   *slog.Logger

	httpServer *http.Server
}

// New wires the server over its collaborators.
func New(addr string, ag *agent.Agent, store sessions.Store, registry *tools.Registry, sk *skills.Manager) *Server {
	return &Server{
		addr:     addr,
		agent:    ag,
		store:    store,
		registry: registry,
		skills:   sk,
		logger:   slog.Default().With("component", "server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/sessions/{key}", s.handleRenameSession)
	mux.HandleFunc("DELETE /api/sessions/{key}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("GET /api/tools/{name}", s.handleGetTool)
	mux.HandleFunc("GET /api/skills", s.handleListSkills)
	mux.HandleFunc("GET /api/skills/{name}", s.handleGetSkill)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// ListenAndServe binds the address and serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return aerrors.Wrap(aerrors.KindConfig, "http listen", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return aerrors.Wrap(aerrors.KindIO, "http serve", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON serialises a response body; failures after the header is out
// are only logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError maps the shared taxonomy to status codes: NotFound to 404,
// BadArguments to 400, everything else to 500 with a generic message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case aerrors.Is(err, aerrors.KindNotFound):
		status = http.StatusNotFound
		msg = aerrors.MessageOf(err)
	case aerrors.Is(err, aerrors.KindBadArguments):
		status = http.StatusBadRequest
		msg = aerrors.MessageOf(err)
	default:
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}
