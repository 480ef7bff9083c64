package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/miniagent/miniagent/internal/observability"
)

type chatRequest struct {
	Message    string `json:"message"`
	SessionKey string `json:"session_key"`
}

// handleChat runs one agent query and narrates it as SSE frames. The
// request context is cancelled by the HTTP stack when the client
// disconnects, which propagates straight into the loop.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if req.SessionKey == "" {
		req.SessionKey = "default"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observability.ActiveStreams.Inc()
	defer observability.ActiveStreams.Dec()

	ctx := r.Context()
	events := s.agent.Run(ctx, req.SessionKey, req.Message)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("failed to encode event", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; the context cancels the loop, we just
			// drain the channel.
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}
