package server

import (
	"encoding/json"
	"net/http"

	"github.com/miniagent/miniagent/internal/sessions"
	"github.com/miniagent/miniagent/pkg/models"
)

type sessionListItem struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]sessionListItem, len(infos))
	for i, info := range infos {
		items[i] = sessionListItem{Key: info.Key, Name: info.Name}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := sessions.SafeKey(r.PathValue("key"))
	msgs, err := s.store.List(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	key := sessions.SafeKey(r.PathValue("key"))
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if err := s.store.Rename(r.Context(), key, body.Name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "name": body.Name})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := sessions.SafeKey(r.PathValue("key"))
	if err := s.store.Delete(r.Context(), key); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type toolDetail struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	specs := s.registry.List()
	grouped := map[string][]toolSummary{}
	for _, spec := range specs {
		category := spec.Category
		if category == "" {
			category = "general"
		}
		grouped[category] = append(grouped[category], toolSummary{
			Name:        spec.Name,
			Description: spec.Description,
			Category:    spec.Category,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": grouped})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	spec, err := s.registry.Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toolDetail{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  spec.ArgumentsSchema,
	})
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	entries := s.skills.List()
	s.writeJSON(w, http.StatusOK, map[string]any{"skills": entries})
}

func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	entry, err := s.skills.Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":        entry.Name,
		"description": entry.Description,
		"body":        entry.Body,
	})
}
