package web

import (
	"encoding/json"
	"net/http"
)

type addSessionRequest struct {
	Label     string `json:"label"`
	SessionID string `json:"session_id"`
}

type toggleSessionRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toAPISessions(s.pool.List()))
}

func (s *Server) handleAddSession(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req addSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Label == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "label and session_id are required")
		return
	}
	session, err := s.pool.Add(req.Label, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toAPISession(session.Masked()))
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	ok, err := s.pool.Remove(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleSession(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req toggleSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	ok, err := s.pool.Toggle(r.PathValue("id"), req.Enabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if session := s.pool.Get(r.PathValue("id")); session != nil {
		writeJSON(w, http.StatusOK, toAPISession(*session))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestSession issues a live probe against the upstream using the
// session's raw (unmasked) token, which only the store can provide.
func (s *Server) handleTestSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.client.TestSession(r.Context(), session.SessionID); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
