package web

import (
	"encoding/json"
	"net/http"

	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/db"
)

type createKeyRequest struct {
	Name       string   `json:"name"`
	ExpiresAt  string   `json:"expires_at"`
	RateLimit  int      `json:"rate_limit"`
	DailyQuota int      `json:"daily_quota"`
	Scopes     []string `json:"scopes"`
}

type updateKeyRequest struct {
	Name       *string  `json:"name"`
	Enabled    *bool    `json:"enabled"`
	ExpiresAt  *string  `json:"expires_at"`
	RateLimit  *int     `json:"rate_limit"`
	DailyQuota *int     `json:"daily_quota"`
	Scopes     []string `json:"scopes"`
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentials.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAPIKeys(creds))
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	cred, err := s.credentials.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cred == nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, toAPIKey(cred))
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	created, err := s.credentials.Create(auth.CreateParams{
		Name:       req.Name,
		ExpiresAt:  req.ExpiresAt,
		RateLimit:  req.RateLimit,
		DailyQuota: req.DailyQuota,
		Scopes:     req.Scopes,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := toAPIKey(created.Credential)
	writeJSON(w, http.StatusCreated, map[string]any{"key": resp, "token": created.RawKey})
}

func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req updateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	patch := db.CredentialPatch{
		Name:       req.Name,
		Enabled:    req.Enabled,
		ExpiresAt:  req.ExpiresAt,
		RateLimit:  req.RateLimit,
		DailyQuota: req.DailyQuota,
	}
	if req.Scopes != nil {
		encoded := auth.EncodeScopes(req.Scopes)
		patch.Scopes = &encoded
	}
	cred, err := s.credentials.Update(r.PathValue("id"), patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cred == nil {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, toAPIKey(cred))
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	ok, err := s.credentials.Delete(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	created, err := s.credentials.Regenerate(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": toAPIKey(created.Credential), "token": created.RawKey})
}
