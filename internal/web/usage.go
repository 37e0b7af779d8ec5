package web

import (
	"net/http"
	"time"
)

// usageSummaryDefaultWindow is how far back /usage/summary looks when
// the caller doesn't supply from/to.
const usageSummaryDefaultWindow = 30 * 24 * time.Hour

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	credentialID := r.URL.Query().Get("key_id")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	rows, err := s.store.QueryUsage(credentialID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAPIUsageRows(rows))
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	now := time.Now().UTC()
	if to == "" {
		to = now.Format("2006-01-02")
	}
	if from == "" {
		from = now.Add(-usageSummaryDefaultWindow).Format("2006-01-02")
	}
	rows, err := s.store.UsageSummary(from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAPIUsageSummary(rows))
}
