package web

import (
	"net/http"
	"time"

	"github.com/fran0220/jimeng-gateway/internal/auth"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok || caller.Kind == auth.KindAnonymous {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if caller.IsAdmin() {
		writeJSON(w, http.StatusOK, map[string]any{
			"role":   "admin",
			"name":   caller.Name,
			"scopes": []string{"admin"},
		})
		return
	}

	today := time.Now().UTC().Format("2006-01-02")
	_, taskCount, err := s.store.TodayUsage(caller.KeyID, today)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	quotaRemaining := -1
	if caller.DailyQuota > 0 {
		quotaRemaining = caller.DailyQuota - taskCount
		if quotaRemaining < 0 {
			quotaRemaining = 0
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":             "api_key",
		"name":             caller.Name,
		"scopes":           caller.Scopes,
		"rate_limit":       caller.RateLimit,
		"daily_quota":      caller.DailyQuota,
		"tasks_today":      taskCount,
		"quota_remaining":  quotaRemaining,
	})
}
