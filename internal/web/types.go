package web

import (
	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/db"
)

// APITask is the JSON representation of a queued video task.
type APITask struct {
	ID                  string  `json:"id"`
	Status              string  `json:"status"`
	Model               string  `json:"model"`
	Prompt              string  `json:"prompt"`
	Duration            int     `json:"duration"`
	Ratio               string  `json:"ratio"`
	SessionPoolID       *string `json:"session_pool_id"`
	HistoryRecordID     *string `json:"history_record_id"`
	QueuePosition       *int    `json:"queue_position"`
	QueueTotal          *int    `json:"queue_total"`
	QueueETA            *string `json:"queue_eta"`
	VideoURL            *string `json:"video_url"`
	ErrorMessage        *string `json:"error_message"`
	ErrorKind           *string `json:"error_kind"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
	StartedAt           *string `json:"started_at"`
	FinishedAt          *string `json:"finished_at"`
}

func toAPITask(t *db.Task) APITask {
	return APITask{
		ID:              t.ID,
		Status:          t.Status,
		Model:           t.Model,
		Prompt:          t.Prompt,
		Duration:        t.Duration,
		Ratio:           t.Ratio,
		SessionPoolID:   t.SessionPoolID,
		HistoryRecordID: t.HistoryRecordID,
		QueuePosition:   t.QueuePosition,
		QueueTotal:      t.QueueTotal,
		QueueETA:        t.QueueETA,
		VideoURL:        t.VideoURL,
		ErrorMessage:    t.ErrorMessage,
		ErrorKind:       t.ErrorKind,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		StartedAt:       t.StartedAt,
		FinishedAt:      t.FinishedAt,
	}
}

func toAPITasks(tasks []*db.Task) []APITask {
	out := make([]APITask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toAPITask(t))
	}
	return out
}

// APISession is the JSON representation of a pool session, with
// session_id already masked by the caller.
type APISession struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	SessionID    string  `json:"session_id"`
	Enabled      bool    `json:"enabled"`
	Healthy      bool    `json:"healthy"`
	ActiveTasks  int     `json:"active_tasks"`
	TotalTasks   int     `json:"total_tasks"`
	SuccessCount int     `json:"success_count"`
	FailCount    int     `json:"fail_count"`
	LastUsedAt   *string `json:"last_used_at"`
	LastError    *string `json:"last_error"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func toAPISession(s db.Session) APISession {
	return APISession{
		ID:           s.ID,
		Label:        s.Label,
		SessionID:    s.SessionID,
		Enabled:      s.Enabled,
		Healthy:      s.Healthy,
		ActiveTasks:  s.ActiveTasks,
		TotalTasks:   s.TotalTasks,
		SuccessCount: s.SuccessCount,
		FailCount:    s.FailCount,
		LastUsedAt:   s.LastUsedAt,
		LastError:    s.LastError,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func toAPISessions(sessions []db.Session) []APISession {
	out := make([]APISession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toAPISession(s))
	}
	return out
}

// APIKey is the JSON representation of a credential, never including
// the raw bearer token (only returned once, at creation/regeneration).
type APIKey struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	KeyPrefix  string  `json:"key_prefix"`
	Enabled    bool    `json:"enabled"`
	ExpiresAt  *string `json:"expires_at"`
	RateLimit  int     `json:"rate_limit"`
	DailyQuota int     `json:"daily_quota"`
	Scopes     []string `json:"scopes"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at"`
}

func toAPIKey(c *db.Credential) APIKey {
	return APIKey{
		ID:         c.ID,
		Name:       c.Name,
		KeyPrefix:  c.KeyPrefix,
		Enabled:    c.Enabled,
		ExpiresAt:  c.ExpiresAt,
		RateLimit:  c.RateLimit,
		DailyQuota: c.DailyQuota,
		Scopes:     auth.DecodeScopes(c.Scopes),
		CreatedAt:  c.CreatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}

func toAPIKeys(creds []*db.Credential) []APIKey {
	out := make([]APIKey, 0, len(creds))
	for _, c := range creds {
		out = append(out, toAPIKey(c))
	}
	return out
}

// APIUsageRow is one credential's usage on one day.
type APIUsageRow struct {
	KeyID        string `json:"key_id"`
	KeyName      string `json:"key_name"`
	Date         string `json:"date"`
	RequestCount int    `json:"request_count"`
	TaskCount    int    `json:"task_count"`
}

func toAPIUsageRows(rows []*db.UsageRow) []APIUsageRow {
	out := make([]APIUsageRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, APIUsageRow{
			KeyID:        r.APIKeyID,
			KeyName:      r.CredentialName,
			Date:         r.Date,
			RequestCount: r.RequestCount,
			TaskCount:    r.TaskCount,
		})
	}
	return out
}

// APIUsageSummaryRow aggregates one credential's usage across a range.
type APIUsageSummaryRow struct {
	KeyID        string `json:"key_id"`
	KeyName      string `json:"key_name"`
	RequestCount int    `json:"request_count"`
	TaskCount    int    `json:"task_count"`
}

func toAPIUsageSummary(rows []*db.UsageSummaryRow) []APIUsageSummaryRow {
	out := make([]APIUsageSummaryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, APIUsageSummaryRow{
			KeyID:        r.APIKeyID,
			KeyName:      r.CredentialName,
			RequestCount: r.RequestCount,
			TaskCount:    r.TaskCount,
		})
	}
	return out
}
