package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// sessionConcurrencyCap is the hard-coded per-session concurrency limit
// used by PickSession's atomic CAS. It is not a per-session column —
// the upstream implementation this was ported from hard-codes it in
// SQL text too.
const sessionConcurrencyCap = 2

// Session is a pool entry: a stolen upstream browser credential shared
// across tasks, capped at sessionConcurrencyCap concurrent uses.
type Session struct {
	ID           string
	Label        string
	SessionID    string
	Enabled      bool
	Healthy      bool
	ActiveTasks  int
	TotalTasks   int
	SuccessCount int
	FailCount    int
	LastUsedAt   *string
	LastError    *string
	CreatedAt    string
	UpdatedAt    string
}

// Masked returns a copy with SessionID obscured for API responses.
func (s Session) Masked() Session {
	if len(s.SessionID) > 12 {
		s.SessionID = s.SessionID[:8] + "..." + s.SessionID[len(s.SessionID)-4:]
	} else {
		s.SessionID = "****"
	}
	return s
}

const sessionColumns = `id, label, session_id, enabled, healthy, active_tasks, total_tasks, success_count, fail_count, last_used_at, last_error, created_at, updated_at`

func scanSession(scanner interface{ Scan(...any) error }, s *Session) error {
	var enabled, healthy int
	if err := scanner.Scan(&s.ID, &s.Label, &s.SessionID, &enabled, &healthy, &s.ActiveTasks, &s.TotalTasks, &s.SuccessCount, &s.FailCount, &s.LastUsedAt, &s.LastError, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return err
	}
	s.Enabled = enabled != 0
	s.Healthy = healthy != 0
	return nil
}

// InsertSession creates a new pool session and returns it.
func (d *DB) InsertSession(label, sessionID string) (*Session, error) {
	id := uuid.NewString()
	_, err := d.conn.Exec(
		`INSERT INTO sessions (id, label, session_id) VALUES (?, ?, ?)`,
		id, label, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return d.GetSession(id)
}

// GetSession retrieves a single pool session by ID.
func (d *DB) GetSession(id string) (*Session, error) {
	s := &Session{}
	row := d.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns all pool sessions ordered by creation time.
func (d *DB) ListSessions() ([]*Session, error) {
	rows, err := d.conn.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s := &Session{}
		if err := scanSession(rows, s); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PickSession atomically reserves the least-recently-used eligible
// session (enabled, healthy, active_tasks < sessionConcurrencyCap) in
// a single UPDATE ... RETURNING statement. Returns (nil, nil) when no
// session is eligible.
func (d *DB) PickSession() (*Session, error) {
	s := &Session{}
	row := d.conn.QueryRow(
		`UPDATE sessions SET active_tasks = active_tasks + 1,
		 last_used_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = (
		   SELECT id FROM sessions
		   WHERE enabled = 1 AND healthy = 1 AND active_tasks < ?
		   ORDER BY last_used_at LIMIT 1
		 )
		 RETURNING `+sessionColumns,
		sessionConcurrencyCap,
	)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("pick session: %w", err)
	}
	return s, nil
}

// ReleaseSession decrements active_tasks (floored at 0), records the
// outcome, and updates last_error when errMsg is non-empty.
func (d *DB) ReleaseSession(id string, success bool, errMsg string) error {
	col := "fail_count"
	if success {
		col = "success_count"
	}
	query := fmt.Sprintf(
		`UPDATE sessions SET active_tasks = MAX(0, active_tasks - 1),
		 total_tasks = total_tasks + 1,
		 %s = %s + 1,
		 last_error = CASE WHEN ? IS NOT NULL THEN ? ELSE last_error END,
		 updated_at = datetime('now')
		 WHERE id = ?`, col, col)

	_, err := d.conn.Exec(query, nullIfEmpty(errMsg), nullIfEmpty(errMsg), id)
	if err != nil {
		return fmt.Errorf("release session %s: %w", id, err)
	}
	return nil
}

// MarkSessionUnhealthy demotes a session after an auth-classified failure.
func (d *DB) MarkSessionUnhealthy(id string) error {
	_, err := d.conn.Exec(`UPDATE sessions SET healthy = 0, updated_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark session unhealthy %s: %w", id, err)
	}
	return nil
}

// ToggleSession enables or disables a session. Enabling also resets
// healthy=true. Returns false if the session does not exist.
func (d *DB) ToggleSession(id string, enabled bool) (bool, error) {
	res, err := d.conn.Exec(
		`UPDATE sessions SET enabled = ?, healthy = CASE WHEN ? THEN 1 ELSE healthy END,
		 updated_at = datetime('now') WHERE id = ?`,
		boolToInt(enabled), boolToInt(enabled), id,
	)
	if err != nil {
		return false, fmt.Errorf("toggle session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("toggle session %s: %w", id, err)
	}
	return n > 0, nil
}

// DeleteSession removes a session. Deletion is always permitted
// regardless of current state. Returns false if it did not exist.
func (d *DB) DeleteSession(id string) (bool, error) {
	res, err := d.conn.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return n > 0, nil
}
