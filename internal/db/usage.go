package db

import (
	"database/sql"
	"fmt"
)

// UsageRow is one credential's usage on one UTC date.
type UsageRow struct {
	APIKeyID     string
	CredentialName string
	Date         string
	RequestCount int
	TaskCount    int
}

// UsageSummaryRow aggregates usage for a credential across a date range.
type UsageSummaryRow struct {
	APIKeyID       string
	CredentialName string
	RequestCount   int
	TaskCount      int
}

func usageRowID(credentialID, date string) string {
	return credentialID + "_" + date
}

// RecordRequest upserts the per-day request counter for a credential.
func (d *DB) RecordRequest(credentialID, date string) error {
	_, err := d.conn.Exec(
		`INSERT INTO usage_daily (id, api_key_id, date, request_count, task_count)
		 VALUES (?, ?, ?, 1, 0)
		 ON CONFLICT(api_key_id, date) DO UPDATE SET request_count = request_count + 1`,
		usageRowID(credentialID, date), credentialID, date,
	)
	if err != nil {
		return fmt.Errorf("record request usage: %w", err)
	}
	return nil
}

// RecordTask upserts the per-day task counter for a credential.
func (d *DB) RecordTask(credentialID, date string) error {
	_, err := d.conn.Exec(
		`INSERT INTO usage_daily (id, api_key_id, date, request_count, task_count)
		 VALUES (?, ?, ?, 0, 1)
		 ON CONFLICT(api_key_id, date) DO UPDATE SET task_count = task_count + 1`,
		usageRowID(credentialID, date), credentialID, date,
	)
	if err != nil {
		return fmt.Errorf("record task usage: %w", err)
	}
	return nil
}

// TodayTaskCount returns how many tasks a credential has created on date.
func (d *DB) TodayTaskCount(credentialID, date string) (int, error) {
	var count int
	err := d.conn.QueryRow(
		`SELECT task_count FROM usage_daily WHERE api_key_id = ? AND date = ?`,
		credentialID, date,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("today task count: %w", err)
	}
	return count, nil
}

// TodayUsage returns a credential's request and task counts for date
// in one lookup, used by the /me endpoint's "today" summary.
func (d *DB) TodayUsage(credentialID, date string) (requestCount, taskCount int, err error) {
	err = d.conn.QueryRow(
		`SELECT request_count, task_count FROM usage_daily WHERE api_key_id = ? AND date = ?`,
		credentialID, date,
	).Scan(&requestCount, &taskCount)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	} else if err != nil {
		return 0, 0, fmt.Errorf("today usage: %w", err)
	}
	return requestCount, taskCount, nil
}

// QueryUsage lists usage rows, optionally filtered by credential and
// inclusive date range; empty filters are unbounded.
func (d *DB) QueryUsage(credentialID, from, to string) ([]*UsageRow, error) {
	query := `SELECT u.api_key_id, k.name, u.date, u.request_count, u.task_count
	          FROM usage_daily u JOIN api_keys k ON k.id = u.api_key_id
	          WHERE 1=1`
	var args []any
	if credentialID != "" {
		query += ` AND u.api_key_id = ?`
		args = append(args, credentialID)
	}
	if from != "" {
		query += ` AND u.date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND u.date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY u.date DESC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []*UsageRow
	for rows.Next() {
		r := &UsageRow{}
		if err := rows.Scan(&r.APIKeyID, &r.CredentialName, &r.Date, &r.RequestCount, &r.TaskCount); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UsageSummary aggregates usage per credential across [from, to],
// including credentials with zero usage in the window (left join).
func (d *DB) UsageSummary(from, to string) ([]*UsageSummaryRow, error) {
	rows, err := d.conn.Query(
		`SELECT k.id, k.name, COALESCE(SUM(u.request_count), 0), COALESCE(SUM(u.task_count), 0)
		 FROM api_keys k
		 LEFT JOIN usage_daily u ON u.api_key_id = k.id AND u.date >= ? AND u.date <= ?
		 GROUP BY k.id, k.name
		 ORDER BY k.name`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var out []*UsageSummaryRow
	for rows.Next() {
		r := &UsageSummaryRow{}
		if err := rows.Scan(&r.APIKeyID, &r.CredentialName, &r.RequestCount, &r.TaskCount); err != nil {
			return nil, fmt.Errorf("scan usage summary row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
