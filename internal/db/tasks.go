package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Task statuses, forming the transition DAG:
// queued -> submitting -> polling -> downloading -> succeeded
// any non-terminal -> failed | cancelled
const (
	TaskQueued      = "queued"
	TaskSubmitting  = "submitting"
	TaskPolling     = "polling"
	TaskDownloading = "downloading"
	TaskSucceeded   = "succeeded"
	TaskFailed      = "failed"
	TaskCancelled   = "cancelled"
)

// Task is a single video-generation job.
type Task struct {
	ID                  string
	Status              string
	Model               string
	Prompt              string
	Duration            int
	Ratio               string
	SessionPoolID       *string
	HistoryRecordID     *string
	QueuePosition       *int
	QueueTotal          *int
	QueueETA            *string
	VideoURL            *string
	ErrorMessage        *string
	ErrorKind           *string
	RequestBody         []byte
	RequestContentType  *string
	CredentialID        *string
	CreatedAt           string
	UpdatedAt           string
	StartedAt           *string
	FinishedAt          *string
}

const taskColumns = `id, status, model, prompt, duration, ratio, session_pool_id, history_record_id, queue_position, queue_total, queue_eta, video_url, error_message, error_kind, request_body, request_content_type, credential_id, created_at, updated_at, started_at, finished_at`

func scanTask(scanner interface{ Scan(...any) error }, t *Task) error {
	return scanner.Scan(&t.ID, &t.Status, &t.Model, &t.Prompt, &t.Duration, &t.Ratio, &t.SessionPoolID, &t.HistoryRecordID, &t.QueuePosition, &t.QueueTotal, &t.QueueETA, &t.VideoURL, &t.ErrorMessage, &t.ErrorKind, &t.RequestBody, &t.RequestContentType, &t.CredentialID, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.FinishedAt)
}

// NewTaskParams describes a task submission.
type NewTaskParams struct {
	Model              string
	Prompt             string
	Duration           int
	Ratio              string
	RequestBody        []byte
	RequestContentType string
	CredentialID       string
}

// InsertTask creates a new queued task, applying defaults matching the
// upstream's own default draft configuration.
func (d *DB) InsertTask(p NewTaskParams) (*Task, error) {
	if p.Model == "" {
		p.Model = "jimeng-video-seedance-2.0"
	}
	if p.Duration == 0 {
		p.Duration = 4
	}
	if p.Ratio == "" {
		p.Ratio = "9:16"
	}

	id := uuid.NewString()
	_, err := d.conn.Exec(
		`INSERT INTO tasks (id, status, model, prompt, duration, ratio, request_body, request_content_type, credential_id)
		 VALUES (?, 'queued', ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Model, p.Prompt, p.Duration, p.Ratio, p.RequestBody, nullIfEmpty(p.RequestContentType), nullIfEmpty(p.CredentialID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return d.GetTask(id)
}

// GetTask retrieves a single task by ID.
func (d *DB) GetTask(id string) (*Task, error) {
	t := &Task{}
	row := d.conn.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err := scanTask(row, t); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks newest-first, optionally filtered by status.
func (d *DB) ListTasks(status string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = d.conn.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	} else {
		rows, err = d.conn.Query(`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t := &Task{}
		if err := scanTask(rows, t); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimTask atomically promotes the oldest queued task to submitting
// and sets started_at. Returns "" if no task is queued.
func (d *DB) ClaimTask() (string, error) {
	var id string
	row := d.conn.QueryRow(
		`UPDATE tasks SET status = 'submitting', started_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = (SELECT id FROM tasks WHERE status = 'queued' ORDER BY created_at LIMIT 1)
		 RETURNING id`,
	)
	if err := row.Scan(&id); err == sql.ErrNoRows {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("claim task: %w", err)
	}
	return id, nil
}

// RequeueTask returns a claimed task to queued, used when no session
// is currently available to serve it.
func (d *DB) RequeueTask(id string) error {
	_, err := d.conn.Exec(`UPDATE tasks SET status = 'queued', updated_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("requeue task %s: %w", id, err)
	}
	return nil
}

// AssignSession records which pool session a task is using. Set
// exactly once, when the task leaves queued, and never reassigned.
func (d *DB) AssignSession(taskID, sessionID string) error {
	_, err := d.conn.Exec(`UPDATE tasks SET session_pool_id = ?, updated_at = datetime('now') WHERE id = ?`, sessionID, taskID)
	if err != nil {
		return fmt.Errorf("assign session to task %s: %w", taskID, err)
	}
	return nil
}

// UpdateTaskStatus sets a task's status without touching any other
// column. A task already in a terminal state is left unchanged.
func (d *DB) UpdateTaskStatus(id, status string) error {
	_, err := d.conn.Exec(`UPDATE tasks SET status = ?, updated_at = datetime('now') WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')`, status, id)
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	return nil
}

// UpdateTaskSubmitted records the upstream history id and moves the
// task into polling.
func (d *DB) UpdateTaskSubmitted(id, historyRecordID string) error {
	_, err := d.conn.Exec(
		`UPDATE tasks SET status = 'polling', history_record_id = ?, updated_at = datetime('now') WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')`,
		historyRecordID, id,
	)
	if err != nil {
		return fmt.Errorf("update task submitted %s: %w", id, err)
	}
	return nil
}

// UpdateTaskProgress records the latest poll's queue telemetry.
func (d *DB) UpdateTaskProgress(id string, position, total *int, eta *string) error {
	_, err := d.conn.Exec(
		`UPDATE tasks SET status = 'polling', queue_position = ?, queue_total = ?, queue_eta = ?, updated_at = datetime('now') WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')`,
		position, total, eta, id,
	)
	if err != nil {
		return fmt.Errorf("update task progress %s: %w", id, err)
	}
	return nil
}

// FinishTaskSucceeded writes the final video URL, guarded so a
// cancellation that raced the pipeline cannot be overwritten.
func (d *DB) FinishTaskSucceeded(id, videoURL string) error {
	_, err := d.conn.Exec(
		`UPDATE tasks SET status = 'succeeded', video_url = ?, finished_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ? AND status != 'cancelled'`,
		videoURL, id,
	)
	if err != nil {
		return fmt.Errorf("finish task succeeded %s: %w", id, err)
	}
	return nil
}

// FinishTaskFailed writes a classified failure.
func (d *DB) FinishTaskFailed(id, errMsg, errKind string) error {
	_, err := d.conn.Exec(
		`UPDATE tasks SET status = 'failed', error_message = ?, error_kind = ?, finished_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ? AND status NOT IN ('succeeded', 'failed', 'cancelled')`,
		errMsg, errKind, id,
	)
	if err != nil {
		return fmt.Errorf("finish task failed %s: %w", id, err)
	}
	return nil
}

// CancelTask flips a task to cancelled if it is still in a
// non-terminal, cancellable state. Returns false (not-changed) on a
// terminal task.
func (d *DB) CancelTask(id string) (bool, error) {
	res, err := d.conn.Exec(
		`UPDATE tasks SET status = 'cancelled', finished_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ? AND status IN ('queued', 'submitting', 'polling')`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel task %s: %w", id, err)
	}
	return n > 0, nil
}

// TaskStatus reads just the status column, used by the worker's
// cancellation checks between pipeline steps.
func (d *DB) TaskStatus(id string) (string, error) {
	var status string
	err := d.conn.QueryRow(`SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("task status %s: %w", id, err)
	}
	return status, nil
}

// RetryTask reads an existing task's stored request and creates a
// brand-new queued task from it. The original task is never mutated.
func (d *DB) RetryTask(id string) (*Task, error) {
	src, err := d.GetTask(id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	ct := ""
	if src.RequestContentType != nil {
		ct = *src.RequestContentType
	}
	cred := ""
	if src.CredentialID != nil {
		cred = *src.CredentialID
	}
	return d.InsertTask(NewTaskParams{
		Model:              src.Model,
		Prompt:             src.Prompt,
		Duration:           src.Duration,
		Ratio:              src.Ratio,
		RequestBody:        src.RequestBody,
		RequestContentType: ct,
		CredentialID:       cred,
	})
}

// TaskStats is the aggregated queue-wide counter snapshot.
type TaskStats struct {
	Queued    int
	Running   int // submitting + polling + downloading
	Succeeded int
	Failed    int
	Cancelled int
	Total     int
}

// TaskStatsSnapshot computes aggregate task counts in a single query.
func (d *DB) TaskStatsSnapshot() (*TaskStats, error) {
	row := d.conn.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('submitting', 'polling', 'downloading') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM tasks`)

	var s TaskStats
	if err := row.Scan(&s.Queued, &s.Running, &s.Succeeded, &s.Failed, &s.Cancelled, &s.Total); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &s, nil
}
