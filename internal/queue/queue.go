// Package queue drives the video generation pipeline: task intake,
// worker dispatch, upstream submission, and status polling.
package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fran0220/jimeng-gateway/internal/config"
	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/sessionpool"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
)

// Queue owns task intake and the worker pool that drains it.
type Queue struct {
	store  *db.DB
	pool   *sessionpool.Pool
	client *upstream.Client
	cfg    config.Config

	notify chan struct{}

	mu      sync.RWMutex
	running int
}

// New builds a Queue. Call StartWorkers to begin processing.
func New(store *db.DB, pool *sessionpool.Pool, client *upstream.Client, cfg config.Config) *Queue {
	return &Queue{
		store:  store,
		pool:   pool,
		client: client,
		cfg:    cfg,
		notify: make(chan struct{}, 1),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// EnqueueParams describes a new video generation request.
type EnqueueParams struct {
	Prompt             string
	Duration           int
	Ratio              string
	Model              string
	RequestBody        []byte
	RequestContentType string
	CredentialID       string
}

// Enqueue inserts a new queued task and wakes a worker.
func (q *Queue) Enqueue(p EnqueueParams) (*db.Task, error) {
	task, err := q.store.InsertTask(db.NewTaskParams{
		Model:              p.Model,
		Prompt:             p.Prompt,
		Duration:           p.Duration,
		Ratio:              p.Ratio,
		RequestBody:        p.RequestBody,
		RequestContentType: p.RequestContentType,
		CredentialID:       p.CredentialID,
	})
	if err != nil {
		return nil, err
	}
	q.wake()
	return task, nil
}

// List returns tasks, optionally filtered by status.
func (q *Queue) List(status string, limit int) ([]*db.Task, error) {
	return q.store.ListTasks(status, limit)
}

// Get returns a single task by id.
func (q *Queue) Get(id string) (*db.Task, error) {
	return q.store.GetTask(id)
}

// Cancel marks a task cancelled if it is still in a cancellable state.
func (q *Queue) Cancel(id string) (bool, error) {
	return q.store.CancelTask(id)
}

// Retry clones a finished task's original request into a fresh queued
// task and wakes a worker.
func (q *Queue) Retry(id string) (*db.Task, error) {
	task, err := q.store.RetryTask(id)
	if err != nil || task == nil {
		return task, err
	}
	q.wake()
	return task, nil
}

// Stats returns the aggregate queue-wide counters.
func (q *Queue) Stats() (*db.TaskStats, error) {
	return q.store.TaskStatsSnapshot()
}

// StartWorkers launches n concurrent workers that drain the queue
// until ctx is cancelled. It blocks until every worker has exited.
func (q *Queue) StartWorkers(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		workerID := i
		g.Go(func() error {
			q.workerLoop(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) incRunning(delta int) {
	q.mu.Lock()
	q.running += delta
	q.mu.Unlock()
}

// RunningCount reports how many workers are mid-task right now.
func (q *Queue) RunningCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}
