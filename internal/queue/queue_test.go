package queue

import (
	"path/filepath"
	"testing"

	"github.com/fran0220/jimeng-gateway/internal/config"
	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/sessionpool"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	pool := sessionpool.New(store)
	if err := pool.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	client := upstream.NewClient(nil)
	return New(store, pool, client, config.Config{})
}

func TestEnqueueAndList(t *testing.T) {
	q := openTestQueue(t)
	task, err := q.Enqueue(EnqueueParams{Prompt: "a cat on a skateboard", Model: "seedance-2.0"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.Status != "queued" {
		t.Fatalf("expected new task to be queued, got %q", task.Status)
	}

	tasks, err := q.List("", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("expected the enqueued task to be listed, got %+v", tasks)
	}

	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	q := openTestQueue(t)
	task, err := q.Enqueue(EnqueueParams{Prompt: "a dog surfing"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ok, err := q.Cancel(task.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected a queued task to be cancellable")
	}

	got, err := q.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != "cancelled" {
		t.Fatalf("expected status cancelled, got %q", got.Status)
	}

	if ok, err := q.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel (second attempt): %v", err)
	} else if ok {
		t.Fatal("expected cancelling an already-cancelled task to be a no-op")
	}
}

func TestRunningCountTracksIncDec(t *testing.T) {
	q := openTestQueue(t)
	if q.RunningCount() != 0 {
		t.Fatalf("expected 0 running at start, got %d", q.RunningCount())
	}
	q.incRunning(1)
	if q.RunningCount() != 1 {
		t.Fatalf("expected 1 running, got %d", q.RunningCount())
	}
	q.incRunning(-1)
	if q.RunningCount() != 0 {
		t.Fatalf("expected 0 running after release, got %d", q.RunningCount())
	}
}
