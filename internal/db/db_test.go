package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenAndMigrate(t *testing.T) {
	d := openTestDB(t)

	s, err := d.InsertSession("primary", "abc123")
	if err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected non-empty session id")
	}

	got, err := d.GetSession(s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.SessionID != "abc123" {
		t.Fatalf("expected session with token abc123, got %+v", got)
	}
}

func TestPickSessionEligibilityBoundary(t *testing.T) {
	d := openTestDB(t)

	if _, err := d.InsertSession("only", "tok"); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	picked, err := d.PickSession()
	if err != nil {
		t.Fatalf("PickSession: %v", err)
	}
	if picked == nil {
		t.Fatal("expected a session to be picked")
	}
	if picked.ActiveTasks != 1 {
		t.Fatalf("expected active_tasks=1 after pick, got %d", picked.ActiveTasks)
	}

	// Second pick reaches the concurrency cap.
	if _, err := d.PickSession(); err != nil {
		t.Fatalf("PickSession 2: %v", err)
	}

	// Third pick: no eligible session, no row modified.
	none, err := d.PickSession()
	if err != nil {
		t.Fatalf("PickSession 3: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no eligible session, got %+v", none)
	}

	if err := d.ReleaseSession(picked.ID, true, ""); err != nil {
		t.Fatalf("ReleaseSession: %v", err)
	}
	after, err := d.GetSession(picked.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if after.ActiveTasks != 1 {
		t.Fatalf("expected active_tasks=1 after one release, got %d", after.ActiveTasks)
	}
	if after.SuccessCount != 1 {
		t.Fatalf("expected success_count=1, got %d", after.SuccessCount)
	}
}

func TestToggleSessionResetsHealthy(t *testing.T) {
	d := openTestDB(t)
	s, _ := d.InsertSession("a", "tok")
	_ = d.MarkSessionUnhealthy(s.ID)
	_, _ = d.ToggleSession(s.ID, false)
	ok, err := d.ToggleSession(s.ID, true)
	if err != nil {
		t.Fatalf("ToggleSession: %v", err)
	}
	if !ok {
		t.Fatal("expected toggle to report a change")
	}
	got, _ := d.GetSession(s.ID)
	if !got.Healthy {
		t.Fatal("expected enabling a disabled session to reset healthy=true")
	}
}

func TestTaskLifecycle(t *testing.T) {
	d := openTestDB(t)

	task, err := d.InsertTask(NewTaskParams{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if task.Status != TaskQueued {
		t.Fatalf("expected queued, got %s", task.Status)
	}
	if task.Model != "jimeng-video-seedance-2.0" || task.Duration != 4 || task.Ratio != "9:16" {
		t.Fatalf("expected defaults applied, got %+v", task)
	}

	claimed, err := d.ClaimTask()
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if claimed != task.ID {
		t.Fatalf("expected to claim %s, got %s", task.ID, claimed)
	}

	got, _ := d.GetTask(task.ID)
	if got.Status != TaskSubmitting || got.StartedAt == nil {
		t.Fatalf("expected submitting with started_at set, got %+v", got)
	}

	if err := d.FinishTaskSucceeded(task.ID, "https://example.com/v.mp4"); err != nil {
		t.Fatalf("FinishTaskSucceeded: %v", err)
	}
	got, _ = d.GetTask(task.ID)
	if got.Status != TaskSucceeded || got.FinishedAt == nil {
		t.Fatalf("expected succeeded with finished_at set, got %+v", got)
	}
}

func TestCancelTaskBoundary(t *testing.T) {
	d := openTestDB(t)
	task, _ := d.InsertTask(NewTaskParams{Prompt: "x"})

	ok, err := d.CancelTask(task.ID)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to succeed from queued")
	}

	// Cancelling again on a terminal task is a no-op.
	ok, err = d.CancelTask(task.ID)
	if err != nil {
		t.Fatalf("CancelTask 2: %v", err)
	}
	if ok {
		t.Fatal("expected cancel on terminal task to report not-changed")
	}
}

func TestSucceedDoesNotOverwriteCancelled(t *testing.T) {
	d := openTestDB(t)
	task, _ := d.InsertTask(NewTaskParams{Prompt: "x"})
	_, _ = d.CancelTask(task.ID)

	if err := d.FinishTaskSucceeded(task.ID, "https://example.com/v.mp4"); err != nil {
		t.Fatalf("FinishTaskSucceeded: %v", err)
	}
	got, _ := d.GetTask(task.ID)
	if got.Status != TaskCancelled {
		t.Fatalf("expected status to remain cancelled, got %s", got.Status)
	}
}

func TestRetryTaskLeavesOriginalUntouched(t *testing.T) {
	d := openTestDB(t)
	task, _ := d.InsertTask(NewTaskParams{Prompt: "hello", Model: "jimeng-video-3.0"})
	_ = d.UpdateTaskStatus(task.ID, TaskFailed)

	retried, err := d.RetryTask(task.ID)
	if err != nil {
		t.Fatalf("RetryTask: %v", err)
	}
	if retried.ID == task.ID {
		t.Fatal("expected a new task id")
	}
	if retried.Prompt != "hello" || retried.Model != "jimeng-video-3.0" {
		t.Fatalf("expected retried task to copy prompt/model, got %+v", retried)
	}

	original, _ := d.GetTask(task.ID)
	if original.Status != TaskFailed {
		t.Fatalf("expected original task untouched, got status %s", original.Status)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	d := openTestDB(t)

	c, err := d.InsertCredential(NewCredentialParams{
		Name:      "ci",
		KeyHash:   "deadbeef",
		KeyPrefix: "gw_1234",
	})
	if err != nil {
		t.Fatalf("InsertCredential: %v", err)
	}
	if c.RateLimit != 60 {
		t.Fatalf("expected default rate_limit 60, got %d", c.RateLimit)
	}

	found, err := d.LookupCredentialByHash("deadbeef")
	if err != nil {
		t.Fatalf("LookupCredentialByHash: %v", err)
	}
	if found == nil || found.ID != c.ID {
		t.Fatalf("expected to find credential by hash, got %+v", found)
	}

	newName := "ci-renamed"
	updated, err := d.UpdateCredential(c.ID, CredentialPatch{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateCredential: %v", err)
	}
	if updated.Name != "ci-renamed" {
		t.Fatalf("expected renamed credential, got %+v", updated)
	}

	ok, err := d.DeleteCredential(c.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteCredential: ok=%v err=%v", ok, err)
	}
}

func TestUsageUpsert(t *testing.T) {
	d := openTestDB(t)
	c, _ := d.InsertCredential(NewCredentialParams{Name: "x", KeyHash: "h1", KeyPrefix: "gw_aaaa"})

	if err := d.RecordTask(c.ID, "2026-08-01"); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}
	if err := d.RecordTask(c.ID, "2026-08-01"); err != nil {
		t.Fatalf("RecordTask 2: %v", err)
	}

	count, err := d.TodayTaskCount(c.ID, "2026-08-01")
	if err != nil {
		t.Fatalf("TodayTaskCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected task_count=2 after two upserts, got %d", count)
	}
}
