package sessionpool

import (
	"path/filepath"
	"testing"

	"github.com/fran0220/jimeng-gateway/internal/db"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	p := New(d)
	if err := p.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return p
}

func TestPickNoEligibleReturnsNothing(t *testing.T) {
	p := openTestPool(t)
	s, err := p.Pick()
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if s != nil {
		t.Fatalf("expected no session, got %+v", s)
	}
}

func TestPickReleaseInvariant(t *testing.T) {
	p := openTestPool(t)
	added, err := p.Add("lab", "tok-1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	picked, err := p.Pick()
	if err != nil || picked == nil {
		t.Fatalf("Pick: %v, %+v", err, picked)
	}
	if picked.ID != added.ID {
		t.Fatalf("expected to pick the only session")
	}

	mirrored := p.Get(added.ID)
	if mirrored == nil || mirrored.ActiveTasks != 1 {
		t.Fatalf("expected mirror to reflect active_tasks=1, got %+v", mirrored)
	}

	if err := p.Release(added.ID, true, ""); err != nil {
		t.Fatalf("Release: %v", err)
	}
	mirrored = p.Get(added.ID)
	if mirrored.ActiveTasks != 0 {
		t.Fatalf("expected active_tasks=0 after release, got %d", mirrored.ActiveTasks)
	}
	if mirrored.SuccessCount != 1 {
		t.Fatalf("expected success_count=1, got %d", mirrored.SuccessCount)
	}
}

func TestListMasksSessionToken(t *testing.T) {
	p := openTestPool(t)
	if _, err := p.Add("lab", "super-secret-session-token"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	list := p.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if list[0].SessionID == "super-secret-session-token" {
		t.Fatal("expected session token to be masked in List()")
	}
}

func TestMarkUnhealthyThenToggleResets(t *testing.T) {
	p := openTestPool(t)
	s, _ := p.Add("lab", "tok")

	if err := p.MarkUnhealthy(s.ID); err != nil {
		t.Fatalf("MarkUnhealthy: %v", err)
	}
	if p.Get(s.ID).Healthy {
		t.Fatal("expected session unhealthy")
	}

	if _, err := p.Toggle(s.ID, false); err != nil {
		t.Fatalf("Toggle off: %v", err)
	}
	if _, err := p.Toggle(s.ID, true); err != nil {
		t.Fatalf("Toggle on: %v", err)
	}
	if !p.Get(s.ID).Healthy {
		t.Fatal("expected re-enabling to reset healthy=true")
	}
}
