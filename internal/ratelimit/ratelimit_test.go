package ratelimit

import (
	"testing"
	"time"
)

func TestUnlimitedAlwaysAllowsNoBucket(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		r := l.Check("cred-1", 0)
		if !r.Allowed {
			t.Fatalf("expected unlimited to always allow, got %+v", r)
		}
	}
	if len(l.buckets) != 0 {
		t.Fatalf("expected no bucket allocated for unlimited credential, got %d", len(l.buckets))
	}
}

func TestBurstThenDenied(t *testing.T) {
	l := New()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		r := l.Check("cred-1", 2)
		if !r.Allowed {
			t.Fatalf("expected request %d to be allowed, got %+v", i, r)
		}
	}

	r := l.Check("cred-1", 2)
	if r.Allowed {
		t.Fatal("expected third rapid request to be denied")
	}
	if r.ResetSecs <= 0 {
		t.Fatalf("expected a positive reset window, got %+v", r)
	}
}

func TestRefillOverTime(t *testing.T) {
	l := New()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if r := l.Check("cred-1", 2); !r.Allowed {
			t.Fatalf("expected initial burst to succeed: %+v", r)
		}
	}
	if l.Check("cred-1", 2).Allowed {
		t.Fatal("expected bucket to be exhausted")
	}

	clock = clock.Add(61 * time.Second)
	r := l.Check("cred-1", 2)
	if !r.Allowed {
		t.Fatalf("expected refill after 61s to allow again, got %+v", r)
	}
}

func TestRemoveEvictsBucket(t *testing.T) {
	l := New()
	l.Check("cred-1", 10)
	if len(l.buckets) != 1 {
		t.Fatal("expected a bucket to be allocated")
	}
	l.Remove("cred-1")
	if len(l.buckets) != 0 {
		t.Fatal("expected bucket to be evicted")
	}
}
