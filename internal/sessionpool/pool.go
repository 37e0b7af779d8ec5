// Package sessionpool manages the pool of stolen upstream browser
// credentials shared across the task queue's workers, with capped
// concurrency per session and an in-memory mirror of the durable
// session table for cheap listing.
package sessionpool

import (
	"fmt"
	"sync"

	"github.com/fran0220/jimeng-gateway/internal/db"
)

// Pool picks, releases, and administers upstream sessions. The store
// is the sole source of truth; the in-memory slice is a read cache
// updated strictly after each durable write returns.
type Pool struct {
	store *db.DB

	mu       sync.RWMutex
	sessions []*db.Session
}

// New creates a pool backed by store. Call LoadAll before serving
// traffic so List reflects existing rows.
func New(store *db.DB) *Pool {
	return &Pool{store: store}
}

// LoadAll refreshes the in-memory mirror from the store.
func (p *Pool) LoadAll() error {
	sessions, err := p.store.ListSessions()
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	p.mu.Lock()
	p.sessions = sessions
	p.mu.Unlock()
	return nil
}

func (p *Pool) syncOne(id string) {
	updated, err := p.store.GetSession(id)
	if err != nil || updated == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.sessions {
		if s.ID == id {
			p.sessions[i] = updated
			return
		}
	}
	p.sessions = append(p.sessions, updated)
}

// Pick atomically reserves the least-recently-used eligible session.
// Returns (nil, nil) when no session is currently eligible; the
// caller is expected to requeue and back off.
func (p *Pool) Pick() (*db.Session, error) {
	s, err := p.store.PickSession()
	if err != nil {
		return nil, fmt.Errorf("pick session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	p.syncOne(s.ID)
	return s, nil
}

// Release decrements a session's active task count and records the
// outcome. errMsg may be empty.
func (p *Pool) Release(id string, success bool, errMsg string) error {
	if err := p.store.ReleaseSession(id, success, errMsg); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	p.syncOne(id)
	return nil
}

// MarkUnhealthy demotes a session, typically after an auth-classified
// submission failure.
func (p *Pool) MarkUnhealthy(id string) error {
	if err := p.store.MarkSessionUnhealthy(id); err != nil {
		return fmt.Errorf("mark session unhealthy: %w", err)
	}
	p.syncOne(id)
	return nil
}

// Add registers a new session and returns it.
func (p *Pool) Add(label, sessionToken string) (*db.Session, error) {
	s, err := p.store.InsertSession(label, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("add session: %w", err)
	}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	return s, nil
}

// Remove deletes a session. Deletion is always permitted regardless
// of current state.
func (p *Pool) Remove(id string) (bool, error) {
	ok, err := p.store.DeleteSession(id)
	if err != nil {
		return false, fmt.Errorf("remove session: %w", err)
	}
	if ok {
		p.mu.Lock()
		for i, s := range p.sessions {
			if s.ID == id {
				p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}
	return ok, nil
}

// Toggle enables or disables a session. Enabling also resets healthy.
func (p *Pool) Toggle(id string, enabled bool) (bool, error) {
	ok, err := p.store.ToggleSession(id, enabled)
	if err != nil {
		return false, fmt.Errorf("toggle session: %w", err)
	}
	if ok {
		p.syncOne(id)
	}
	return ok, nil
}

// List returns a masked snapshot of all sessions for API responses.
func (p *Pool) List() []db.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]db.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.Masked())
	}
	return out
}

// Get returns a single masked session, or nil if not found.
func (p *Pool) Get(id string) *db.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sessions {
		if s.ID == id {
			masked := s.Masked()
			return &masked
		}
	}
	return nil
}
