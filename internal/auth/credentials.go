package auth

import (
	"fmt"

	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/ratelimit"
)

// Credentials manages the lifecycle of bearer-token API keys, wrapping
// internal/db's raw storage with the generation/hashing rules in this
// package and eviction of stale rate-limit buckets.
type Credentials struct {
	store   *db.DB
	limiter *ratelimit.Limiter
}

// NewCredentials creates a Credentials manager.
func NewCredentials(store *db.DB, limiter *ratelimit.Limiter) *Credentials {
	return &Credentials{store: store, limiter: limiter}
}

// Created is returned once, at creation or regeneration time, and
// carries the raw token that is never stored or shown again.
type Created struct {
	Credential *db.Credential
	RawKey     string
}

// CreateParams describes a credential to issue.
type CreateParams struct {
	Name       string
	ExpiresAt  string
	RateLimit  int
	DailyQuota int
	Scopes     []string
	Metadata   string
}

// Create issues a new credential and returns its raw bearer token.
func (c *Credentials) Create(p CreateParams) (*Created, error) {
	raw := GenerateKey()
	scopes := p.Scopes
	if scopes == nil {
		scopes = DefaultScopes
	}
	cred, err := c.store.InsertCredential(db.NewCredentialParams{
		Name:       p.Name,
		KeyHash:    HashKey(raw),
		KeyPrefix:  DisplayPrefix(raw),
		ExpiresAt:  p.ExpiresAt,
		RateLimit:  p.RateLimit,
		DailyQuota: p.DailyQuota,
		Scopes:     EncodeScopes(scopes),
		Metadata:   p.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	return &Created{Credential: cred, RawKey: raw}, nil
}

// Regenerate issues a new raw token for an existing credential,
// invalidating the old one and evicting its rate-limit bucket so the
// next request starts a fresh bucket under the new identity.
func (c *Credentials) Regenerate(id string) (*Created, error) {
	raw := GenerateKey()
	if err := c.store.ReplaceCredentialKey(id, HashKey(raw), DisplayPrefix(raw)); err != nil {
		return nil, fmt.Errorf("regenerate credential %s: %w", id, err)
	}
	c.limiter.Remove(id)
	cred, err := c.store.GetCredential(id)
	if err != nil {
		return nil, err
	}
	return &Created{Credential: cred, RawKey: raw}, nil
}

// Delete removes a credential and evicts its rate-limit bucket.
func (c *Credentials) Delete(id string) (bool, error) {
	ok, err := c.store.DeleteCredential(id)
	if err != nil {
		return false, err
	}
	if ok {
		c.limiter.Remove(id)
	}
	return ok, nil
}

// Update applies a partial update to a credential.
func (c *Credentials) Update(id string, p db.CredentialPatch) (*db.Credential, error) {
	return c.store.UpdateCredential(id, p)
}

// Get retrieves a credential by ID.
func (c *Credentials) Get(id string) (*db.Credential, error) {
	return c.store.GetCredential(id)
}

// List returns all credentials.
func (c *Credentials) List() ([]*db.Credential, error) {
	return c.store.ListCredentials()
}
