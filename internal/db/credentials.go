package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Credential is a bearer-token API key issued by this gateway to its
// own clients (distinct from a pool Session, which is a stolen
// upstream credential).
type Credential struct {
	ID          string
	Name        string
	KeyHash     string
	KeyPrefix   string
	Enabled     bool
	ExpiresAt   *string
	RateLimit   int
	DailyQuota  int
	Scopes      string // JSON array, see internal/auth for decode helpers
	Metadata    string // JSON object
	CreatedAt   string
	LastUsedAt  *string
}

const credentialColumns = `id, name, key_hash, key_prefix, enabled, expires_at, rate_limit, daily_quota, scopes, metadata, created_at, last_used_at`

func scanCredential(scanner interface{ Scan(...any) error }, c *Credential) error {
	var enabled int
	if err := scanner.Scan(&c.ID, &c.Name, &c.KeyHash, &c.KeyPrefix, &enabled, &c.ExpiresAt, &c.RateLimit, &c.DailyQuota, &c.Scopes, &c.Metadata, &c.CreatedAt, &c.LastUsedAt); err != nil {
		return err
	}
	c.Enabled = enabled != 0
	return nil
}

// NewCredentialParams describes a credential to create. KeyHash and
// KeyPrefix must already be computed by the caller (internal/auth).
type NewCredentialParams struct {
	Name       string
	KeyHash    string
	KeyPrefix  string
	ExpiresAt  string
	RateLimit  int
	DailyQuota int
	Scopes     string
	Metadata   string
}

// InsertCredential creates a new credential row.
func (d *DB) InsertCredential(p NewCredentialParams) (*Credential, error) {
	if p.RateLimit == 0 {
		p.RateLimit = 60
	}
	if p.Scopes == "" {
		p.Scopes = `["video:create","task:read","task:cancel"]`
	}
	if p.Metadata == "" {
		p.Metadata = `{}`
	}

	id := uuid.NewString()
	_, err := d.conn.Exec(
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, expires_at, rate_limit, daily_quota, scopes, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Name, p.KeyHash, p.KeyPrefix, nullIfEmpty(p.ExpiresAt), p.RateLimit, p.DailyQuota, p.Scopes, p.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}
	return d.GetCredential(id)
}

// GetCredential retrieves a credential by ID.
func (d *DB) GetCredential(id string) (*Credential, error) {
	c := &Credential{}
	row := d.conn.QueryRow(`SELECT `+credentialColumns+` FROM api_keys WHERE id = ?`, id)
	if err := scanCredential(row, c); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return c, nil
}

// LookupCredentialByHash finds a credential by its SHA-256 token hash.
func (d *DB) LookupCredentialByHash(hash string) (*Credential, error) {
	c := &Credential{}
	row := d.conn.QueryRow(`SELECT `+credentialColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	if err := scanCredential(row, c); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("lookup credential by hash: %w", err)
	}
	return c, nil
}

// ListCredentials returns all credentials.
func (d *DB) ListCredentials() ([]*Credential, error) {
	rows, err := d.conn.Query(`SELECT ` + credentialColumns + ` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c := &Credential{}
		if err := scanCredential(rows, c); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchCredential updates last_used_at to now.
func (d *DB) TouchCredential(id string) error {
	_, err := d.conn.Exec(`UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("touch credential %s: %w", id, err)
	}
	return nil
}

// CredentialPatch describes a partial update; nil fields are left untouched.
type CredentialPatch struct {
	Name       *string
	Enabled    *bool
	ExpiresAt  *string
	RateLimit  *int
	DailyQuota *int
	Scopes     *string
	Metadata   *string
}

// UpdateCredential applies a dynamic SET clause built from the
// non-nil patch fields.
func (d *DB) UpdateCredential(id string, p CredentialPatch) (*Credential, error) {
	var sets []string
	var args []any

	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*p.Enabled))
	}
	if p.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, nullIfEmpty(*p.ExpiresAt))
	}
	if p.RateLimit != nil {
		sets = append(sets, "rate_limit = ?")
		args = append(args, *p.RateLimit)
	}
	if p.DailyQuota != nil {
		sets = append(sets, "daily_quota = ?")
		args = append(args, *p.DailyQuota)
	}
	if p.Scopes != nil {
		sets = append(sets, "scopes = ?")
		args = append(args, *p.Scopes)
	}
	if p.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, *p.Metadata)
	}

	if len(sets) == 0 {
		return d.GetCredential(id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE api_keys SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := d.conn.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("update credential %s: %w", id, err)
	}
	return d.GetCredential(id)
}

// ReplaceCredentialKey swaps in a newly generated hash/prefix during
// regeneration, leaving all other fields untouched.
func (d *DB) ReplaceCredentialKey(id, keyHash, keyPrefix string) error {
	_, err := d.conn.Exec(`UPDATE api_keys SET key_hash = ?, key_prefix = ? WHERE id = ?`, keyHash, keyPrefix, id)
	if err != nil {
		return fmt.Errorf("regenerate credential %s: %w", id, err)
	}
	return nil
}

// DeleteCredential removes a credential.
func (d *DB) DeleteCredential(id string) (bool, error) {
	res, err := d.conn.Exec(`DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete credential %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential %s: %w", id, err)
	}
	return n > 0, nil
}
