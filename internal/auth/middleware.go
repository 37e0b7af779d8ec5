package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fran0220/jimeng-gateway/internal/config"
	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/ratelimit"
)

type contextKey int

const callerContextKey contextKey = 0

// FromContext retrieves the Caller attached by Middleware. Handlers
// call this instead of re-parsing the Authorization header.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey).(Caller)
	return c, ok
}

// Gate authenticates and rate-limits incoming requests.
type Gate struct {
	store      *db.DB
	limiter    *ratelimit.Limiter
	enabled    bool
	adminToken string
}

// NewGate builds a Gate from runtime configuration.
func NewGate(cfg config.Config, store *db.DB, limiter *ratelimit.Limiter) *Gate {
	return &Gate{
		store:      store,
		limiter:    limiter,
		enabled:    cfg.AuthEnabled,
		adminToken: cfg.AdminToken,
	}
}

// Middleware wraps next with the admission gate: bearer extraction,
// credential lookup, rate limiting, usage accounting, and Caller
// injection. When auth is disabled every request is treated as an
// anonymous caller with unrestricted access.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			ctx := context.WithValue(r.Context(), callerContextKey, Caller{Kind: KindAnonymous})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		if g.adminToken != "" && raw == g.adminToken {
			caller := Caller{Kind: KindAdminEnv, Name: "admin-token"}
			ctx := context.WithValue(r.Context(), callerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		cred, err := g.store.LookupCredentialByHash(HashKey(raw))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error validating credential")
			return
		}
		if cred == nil {
			writeUnauthorized(w, "invalid bearer token")
			return
		}
		if !cred.Enabled {
			writeForbidden(w, "credential disabled")
			return
		}
		if cred.ExpiresAt != nil && *cred.ExpiresAt != "" && isExpired(*cred.ExpiresAt) {
			writeForbidden(w, "credential expired")
			return
		}

		scopes := DecodeScopes(cred.Scopes)
		kind := KindAPIKey
		for _, s := range scopes {
			if s == AdminScope {
				kind = KindAdminCredential
				break
			}
		}

		// Admin-scoped credentials skip the rate limit entirely (step 5);
		// ordinary credentials are checked against their bucket (step 6).
		if kind != KindAdminCredential {
			result := g.limiter.Check(cred.ID, cred.RateLimit)
			if result.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.Itoa(result.ResetSecs))
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.ResetSecs))
				writeTooManyRequests(w, result.ResetSecs)
				return
			}
		}

		if err := g.store.TouchCredential(cred.ID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error touching credential")
			return
		}
		today := time.Now().UTC().Format("2006-01-02")
		if err := g.store.RecordRequest(cred.ID, today); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal error recording usage")
			return
		}

		caller := Caller{
			Kind:       kind,
			KeyID:      cred.ID,
			Name:       cred.Name,
			Scopes:     scopes,
			RateLimit:  cred.RateLimit,
			DailyQuota: cred.DailyQuota,
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope returns middleware that 403s callers lacking scope.
// Mount it after Gate.Middleware on routes that need it.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := FromContext(r.Context())
			if !ok || !caller.HasScope(scope) {
				writeForbidden(w, "missing required scope: "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func isExpired(expiresAt string) bool {
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", expiresAt)
		if err != nil {
			return false
		}
	}
	return time.Now().After(t)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusForbidden, msg)
}

func writeTooManyRequests(w http.ResponseWriter, resetSecs int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded, retry after ` + strconv.Itoa(resetSecs) + `s","retry_after":` + strconv.Itoa(resetSecs) + `}`))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
