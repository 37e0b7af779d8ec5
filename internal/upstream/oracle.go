package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/sjson"
)

// sessionIdleTimeout is how long a cached oracle session may go
// unused before it is evicted.
const sessionIdleTimeout = 10 * time.Minute

// SigningOracle proxies a request through whatever mechanism can
// produce the upstream's anti-bot a_bogus signature for Seedance
// submissions. The original tool does this with a headless Chromium
// tab that runs the upstream's own bdms SDK; nothing in this module's
// dependency set can drive a browser, so it is modeled here as an
// HTTP-RPC call to an external signing service that does.
type SigningOracle interface {
	// Fetch proxies a signed POST of bodyJSON to url under the given
	// session token and returns the raw response body.
	Fetch(ctx context.Context, sessionToken, url, bodyJSON string) (string, error)
}

type oracleSession struct {
	lastUsed time.Time
}

// HTTPOracle implements SigningOracle by delegating to an external
// signing service reachable over HTTP. It tracks one logical session
// per session token purely to evict idle entries on a schedule; the
// remote service owns any real browser-session state.
type HTTPOracle struct {
	endpoint   string
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]*oracleSession
}

// NewHTTPOracle builds an oracle that forwards Fetch calls to endpoint
// (expected to accept {session_token, url, body} and return
// {ok, status, text}).
func NewHTTPOracle(endpoint string) *HTTPOracle {
	return &HTTPOracle{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		sessions:   make(map[string]*oracleSession),
	}
}

type oracleResponse struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Fetch implements SigningOracle.
func (o *HTTPOracle) Fetch(ctx context.Context, sessionToken, url, bodyJSON string) (string, error) {
	o.touchSession(sessionToken)

	// bodyJSON is itself a JSON document; sjson lets us nest it as a
	// string field of the envelope without a second marshal pass.
	payload, err := sjson.SetBytes(nil, "session_token", sessionToken)
	if err != nil {
		return "", err
	}
	payload, err = sjson.SetBytes(payload, "url", url)
	if err != nil {
		return "", err
	}
	payload, err = sjson.SetBytes(payload, "body", bodyJSON)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.closeSession(sessionToken)
		return "", fmt.Errorf("signing oracle transport error: %w", err)
	}
	defer resp.Body.Close()

	var parsed oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("signing oracle response decode error: %w", err)
	}
	if parsed.Error != "" {
		o.closeSession(sessionToken)
		return "", fmt.Errorf("signing oracle fetch failed: %s", parsed.Error)
	}
	return parsed.Text, nil
}

func (o *HTTPOracle) touchSession(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[token] = &oracleSession{lastUsed: time.Now()}
}

func (o *HTTPOracle) closeSession(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, token)
}

// CleanupIdleSessions drops locally tracked sessions that have not
// been used in sessionIdleTimeout. Call it periodically from a
// background goroutine.
func (o *HTTPOracle) CleanupIdleSessions() {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for token, s := range o.sessions {
		if now.Sub(s.lastUsed) > sessionIdleTimeout {
			delete(o.sessions, token)
		}
	}
}
