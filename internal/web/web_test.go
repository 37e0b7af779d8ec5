package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/config"
	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/queue"
	"github.com/fran0220/jimeng-gateway/internal/ratelimit"
	"github.com/fran0220/jimeng-gateway/internal/sessionpool"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
)

func newTestServer(t *testing.T, authEnabled bool) (*Server, *db.DB) {
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
	limiter := ratelimit.New()
	cfg := config.Config{Port: 0, AuthEnabled: authEnabled}
	gate := auth.NewGate(cfg, store, limiter)
	credentials := auth.NewCredentials(store, limiter)
	client := upstream.NewClient(nil)
	q := queue.New(store, pool, client, cfg)

	return New(cfg, store, pool, q, credentials, gate, client), store
}

// do drives a request through the server's full handler, including
// the admission gate, without starting a real listener.
func do(s *Server, method, path string, body []byte, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetTaskAnonymous(t *testing.T) {
	s, _ := newTestServer(t, false)

	createBody, _ := json.Marshal(CreateTaskAPIRequest{Prompt: "a cat on a skateboard"})
	rec := do(s, http.MethodPost, "/api/v1/tasks", createBody, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var created APITask
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	if created.Status != "queued" {
		t.Fatalf("expected queued status, got %q", created.Status)
	}

	rec = do(s, http.MethodGet, "/api/v1/tasks/"+created.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateTaskRejectsEmptyPrompt(t *testing.T) {
	s, _ := newTestServer(t, false)
	body, _ := json.Marshal(CreateTaskAPIRequest{})
	rec := do(s, http.MethodPost, "/api/v1/tasks", body, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectMissingScopeWhenAuthEnabled(t *testing.T) {
	s, store := newTestServer(t, true)

	limiter := ratelimit.New()
	created, err := auth.NewCredentials(store, limiter).Create(auth.CreateParams{Name: "client-key"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := do(s, http.MethodGet, "/api/v1/sessions", nil, created.RawKey)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin credential hitting an admin route, got %d", rec.Code)
	}
}

func TestMeAnonymousUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := do(s, http.MethodGet, "/api/v1/me", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an anonymous caller, got %d", rec.Code)
	}
}

func TestPingHasNoAuthRequirementEvenWithAuthEnabled(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := do(s, http.MethodGet, "/ping", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /ping to bypass the admission gate entirely, got %d", rec.Code)
	}
}

func TestCompatGenerateMultipartFormFields(t *testing.T) {
	s, _ := newTestServer(t, false)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("prompt", "a whale breaching at sunset"); err != nil {
		t.Fatalf("WriteField prompt: %v", err)
	}
	if err := w.WriteField("ratio", "9:16"); err != nil {
		t.Fatalf("WriteField ratio: %v", err)
	}
	if err := w.WriteField("duration", "8"); err != nil {
		t.Fatalf("WriteField duration: %v", err)
	}
	part, err := w.CreateFormFile("image", "ref.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte("not a real png")); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/videos/generations", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a valid multipart request, got %d: %s", rec.Code, rec.Body.String())
	}

	var parsed struct {
		Task struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"task"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed.Task.ID == "" || parsed.Task.Status != "queued" {
		t.Fatalf("expected a queued task in the response, got %+v", parsed)
	}
}

func TestCompatModelsListsStaticModels(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := do(s, http.MethodGet, "/v1/models", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Data) == 0 {
		t.Fatal("expected a non-empty static model list")
	}
}
