package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPOracleFetchSuccess(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oracleResponse{OK: true, Status: 200, Text: `{"ok":true}`})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL)
	text, err := oracle.Fetch(context.Background(), "tok-1", "https://jimeng.jianying.com/x", `{"a":1}`)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if text != `{"ok":true}` {
		t.Fatalf("unexpected text: %q", text)
	}
	if received["session_token"] != "tok-1" {
		t.Fatalf("expected session_token to be forwarded, got %+v", received)
	}
	if received["body"] != `{"a":1}` {
		t.Fatalf("expected nested body to be the raw JSON document, got %+v", received)
	}
}

func TestHTTPOracleFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oracleResponse{Error: "session expired"})
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(srv.URL)
	if _, err := oracle.Fetch(context.Background(), "tok-1", "https://x", "{}"); err == nil {
		t.Fatal("expected an error when the oracle reports one")
	}
}
