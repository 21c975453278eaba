package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/states":
			w.Write([]byte(`[{"entity_id":"light.kitchen"},{"entity_id":"switch.hall"}]`))
		default:
			w.Write([]byte(`{"version": "2024.1.0"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second)
	result := c.Probe(context.Background())
	if result.Status != "ok" {
		t.Fatalf("expected ok status, got %q (err=%s)", result.Status, result.Error)
	}
	if result.Version != "2024.1.0" {
		t.Fatalf("expected version 2024.1.0, got %q", result.Version)
	}
	if result.Entities != 2 {
		t.Fatalf("expected 2 entities, got %d", result.Entities)
	}
}

func TestProbeReportsErrorWithoutReturningOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("hub offline"))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second)
	result := c.Probe(context.Background())
	if result.Status != "error" {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if result.Error == "" {
		t.Fatal("expected non-empty error detail")
	}
}

func TestCallDecodesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted": true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second)
	var out map[string]any
	if err := c.Call(context.Background(), "POST", "/api/services/light/turn_on", map[string]any{"entity_id": "light.kitchen"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted, _ := out["accepted"].(bool); !accepted {
		t.Fatalf("expected accepted=true, got %v", out)
	}
}

func TestCallReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such entity"))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second)
	var out any
	err := c.Call(context.Background(), "GET", "/api/states/light.nonexistent", nil, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

