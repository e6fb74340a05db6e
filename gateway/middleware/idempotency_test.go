package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) *IdempotencyStore {
	t.Helper()
	store, err := NewIdempotencyStore(filepath.Join(t.TempDir(), "idem.db"), ttl)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func countingHandler(hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*hits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"execution":%d}`, *hits)
	})
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	store := newTestStore(t, time.Hour)
	var hits int
	handler := NewIdempotency(store).Middleware()(countingHandler(&hits))

	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	req.Header.Set("Idempotency-Key", "dep-123")
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if hits != 1 {
		t.Fatalf("expected one execution, got %d", hits)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if hits != 1 {
		t.Fatalf("replay must not re-execute, got %d executions", hits)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q != original %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("expected replay marker header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", second.Header().Get("Content-Type"))
	}
}

func TestIdempotencyKeysAreScopedToRoute(t *testing.T) {
	store := newTestStore(t, time.Hour)
	var hits int
	handler := NewIdempotency(store).Middleware()(countingHandler(&hits))

	deposit := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	deposit.Header.Set("Idempotency-Key", "shared")
	handler.ServeHTTP(httptest.NewRecorder(), deposit)

	borrow := httptest.NewRequest(http.MethodPost, "/v1/borrow", nil)
	borrow.Header.Set("Idempotency-Key", "shared")
	handler.ServeHTTP(httptest.NewRecorder(), borrow)

	if hits != 2 {
		t.Fatalf("same key on different routes must execute separately, got %d", hits)
	}
}

func TestIdempotencyIgnoresMissingKey(t *testing.T) {
	store := newTestStore(t, time.Hour)
	var hits int
	handler := NewIdempotency(store).Middleware()(countingHandler(&hits))

	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if hits != 2 {
		t.Fatalf("keyless requests must not be cached, got %d executions", hits)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	store := newTestStore(t, time.Hour)
	var hits int
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "upstream offline", http.StatusBadGateway)
	})
	handler := NewIdempotency(store).Middleware()(failing)

	req := httptest.NewRequest(http.MethodPost, "/v1/deposit", nil)
	req.Header.Set("Idempotency-Key", "retry-me")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if hits != 2 {
		t.Fatalf("5xx responses must stay retryable, got %d executions", hits)
	}
}

func TestIdempotencyExpiresRecords(t *testing.T) {
	store := newTestStore(t, time.Minute)
	current := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return current }

	if err := store.Put("key", http.StatusOK, "application/json", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, err := store.Get("key"); err != nil || !ok {
		t.Fatalf("expected live record, ok=%v err=%v", ok, err)
	}

	current = current.Add(2 * time.Minute)
	if _, ok, err := store.Get("key"); err != nil || ok {
		t.Fatalf("expected expired record, ok=%v err=%v", ok, err)
	}
}
