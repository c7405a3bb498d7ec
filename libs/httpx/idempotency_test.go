package httpx

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scopeByHeader(r *http.Request) string { return r.Header.Get("X-Account-Id") }

func TestWithIdempotency_ReplaySkipsHandler(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	executions := 0
	h := WithIdempotency(store, scopeByHeader, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			executions++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"subscription_id":"sub-%d"}`, executions)
		}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{}`))
		req.Header.Set("X-Account-Id", "acct-1")
		req.Header.Set(IdempotencyHeader, "key-1")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	first := do()
	second := do()

	if executions != 1 {
		t.Fatalf("handler executed %d times, want 1", executions)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("status codes: %d, %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatal("replay must be marked")
	}
}

func TestWithIdempotency_InFlightRejected(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	// Pre-claim the key as an in-flight original request.
	if _, outcome, _ := store.Claim(t.Context(), "acct-1", "key-1"); outcome != IdemFresh {
		t.Fatalf("setup claim: %v", outcome)
	}

	h := WithIdempotency(store, scopeByHeader, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			t.Fatal("handler must not run for an in-flight duplicate")
		}))

	req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
	req.Header.Set("X-Account-Id", "acct-1")
	req.Header.Set(IdempotencyHeader, "key-1")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestWithIdempotency_ServerErrorReleasesKey(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	attempt := 0
	h := WithIdempotency(store, scopeByHeader, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempt++
			if attempt == 1 {
				http.Error(w, "db down", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
		}))

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
		req.Header.Set("X-Account-Id", "acct-1")
		req.Header.Set(IdempotencyHeader, "key-1")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw.Code
	}

	if code := do(); code != http.StatusInternalServerError {
		t.Fatalf("first attempt: %d", code)
	}
	// 5xx is not a stored result; the retry re-executes.
	if code := do(); code != http.StatusCreated {
		t.Fatalf("retry: %d", code)
	}
	if attempt != 2 {
		t.Fatalf("handler executed %d times, want 2", attempt)
	}
}

func TestWithIdempotency_NoKeyPassesThrough(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	executions := 0
	h := WithIdempotency(store, scopeByHeader, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			executions++
			w.WriteHeader(http.StatusCreated)
		}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/subscriptions", nil)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
	}
	if executions != 2 {
		t.Fatalf("handler executed %d times, want 2", executions)
	}
}
