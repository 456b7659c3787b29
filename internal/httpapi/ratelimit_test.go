package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiter_UnderBurstAllowed(t *testing.T) {
	rl := newRateLimiter(true, 60, 5)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.wrap(inner)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/tasks", nil)
		req.Header.Set("Authorization", "Bearer test-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiter_OverBurstRejected(t *testing.T) {
	rl := newRateLimiter(true, 60, 2)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.wrap(inner)

	var lastCode int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("GET", "/tasks", nil)
		req.Header.Set("Authorization", "Bearer test-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding burst, got %d", lastCode)
	}
}

func TestRateLimiter_DisabledPassesThrough(t *testing.T) {
	rl := newRateLimiter(false, 60, 1)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.wrap(inner)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/tasks", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with limiter disabled, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiter_HealthzExempt(t *testing.T) {
	rl := newRateLimiter(true, 60, 1)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.wrap(inner)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("healthz request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimiter_DifferentKeysIndependentBuckets(t *testing.T) {
	rl := newRateLimiter(true, 60, 1)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.wrap(inner)

	req1 := httptest.NewRequest("GET", "/tasks", nil)
	req1.Header.Set("Authorization", "Bearer token-a")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("token-a request: expected 200, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest("GET", "/tasks", nil)
	req2.Header.Set("Authorization", "Bearer token-b")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("token-b request: expected 200, got %d", rec2.Code)
	}

	if rl.bucketCount() != 2 {
		t.Fatalf("expected 2 distinct buckets, got %d", rl.bucketCount())
	}
}
