package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimits() map[string]Limit {
	return map[string]Limit{
		ClassRunStart:   {Rate: 0.5, Burst: 2},
		ClassConfigRead: {Rate: 20, Burst: 100},
		ClassDefault:    {Rate: 10, Burst: 5},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = ip
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testLimits())
	handler := rl.Handler(ClassDefault)(okHandler())

	// Burst of 5 succeeds; request 6 is rejected.
	for i := range 5 {
		if rec := doRequest(handler, "192.168.1.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := doRequest(handler, "192.168.1.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiterClassesAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testLimits())

	// Exhaust the run_start budget for this client.
	for range 2 {
		rl.Allow("10.0.0.1", ClassRunStart)
	}
	if _, _, allowed := rl.Allow("10.0.0.1", ClassRunStart); allowed {
		t.Fatal("expected run_start exhausted")
	}

	// The same client's config_read budget is untouched.
	if _, _, allowed := rl.Allow("10.0.0.1", ClassConfigRead); !allowed {
		t.Fatal("expected config_read still allowed")
	}
}

func TestRateLimiterClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testLimits())
	handler := rl.Handler(ClassRunStart)(okHandler())

	for range 2 {
		doRequest(handler, "192.168.1.1:1")
	}
	if rec := doRequest(handler, "192.168.1.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected first client limited, got %d", rec.Code)
	}
	if rec := doRequest(handler, "192.168.1.2:1"); rec.Code != http.StatusOK {
		t.Fatalf("expected second client allowed, got %d", rec.Code)
	}
}

func TestRateLimiterUnknownClassUsesDefault(t *testing.T) {
	rl := NewRateLimiter(testLimits())
	for i := range 5 {
		if _, _, allowed := rl.Allow("c", "mystery"); !allowed {
			t.Fatalf("request %d: expected default burst of 5", i+1)
		}
	}
	if _, _, allowed := rl.Allow("c", "mystery"); allowed {
		t.Fatal("expected default burst exhausted")
	}
}

func TestRateLimiterLazyRefill(t *testing.T) {
	rl := NewRateLimiter(map[string]Limit{ClassDefault: {Rate: 100, Burst: 1}})

	if _, _, allowed := rl.Allow("c", ClassDefault); !allowed {
		t.Fatal("first request must pass")
	}
	if _, _, allowed := rl.Allow("c", ClassDefault); allowed {
		t.Fatal("second immediate request must be rejected")
	}

	time.Sleep(20 * time.Millisecond) // 100/s refills a token in 10 ms
	if _, _, allowed := rl.Allow("c", ClassDefault); !allowed {
		t.Fatal("expected token refilled after waiting")
	}
}

func TestRateLimiterSetsHeaders(t *testing.T) {
	rl := NewRateLimiter(testLimits())
	handler := rl.Handler(ClassDefault)(okHandler())

	rec := doRequest(handler, "192.168.1.1:1234")
	if rec.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected X-RateLimit-Remaining header")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(testLimits())
	rl.Allow("a", ClassDefault)
	rl.Allow("b", ClassConfigRead)
	if rl.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", rl.Len())
	}

	time.Sleep(5 * time.Millisecond)
	rl.cleanup(time.Millisecond)
	if rl.Len() != 0 {
		t.Fatalf("expected buckets cleaned up, got %d", rl.Len())
	}
}
