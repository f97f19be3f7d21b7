package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinicbook/internal/platform/auth"
)

func limitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func serveAs(e *echo.Echo, h echo.HandlerFunc, userID string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, []string{auth.RolePatient}))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func expectTooMany(t *testing.T, err error) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := serveAs(e, h, "")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: X-RateLimit-Limit = %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := serveAs(e, h, ""); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}
	rec, err := serveAs(e, h, "")
	expectTooMany(t, err)

	retry, perr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if perr != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerUserIsolation(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := serveAs(e, h, "user-a"); err != nil {
		t.Fatalf("user-a first request: %v", err)
	}
	_, err := serveAs(e, h, "user-a")
	expectTooMany(t, err)

	if _, err := serveAs(e, h, "user-b"); err != nil {
		t.Fatalf("user-b first request: %v", err)
	}
	// Anonymous callers are keyed by IP and have their own bucket.
	if _, err := serveAs(e, h, ""); err != nil {
		t.Fatalf("anonymous first request: %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("expected BurstSize 200, got %d", cfg.BurstSize)
	}
	if cfg.IdleTTL != 10*time.Minute {
		t.Errorf("expected IdleTTL 10m, got %s", cfg.IdleTTL)
	}
}

func TestLimiterStore_ReusesAndEvicts(t *testing.T) {
	now := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	s.now = func() time.Time { return now }

	l1 := s.get("a")
	if l2 := s.get("a"); l1 != l2 {
		t.Error("expected same limiter for same key")
	}
	if s.get("b") == l1 {
		t.Error("expected different limiter for different key")
	}

	now = now.Add(2 * time.Minute)
	s.get("b")
	if n := s.size(); n != 1 {
		t.Errorf("expected idle limiter evicted, %d remain", n)
	}
}

func TestRetryAfter_ZeroRate(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1})
	l := s.get("k")
	now := time.Now()
	l.AllowN(now, 1)
	if ra := retryAfter(l, now); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}
