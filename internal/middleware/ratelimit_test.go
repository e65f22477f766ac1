package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/cmsgate/internal/metrics"
	"github.com/hitoshi/cmsgate/internal/model"
)

func loginRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLoginRateLimit_AllowsRequestsWithinBurst(t *testing.T) {
	cfg := RateLimiterConfig{
		LoginRate:       1,
		LoginBurst:      5,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("192.0.2.1:40000"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestLoginRateLimit_Returns429WithRetryAfter(t *testing.T) {
	cfg := RateLimiterConfig{
		LoginRate:       0.5,
		LoginBurst:      1,
		CleanupInterval: 1 * time.Minute,
	}

	m := &countingMetrics{}
	rl := NewRateLimiter(cfg, m)
	defer rl.Stop()

	handler := rl.LoginMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.1:40000"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("192.0.2.1:40001"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retrySeconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After should be a number, got %q", resp.Header.Get("Retry-After"))
	}
	if retrySeconds != 2 {
		t.Errorf("Retry-After = %d, want 2", retrySeconds)
	}

	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want %q", resp.Header.Get("Content-Type"), "application/json")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeRateLimited)
	}

	if len(m.logins) != 1 || m.logins[0] != metrics.LoginRateLimited {
		t.Errorf("login attempts = %v, want [%s]", m.logins, metrics.LoginRateLimited)
	}
}

func TestLoginRateLimit_IsolatesClientIPs(t *testing.T) {
	cfg := RateLimiterConfig{
		LoginRate:       1,
		LoginBurst:      1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()

	handler := rl.LoginMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.1:40000"))

	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, loginRequest("192.0.2.1:40000"))
	if wA.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("client A second request: status = %d, want %d", wA.Result().StatusCode, http.StatusTooManyRequests)
	}

	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, loginRequest("198.51.100.7:40000"))
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("client B first request: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestLoginRateLimit_IgnoresForwardedHeaders(t *testing.T) {
	cfg := RateLimiterConfig{
		LoginRate:       1,
		LoginBurst:      1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()

	handler := rl.LoginMiddleware()(okHandler())

	first := loginRequest("192.0.2.1:40000")
	first.Header.Set("X-Forwarded-For", "203.0.113.1")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := loginRequest("192.0.2.1:40000")
	second.Header.Set("X-Forwarded-For", "203.0.113.2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, second)

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		LoginRate:       1,
		LoginBurst:      5,
		CleanupInterval: 50 * time.Millisecond,
	}

	rl := NewRateLimiter(cfg, nil)
	defer rl.Stop()

	rl.LoginMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), loginRequest("192.0.2.1:40000"))

	if rl.LimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// TTLはCleanupIntervalの2倍（100ms）
	deadline := time.Now().Add(2 * time.Second)
	for rl.LimiterCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if count := rl.LimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.LoginBurst != 10 {
		t.Errorf("LoginBurst = %d, want 10", cfg.LoginBurst)
	}
	if want := 10.0 / 60.0; float64(cfg.LoginRate) != want {
		t.Errorf("LoginRate = %f, want %f", float64(cfg.LoginRate), want)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestLoginRateLimiterConfig_ClampsToOne(t *testing.T) {
	cfg := LoginRateLimiterConfig(0)
	if cfg.LoginBurst != 1 {
		t.Errorf("LoginBurst = %d, want 1", cfg.LoginBurst)
	}
}
