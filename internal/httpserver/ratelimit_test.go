package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitSecondRequestReturns429(t *testing.T) {
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejected"})
	handler := RateLimitMiddleware(1, 1, rejected, okHandler(nil))

	require.Equal(t, http.StatusOK, hit(handler, "/v1/meal-pool/meals", "1.2.3.4:12345").Code)

	rr := hit(handler, "/v1/meal-pool/meals", "1.2.3.4:12345")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body.Error.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(rejected))
}

func TestRateLimitDisabledWhenZero(t *testing.T) {
	calls := 0
	handler := RateLimitMiddleware(0, 0, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "/", "1.2.3.4:12345").Code)
	}
	assert.Equal(t, 10, calls)
}

func TestRateLimitDifferentIPsIndependent(t *testing.T) {
	handler := RateLimitMiddleware(1, 1, nil, okHandler(nil))

	assert.Equal(t, http.StatusOK, hit(handler, "/", "1.2.3.4:1").Code)
	assert.Equal(t, http.StatusOK, hit(handler, "/", "5.6.7.8:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "/", "1.2.3.4:2").Code)
}

func TestRateLimitSkipsHealthz(t *testing.T) {
	handler := RateLimitMiddleware(1, 1, nil, okHandler(nil))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "/healthz", "1.2.3.4:1").Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", "")
	req.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", clientIP(req))
}

func TestLimiterCleanupDropsIdleClients(t *testing.T) {
	store := newRateLimiterStore(100, 5)
	store.get("1.1.1.1")
	store.get("2.2.2.2")
	require.Equal(t, 2, store.size())

	store.mu.Lock()
	store.cleanup()
	store.mu.Unlock()
	assert.Equal(t, 0, store.size())
}
