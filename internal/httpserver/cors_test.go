package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const appOrigin = "https://app.example.com"

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSPreflightAllowedOrigin(t *testing.T) {
	handler := CORSMiddleware([]string{appOrigin}, false, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/meal-pool/generate", nil)
	req.Header.Set("Origin", appOrigin)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, appOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflightDisallowedOrigin(t *testing.T) {
	called := false
	handler := CORSMiddleware([]string{appOrigin}, false, okHandler(&called))

	req := httptest.NewRequest(http.MethodOptions, "/v1/meal-pool/generate", nil)
	req.Header.Set("Origin", "https://evil.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSDisallowedOriginPassesThrough(t *testing.T) {
	called := false
	handler := CORSMiddleware([]string{appOrigin}, true, okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/v1/meal-pool/meals", nil)
	req.Header.Set("Origin", "https://evil.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowedOriginOnNormalRequest(t *testing.T) {
	handler := CORSMiddleware([]string{" " + appOrigin + " "}, true, okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/meal-pool/export", nil)
	req.Header.Set("Origin", appOrigin)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, appOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCORSNoOriginsConfigured(t *testing.T) {
	called := false
	handler := CORSMiddleware(nil, false, okHandler(&called))

	req := httptest.NewRequest(http.MethodOptions, "/v1/meal-pool/meals", nil)
	req.Header.Set("Origin", appOrigin)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
