package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/catalog"
	"github.com/fdg312/mealpool/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:  "local",
		Port: 8080,
		Blob: config.BlobConfig{Mode: config.BlobModeLocal},
		Catalog: config.CatalogConfig{
			Source: config.CatalogSourceEmbedded,
		},
		MealPool: config.MealPoolConfig{
			RetryFactor:      3,
			ExclusionWindow:  3,
			MaxQuantity:      50,
			MaxSubstitutions: 1,
			NameLang:         "en",
			ExportsPrefix:    "exports",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func serve(srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(method, target, &buf))
	return rr
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rr := serve(srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "memory", resp["storage"])
	assert.Equal(t, "embedded", resp["catalog"])
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rr := serve(srv, http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestGenerateListAndExport(t *testing.T) {
	srv := newTestServer(t, testConfig())

	seed := int64(42)
	rr := serve(srv, http.MethodPost, "/v1/meal-pool/generate", map[string]any{
		"country_code": "BR",
		"meal_type":    "breakfast",
		"quantity":     3,
		"seed":         seed,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var gen struct {
		Inserted int `json:"inserted"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &gen))
	require.Positive(t, gen.Inserted)

	rr = serve(srv, http.MethodGet, "/v1/meal-pool/meals?country_code=BR", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(srv, http.MethodGet, "/v1/meal-pool/export?country_code=BR&format=csv", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	assert.Len(t, lines, gen.Inserted+1)

	rr = serve(srv, http.MethodGet, "/v1/meal-pool/export?upload=1", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig())

	serve(srv, http.MethodGet, "/v1/meal-pool/rules/resolve?country_code=PT&meal_type=lunch", nil)

	rr := serve(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="GET /v1/meal-pool/rules/resolve",status_code="200"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestRateLimitWired(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	srv := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/v1/meal-pool/meals", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(srv, http.MethodGet, "/v1/meal-pool/meals", nil).Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/healthz", nil).Code)
}

func TestSQLiteStorageAndFileCatalog(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(catalogPath, catalog.Default(), 0o600))

	cfg := testConfig()
	cfg.SQLitePath = filepath.Join(dir, "pool.db")
	cfg.Catalog = config.CatalogConfig{Source: config.CatalogSourceFile, Path: catalogPath}
	srv := newTestServer(t, cfg)

	assert.Equal(t, "sqlite", srv.StorageKind)
	assert.Equal(t, "file:"+catalogPath, srv.CatalogSource)
}

func TestNewFailsOnBadCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.Catalog = config.CatalogConfig{Source: config.CatalogSourceFile, Path: filepath.Join(t.TempDir(), "missing.json")}

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewFailsOnBlobCatalogWithoutBlobStore(t *testing.T) {
	cfg := testConfig()
	cfg.Catalog = config.CatalogConfig{Source: config.CatalogSourceBlob, BlobKey: "catalog/current.json"}

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CATALOG_SOURCE=blob")
}
