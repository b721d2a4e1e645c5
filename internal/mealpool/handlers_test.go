package mealpool

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdg312/mealpool/internal/storage/memory"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	h := NewHandler(newService(t, memory.New(), Options{MaxQuantity: 20}))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/meal-pool/generate", h.HandleGenerate)
	mux.HandleFunc("POST /v1/meal-pool/generate/batch", h.HandleGenerateBatch)
	mux.HandleFunc("GET /v1/meal-pool/meals", h.HandleListMeals)
	mux.HandleFunc("GET /v1/meal-pool/rules/resolve", h.HandleResolveRule)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHandleGenerate(t *testing.T) {
	mux := newTestMux(t)

	rr := do(t, mux, http.MethodPost, "/v1/meal-pool/generate", map[string]any{
		"country_code":       "BR",
		"meal_type":          "breakfast",
		"quantity":           3,
		"intolerance_filter": []string{"lactose"},
		"seed":               21,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "BR", resp.RuleCountry)
	assert.Equal(t, resp.Generated, resp.Inserted+resp.Skipped+resp.Rejected)
	for _, m := range resp.Meals {
		assert.NotContains(t, m.BlockedFor, "lactose")
	}

	rr = do(t, mux, http.MethodGet, "/v1/meal-pool/meals?country_code=BR&meal_type=breakfast", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list ListMealsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list.Meals, resp.Inserted)
}

func TestHandleGenerateErrors(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", `{"country_code":`, http.StatusBadRequest, "invalid_payload"},
		{"zero quantity", map[string]any{"country_code": "BR", "meal_type": "lunch", "quantity": 0}, http.StatusBadRequest, "invalid_request"},
		{"over max quantity", map[string]any{"country_code": "BR", "meal_type": "lunch", "quantity": 21}, http.StatusBadRequest, "invalid_request"},
		{"unknown meal type", map[string]any{"country_code": "BR", "meal_type": "tea", "quantity": 1}, http.StatusBadRequest, "invalid_request"},
		{"unknown tag", map[string]any{"country_code": "BR", "meal_type": "lunch", "quantity": 1, "intolerance_filter": []string{"pollen"}}, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, mux, http.MethodPost, "/v1/meal-pool/generate", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, errorCode(t, rr))
		})
	}
}

func TestHandleGenerateNoRuleFound(t *testing.T) {
	h := NewHandler(NewService(staticLoader{snap: dairySnapshot(t)}, memory.New(), Options{}, nil, nil))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/meal-pool/generate",
		bytes.NewBufferString(`{"country_code":"ZZ","meal_type":"dinner","quantity":2}`))
	h.HandleGenerate(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "no_rule_found", errorCode(t, rr))
}

func TestHandleGenerateBatch(t *testing.T) {
	mux := newTestMux(t)

	rr := do(t, mux, http.MethodPost, "/v1/meal-pool/generate/batch", BatchRequest{Batches: []GenerateRequest{
		{CountryCode: "BR", MealType: "lunch", Quantity: 2, Seed: seed(1)},
		{CountryCode: "US", MealType: "brunch", Quantity: 2},
	}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	require.NotNil(t, resp.Results[0].Response)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, "invalid_request", resp.Results[1].Error.Code)

	rr = do(t, mux, http.MethodPost, "/v1/meal-pool/generate/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	many := BatchRequest{Batches: make([]GenerateRequest, maxBatchesPerRequest+1)}
	rr = do(t, mux, http.MethodPost, "/v1/meal-pool/generate/batch", many)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleListMealsLimit(t *testing.T) {
	mux := newTestMux(t)

	rr := do(t, mux, http.MethodGet, "/v1/meal-pool/meals?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, mux, http.MethodGet, "/v1/meal-pool/meals?meal_type=tea", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, mux, http.MethodGet, "/v1/meal-pool/meals", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"meals":[]}`, rr.Body.String())
}

func TestHandleResolveRule(t *testing.T) {
	mux := newTestMux(t)

	rr := do(t, mux, http.MethodGet, "/v1/meal-pool/rules/resolve?country_code=mx&meal_type=breakfast", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "US", resp.RuleCountry)
	assert.Equal(t, []string{"MX", "US"}, resp.Chain)
	assert.Contains(t, resp.Typical, "black_coffee")

	rr = do(t, mux, http.MethodGet, "/v1/meal-pool/rules/resolve?meal_type=breakfast", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
