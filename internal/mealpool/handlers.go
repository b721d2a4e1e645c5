package mealpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fdg312/mealpool/internal/catalog"
	"github.com/fdg312/mealpool/internal/rules"
)

const maxBatchesPerRequest = 20

// Handler handles HTTP requests for the meal pool.
type Handler struct {
	service *Service
}

// NewHandler creates a new meal pool handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleGenerate handles POST /v1/meal-pool/generate
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid request body")
		return
	}

	resp, err := h.service.Generate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGenerateBatch handles POST /v1/meal-pool/generate/batch
func (h *Handler) HandleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid request body")
		return
	}
	if len(req.Batches) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "batches is required and must not be empty")
		return
	}
	if len(req.Batches) > maxBatchesPerRequest {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("batches cannot exceed %d", maxBatchesPerRequest))
		return
	}

	results, err := h.service.GenerateMany(r.Context(), req.Batches)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// HandleListMeals handles GET /v1/meal-pool/meals?country_code=&meal_type=&limit=
func (h *Handler) HandleListMeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntQuery(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-1000")
		return
	}

	meals, err := h.service.ListMeals(r.Context(), q.Get("country_code"), q.Get("meal_type"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ListMealsResponse{Meals: meals})
}

// HandleResolveRule handles GET /v1/meal-pool/rules/resolve?country_code=&meal_type=
func (h *Handler) HandleResolveRule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.ResolveRule(r.Context(), q.Get("country_code"), q.Get("meal_type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// classify maps a service error to an envelope code, HTTP status and message.
func classify(err error) (code string, status int, message string) {
	var verr *ValidationError
	var nrf *rules.NoRuleFoundError
	switch {
	case errors.As(err, &verr):
		return "invalid_request", http.StatusBadRequest, verr.Error()
	case errors.As(err, &nrf):
		return "no_rule_found", http.StatusNotFound, nrf.Error()
	case catalog.IsRecordError(err):
		return "catalog_invalid", http.StatusInternalServerError, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled", http.StatusServiceUnavailable, "request canceled"
	default:
		return "internal_error", http.StatusInternalServerError, "Failed to process meal pool request"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code, status, msg := classify(err)
	writeError(w, status, code, msg)
}

func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}

	var val int
	if _, err := fmt.Sscanf(valStr, "%d", &val); err != nil {
		return defaultValue
	}

	return val
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
