package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// HandleExport handles GET /v1/meal-pool/export
//
// Without upload=1 the file is streamed as an attachment. With upload=1 it is
// stored in blob storage and a JSON body with download_url is returned.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := ExportRequest{
		CountryCode: q.Get("country_code"),
		MealType:    q.Get("meal_type"),
		Format:      q.Get("format"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		req.Limit = limit
	}

	if q.Get("upload") == "1" || q.Get("upload") == "true" {
		dto, err := h.service.Upload(r.Context(), req)
		if err != nil {
			writeExportError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(dto)
		return
	}

	exp, err := h.service.Build(r.Context(), req)
	if err != nil {
		writeExportError(w, err)
		return
	}

	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", exp.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(exp.Data)))
	w.Header().Set("X-Meal-Count", strconv.Itoa(exp.MealCount))
	w.Write(exp.Data)
}

func writeExportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
	case errors.Is(err, ErrInvalidMealType):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ErrUploadUnavailable):
		writeError(w, http.StatusConflict, "upload_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
