package reports

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/fdg312/mealpool/internal/blob"
	"github.com/fdg312/mealpool/internal/rules"
	"github.com/fdg312/mealpool/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service renders pool exports and optionally uploads them to blob storage.
type Service struct {
	store      storage.MealPoolStorage
	blobStore  blob.Store
	prefix     string
	presignTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewService creates the export service. blobStore may be nil (local mode),
// then exports can only be streamed.
func NewService(store storage.MealPoolStorage, blobStore blob.Store, prefix string, presignTTL time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Service{
		store:      store,
		blobStore:  blobStore,
		prefix:     strings.Trim(prefix, "/"),
		presignTTL: presignTTL,
		log:        log.Named("reports"),
		now:        time.Now,
	}
}

// UploadAvailable reports whether uploads can be served.
func (s *Service) UploadAvailable() bool {
	return s.blobStore != nil
}

// Build loads matching meals and renders them in the requested format.
func (s *Service) Build(ctx context.Context, req ExportRequest) (*Export, error) {
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	meals, err := s.store.ListMeals(ctx, storage.MealFilter{
		CountryCode: req.CountryCode,
		MealType:    req.MealType,
		Limit:       req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}

	exp := &Export{
		Filename:  fmt.Sprintf("meal_pool_%s_%s.%s", scopeLabel(req.CountryCode), scopeLabel(req.MealType), req.Format),
		MealCount: len(meals),
	}

	switch req.Format {
	case FormatCSV:
		exp.ContentType = "text/csv"
		exp.Data, err = GenerateCSV(meals)
	case FormatPDF:
		exp.ContentType = "application/pdf"
		exp.Data, err = GeneratePDF(exportTitle(req), meals)
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// Upload builds an export, stores it under the exports prefix and returns a download URL.
func (s *Service) Upload(ctx context.Context, req ExportRequest) (*ExportDTO, error) {
	if s.blobStore == nil {
		return nil, ErrUploadUnavailable
	}

	exp, err := s.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := path.Join(s.prefix, now.Format("2006/01/02"), uuid.NewString()+"_"+exp.Filename)

	size, err := s.blobStore.PutObject(ctx, key, exp.Data, exp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	url, err := s.blobStore.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign export: %w", err)
	}

	s.log.Info("export uploaded",
		zap.String("key", key),
		zap.Int64("size_bytes", size),
		zap.Int("meals", exp.MealCount),
	)

	return &ExportDTO{
		Format:      strings.TrimPrefix(path.Ext(exp.Filename), "."),
		ObjectKey:   key,
		DownloadURL: url,
		SizeBytes:   size,
		MealCount:   exp.MealCount,
		CreatedAt:   now,
	}, nil
}

func normalize(req ExportRequest) (ExportRequest, error) {
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if req.Format != FormatCSV && req.Format != FormatPDF {
		return req, ErrInvalidFormat
	}

	req.CountryCode = rules.NormalizeCountry(req.CountryCode)

	if raw := strings.TrimSpace(req.MealType); raw != "" {
		mt, err := rules.ParseMealType(raw)
		if err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidMealType, err)
		}
		req.MealType = string(mt)
	}

	if req.Limit <= 0 {
		req.Limit = defaultExportLimit
	}
	if req.Limit > maxExportLimit {
		req.Limit = maxExportLimit
	}
	return req, nil
}

func scopeLabel(v string) string {
	if v == "" {
		return "all"
	}
	return strings.ToLower(v)
}

func exportTitle(req ExportRequest) string {
	country := req.CountryCode
	if country == "" {
		country = "all countries"
	}
	mealType := req.MealType
	if mealType == "" {
		mealType = "all meals"
	}
	return fmt.Sprintf("Meal pool: %s, %s", country, mealType)
}
