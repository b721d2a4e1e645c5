package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/app"
	"github.com/fdg312/mealpool/internal/blob"
	"github.com/fdg312/mealpool/internal/cache"
	"github.com/fdg312/mealpool/internal/catalog"
	"github.com/fdg312/mealpool/internal/config"
	"github.com/fdg312/mealpool/internal/mealpool"
	"github.com/fdg312/mealpool/internal/reports"
	"github.com/fdg312/mealpool/internal/storage"
)

// Server представляет HTTP сервер
type Server struct {
	config   *config.Config
	log      *zap.Logger
	mux      *http.ServeMux
	handler  http.Handler
	storage  storage.Store
	cache    *cache.RedisCache
	registry *prometheus.Registry
	httpSrv  *http.Server

	// StorageKind: memory, sqlite или postgres (для баннера)
	StorageKind string
	// BlobMode: итоговый режим blob хранилища экспортов
	BlobMode string
	// CatalogSource: имя источника каталога
	CatalogSource string
}

// New собирает зависимости и регистрирует маршруты
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		config:   cfg,
		log:      log,
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, kind, err := app.OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.storage, s.StorageKind = store, kind
	log.Info("storage ready", zap.String("kind", kind))

	if cfg.RedisURL != "" {
		c, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			// Каталог читается и без кэша
			log.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
		} else {
			s.cache = c
		}
	}

	blobs, err := app.OpenBlobStores(ctx, cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.BlobMode = blobs.ExportsMode

	src, err := app.CatalogSource(cfg, s.storage, blobs.Catalog)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.CatalogSource = src.Name()

	var dc catalog.Cache
	if s.cache != nil {
		dc = s.cache
	}
	loader := app.NewCatalogLoader(cfg, src, dc, log)

	// Каталог проверяется на старте, битый документ не должен дожить до первого запроса
	snap, err := loader.Snapshot(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load catalog from %s: %w", loader.SourceName(), err)
	}
	log.Info("catalog loaded",
		zap.String("source", loader.SourceName()),
		zap.String("version", snap.Version),
		zap.Int("ingredients", snap.Pool.Len()),
	)

	s.routes(loader, blobs.Exports)

	hm := newHTTPMetrics(s.registry)
	var h http.Handler = s.mux
	h = RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, hm.rateLimited, h)
	h = CORSMiddleware(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials, h)
	h = observe(log.Named("http"), hm, h)
	s.handler = h

	return s, nil
}

// routes регистрирует маршруты
func (s *Server) routes(loader *catalog.Loader, exportsBlob blob.Store) {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	svc := mealpool.NewService(loader, s.storage, app.MealPoolOptions(s.config), mealpool.NewMetrics(s.registry), s.log)
	h := mealpool.NewHandler(svc)

	// POST /v1/meal-pool/generate - one batch
	s.mux.HandleFunc("POST /v1/meal-pool/generate", h.HandleGenerate)
	// POST /v1/meal-pool/generate/batch - several batches in parallel
	s.mux.HandleFunc("POST /v1/meal-pool/generate/batch", h.HandleGenerateBatch)
	s.mux.HandleFunc("GET /v1/meal-pool/meals", h.HandleListMeals)
	s.mux.HandleFunc("GET /v1/meal-pool/rules/resolve", h.HandleResolveRule)

	presignTTL := time.Duration(s.config.Blob.S3.PresignTTLSeconds) * time.Second
	exports := reports.NewService(s.storage, exportsBlob, s.config.MealPool.ExportsPrefix, presignTTL, s.log)
	s.mux.HandleFunc("GET /v1/meal-pool/export", reports.NewHandlers(exports).HandleExport)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"storage": s.StorageKind,
		"catalog": s.CatalogSource,
	})
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start запускает HTTP сервер и блокируется до Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("server listening", zap.String("addr", "http://localhost"+addr))

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown останавливает приём запросов и ждёт активные
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Close закрывает storage и кэш
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.storage != nil {
		errs = append(errs, s.storage.Close())
	}
	return errors.Join(errs...)
}
