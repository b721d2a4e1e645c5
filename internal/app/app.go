// Package app wires config into the stores, catalog loader and services
// shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/blob"
	"github.com/fdg312/mealpool/internal/catalog"
	"github.com/fdg312/mealpool/internal/config"
	"github.com/fdg312/mealpool/internal/mealpool"
	"github.com/fdg312/mealpool/internal/storage"
	"github.com/fdg312/mealpool/internal/storage/memory"
	"github.com/fdg312/mealpool/internal/storage/postgres"
	"github.com/fdg312/mealpool/internal/storage/sqlite"
)

// Storage kinds reported by OpenStorage.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// OpenStorage выбирает storage: Postgres > SQLite > Memory.
// В local окружении недоступный Postgres не фатален, работаем на памяти.
func OpenStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, string, error) {
	switch {
	case cfg.DatabaseURL != "":
		log.Info("connecting to PostgreSQL")
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			if cfg.Env != "local" {
				return nil, "", fmt.Errorf("failed to connect to postgres: %w", err)
			}
			log.Warn("postgres unavailable, falling back to in-memory storage", zap.Error(err))
			return memory.New(), StorageMemory, nil
		}
		return pg, StoragePostgres, nil

	case cfg.SQLitePath != "":
		lite, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return lite, StorageSQLite, nil
	}
	return memory.New(), StorageMemory, nil
}

// BlobStores holds the catalog store (BLOB_MODE) and the exports store,
// which EXPORTS_MODE may override. Nil stores mean local mode.
type BlobStores struct {
	Catalog     blob.Store
	Exports     blob.Store
	ExportsMode string
}

// OpenBlobStores builds the blob stores, reusing one client when both
// modes resolve the same.
func OpenBlobStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (BlobStores, error) {
	b := cfg.Blob

	base, baseMode, err := blob.NewBlobStore(ctx, b.Mode, b.S3, log)
	if err != nil {
		return BlobStores{}, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	exportsMode := b.EffectiveExportsMode()
	if !b.ExportsModeSet || exportsMode == b.Mode {
		return BlobStores{Catalog: base, Exports: base, ExportsMode: baseMode}, nil
	}

	log.Info("exports blob mode override",
		zap.String("exports_mode", exportsMode),
		zap.String("blob_mode", b.Mode),
	)
	exports, mode, err := blob.NewBlobStore(ctx, exportsMode, b.S3, log)
	if err != nil {
		return BlobStores{}, fmt.Errorf("failed to initialize exports blob store: %w", err)
	}
	if mode == baseMode {
		exports = base
	}
	return BlobStores{Catalog: base, Exports: exports, ExportsMode: mode}, nil
}

// CatalogSource maps CATALOG_SOURCE to a catalog.Source.
func CatalogSource(cfg *config.Config, store storage.CatalogStorage, blobStore blob.Store) (catalog.Source, error) {
	c := cfg.Catalog
	switch c.Source {
	case config.CatalogSourceFile:
		return catalog.File(c.Path), nil
	case config.CatalogSourceBlob:
		if blobStore == nil {
			return nil, errors.New("CATALOG_SOURCE=blob requires BLOB_MODE=s3 or a configured S3 bucket")
		}
		return catalog.Blob(blobStore, c.BlobKey), nil
	case config.CatalogSourceDB:
		return catalog.DB(store), nil
	}
	return catalog.Embedded(), nil
}

// NewCatalogLoader builds the loader; cache may be nil.
func NewCatalogLoader(cfg *config.Config, src catalog.Source, cache catalog.Cache, log *zap.Logger) *catalog.Loader {
	return catalog.NewLoader(src, cache, cfg.Catalog.CacheTTL, log)
}

// MealPoolOptions converts MEALPOOL_* settings into service options.
func MealPoolOptions(cfg *config.Config) mealpool.Options {
	mp := cfg.MealPool
	return mealpool.Options{
		Seed:               mp.Seed,
		RetryFactor:        mp.RetryFactor,
		ExclusionWindow:    mp.ExclusionWindow,
		MaxQuantity:        mp.MaxQuantity,
		MaxSubstitutions:   mp.MaxSubstitutions,
		NameLang:           mp.NameLang,
		MaxParallelBatches: mp.MaxParallelBatches,
	}
}
