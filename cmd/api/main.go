package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/config"
	"github.com/fdg312/mealpool/internal/dbmigrate"
	"github.com/fdg312/mealpool/internal/httpserver"
	"github.com/fdg312/mealpool/internal/logger"
	"github.com/fdg312/mealpool/migrations"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Development: cfg.Env == "local",
	})
	defer log.Sync()

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	printStartupBanner(log, cfg)
	validateProductionConfig(log, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrationsOnStartup && cfg.DatabaseURL != "" {
		target, err := dbmigrate.SelectDatabaseURL(cfg, true)
		if err != nil {
			log.Fatal("startup migrations", zap.Error(err))
		}

		log.Info("startup migrations", zap.String("command", "up"), zap.String("using", target.Source))
		if err := dbmigrate.Run(ctx, dbmigrate.CommandUp, target.URL, migrations.FS, log.Named("migrate")); err != nil {
			log.Fatal("startup migrations failed", zap.Error(err))
		}
	}

	server, err := httpserver.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}
	defer server.Close()

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			log.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

// printStartupBanner logs a one-time summary of the resolved configuration.
// No secrets are ever printed, only "set" / "not set".
func printStartupBanner(log *zap.Logger, cfg *config.Config) {
	log.Info("meal pool api",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
	)

	log.Info("database",
		zap.String("runtime_url", describeDBURL(cfg)),
		zap.String("pooled", setOrNot(cfg.DatabaseURLPooled)),
		zap.String("direct", setOrNot(cfg.DatabaseURLDirect)),
		zap.String("sqlite_path", nonEmptyOrDash(cfg.SQLitePath)),
		zap.Bool("migrations_on_startup", cfg.RunMigrationsOnStartup),
	)

	log.Info("catalog",
		zap.String("source", cfg.Catalog.Source),
		zap.String("path", nonEmptyOrDash(cfg.Catalog.Path)),
		zap.String("blob_key", cfg.Catalog.BlobKey),
		zap.Duration("cache_ttl", cfg.Catalog.CacheTTL),
		zap.String("redis", setOrNot(cfg.RedisURL)),
	)

	mp := cfg.MealPool
	log.Info("meal pool",
		zap.Int64("seed", mp.Seed),
		zap.Int("retry_factor", mp.RetryFactor),
		zap.Int("exclusion_window", mp.ExclusionWindow),
		zap.Int("max_quantity", mp.MaxQuantity),
		zap.Int("max_substitutions", mp.MaxSubstitutions),
		zap.String("name_lang", mp.NameLang),
		zap.Int("max_parallel_batches", mp.MaxParallelBatches),
	)

	fields := []zap.Field{
		zap.String("blob_mode", cfg.Blob.Mode),
		zap.String("exports_mode", displayExportsMode(cfg)),
		zap.String("exports_prefix", mp.ExportsPrefix),
	}
	if cfg.Blob.Mode != config.BlobModeLocal || cfg.Blob.EffectiveExportsMode() != config.BlobModeLocal {
		fields = append(fields, zap.String("s3", cfg.Blob.S3.DiagnosticsSummary()))
	}
	log.Info("blob", fields...)

	log.Info("http",
		zap.Strings("cors_origins", cfg.CORSAllowedOrigins),
		zap.Int("rate_limit_rps", cfg.RateLimitRPS),
		zap.Int("rate_limit_burst", cfg.RateLimitBurst),
	)
}

// validateProductionConfig performs fatal checks that only matter in non-local envs.
func validateProductionConfig(log *zap.Logger, cfg *config.Config) {
	isProd := cfg.Env == "prod" || cfg.Env == "production" || cfg.Env == "staging"

	needsS3 := cfg.Blob.Mode == config.BlobModeS3 || cfg.Blob.EffectiveExportsMode() == config.BlobModeS3 ||
		cfg.Catalog.Source == config.CatalogSourceBlob
	if needsS3 {
		if missing := cfg.Blob.S3.MissingRequired(); len(missing) > 0 {
			log.Fatal("S3 is required but config is incomplete",
				zap.String("missing", strings.Join(missing, ", ")))
		}
	}

	if isProd && cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		log.Fatal("no DATABASE_URL or SQLITE_PATH configured", zap.String("env", cfg.Env))
	}
}

func setOrNot(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return "set"
}

func nonEmptyOrDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func describeDBURL(cfg *config.Config) string {
	switch {
	case cfg.DatabaseURL == "" && cfg.SQLitePath != "":
		return "not set (sqlite)"
	case cfg.DatabaseURL == "":
		return "not set (in-memory storage)"
	case cfg.DatabaseURLPooled != "" && cfg.DatabaseURL == cfg.DatabaseURLPooled:
		return "set (via DATABASE_URL_POOLED)"
	}
	return "set"
}

func displayExportsMode(cfg *config.Config) string {
	if cfg.Blob.ExportsModeSet {
		return cfg.Blob.ExportsMode
	}
	return "(inherits BLOB_MODE=" + cfg.Blob.Mode + ")"
}
