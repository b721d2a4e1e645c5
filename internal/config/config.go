package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BlobModeLocal = "local"
	BlobModeS3    = "s3"
	BlobModeAuto  = "auto"
)

type S3Config struct {
	Endpoint          string
	Region            string
	Bucket            string
	AccessKeyID       string
	SecretAccessKey   string
	PublicBaseURL     string
	PresignTTLSeconds int
	PreferPublicURL   bool
}

func (c S3Config) MissingRequired() []string {
	missing := make([]string, 0, 6)
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if strings.TrimSpace(c.Region) == "" {
		missing = append(missing, "S3_REGION")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if strings.TrimSpace(c.AccessKeyID) == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	if strings.TrimSpace(c.PublicBaseURL) == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	return missing
}

func (c S3Config) IsConfigured() bool {
	return len(c.MissingRequired()) == 0
}

func (c S3Config) Diagnostics() (level string, code string, msg string) {
	allEmpty := strings.TrimSpace(c.Endpoint) == "" &&
		strings.TrimSpace(c.Region) == "" &&
		strings.TrimSpace(c.Bucket) == "" &&
		strings.TrimSpace(c.AccessKeyID) == "" &&
		strings.TrimSpace(c.SecretAccessKey) == "" &&
		strings.TrimSpace(c.PublicBaseURL) == ""

	if allEmpty {
		return "INFO", "s3_not_configured", "not configured (all empty)"
	}

	missing := c.MissingRequired()
	if len(missing) > 0 {
		return "WARN", "s3_partial_config", fmt.Sprintf("partial config, missing=%v", missing)
	}

	return "INFO", "s3_ready", "ready"
}

// DiagnosticsSummary returns a detailed summary for logging (no secrets)
func (c S3Config) DiagnosticsSummary() string {
	accessKeyStatus := "not set"
	if strings.TrimSpace(c.AccessKeyID) != "" {
		accessKeyStatus = "set"
	}
	secretKeyStatus := "not set"
	if strings.TrimSpace(c.SecretAccessKey) != "" {
		secretKeyStatus = "set"
	}

	return fmt.Sprintf("endpoint=%s region=%s bucket=%s public_base_url=%s presign_ttl=%ds prefer_public_url=%t access_key_id=%s secret_access_key=%s",
		nonEmptyOrDash(c.Endpoint),
		nonEmptyOrDash(c.Region),
		nonEmptyOrDash(c.Bucket),
		nonEmptyOrDash(c.PublicBaseURL),
		c.PresignTTLSeconds,
		c.PreferPublicURL,
		accessKeyStatus,
		secretKeyStatus,
	)
}

func nonEmptyOrDash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}

type BlobConfig struct {
	Mode           string // local|s3|auto
	ExportsMode    string // local|s3|auto (override)
	ExportsModeSet bool
	S3             S3Config
}

func (c BlobConfig) EffectiveExportsMode() string {
	if c.ExportsModeSet {
		return c.ExportsMode
	}
	return c.Mode
}

const (
	CatalogSourceEmbedded = "embedded"
	CatalogSourceFile     = "file"
	CatalogSourceBlob     = "blob"
	CatalogSourceDB       = "db"
)

// CatalogConfig selects where ingredient and rule documents come from.
type CatalogConfig struct {
	Source   string // embedded|file|blob|db
	Path     string
	BlobKey  string
	CacheTTL time.Duration
}

// MealPoolConfig holds generator and filter tunables.
type MealPoolConfig struct {
	Seed               int64 // 0: derive from the clock per batch
	RetryFactor        int
	ExclusionWindow    int
	MaxQuantity        int
	MaxSubstitutions   int
	NameLang           string
	MaxParallelBatches int
	ExportsPrefix      string
}

// Config содержит конфигурацию приложения
type Config struct {
	Env       string // local | staging | prod
	Port      int
	LogLevel  string
	LogFormat string // json | console

	// Database
	DatabaseURL       string // runtime connection (resolved: pooled > url > direct)
	DatabaseURLRaw    string // DATABASE_URL as provided
	DatabaseURLPooled string // DATABASE_URL_POOLED as provided
	DatabaseURLDirect string // for migrations / DDL (may be empty)
	SQLitePath        string // used when no DATABASE_URL is set

	// Redis (catalog cache); empty disables caching
	RedisURL string

	// CORS
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	// Rate Limiting
	RateLimitRPS   int
	RateLimitBurst int

	Blob BlobConfig

	Catalog  CatalogConfig
	MealPool MealPoolConfig

	// Migrations
	RunMigrationsOnStartup bool

	// Warnings collected while loading; logged once a logger exists
	Warnings []string
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	// APP_ENV (fallback to ENV for backward compat, default: local)
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "local"
	}

	port := envInt("PORT", 8080)

	// LOG_LEVEL (default: debug)
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "debug"
	}

	// LOG_FORMAT (default: console locally, json elsewhere)
	logFormat := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if logFormat == "" {
		logFormat = "json"
		if env == "local" {
			logFormat = "console"
		}
	}

	// ---------- Database ----------
	// Priority: DATABASE_URL_POOLED > DATABASE_URL > DATABASE_URL_DIRECT
	dbPooled := strings.TrimSpace(os.Getenv("DATABASE_URL_POOLED"))
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	dbDirect := strings.TrimSpace(os.Getenv("DATABASE_URL_DIRECT"))

	runtimeDB := dbPooled
	if runtimeDB == "" {
		runtimeDB = dbURL
	}
	if runtimeDB == "" {
		runtimeDB = dbDirect
	}

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))

	// ---------- Migrations ----------
	runMigrationsOnStartup := parseBoolEnv("RUN_MIGRATIONS_ON_STARTUP")

	// ---------- CORS ----------
	corsOrigins := parseCORSOrigins(os.Getenv("CORS_ALLOWED_ORIGINS"), env)
	corsAllowCreds := os.Getenv("CORS_ALLOW_CREDENTIALS") == "1"

	// ---------- Rate Limiting ----------
	rateLimitRPS := envInt("RATE_LIMIT_RPS", 0)
	rateLimitBurst := envInt("RATE_LIMIT_BURST", 0)

	// ---------- Blob / S3 ----------
	blobMode := parseBlobMode("BLOB_MODE", BlobModeLocal, warnf)
	// EXPORTS_MODE переопределяет BLOB_MODE только для выгрузок
	exportsModeSet := strings.TrimSpace(os.Getenv("EXPORTS_MODE")) != ""
	exportsMode := parseBlobMode("EXPORTS_MODE", blobMode, warnf)

	// S3_PRESIGN_TTL_SECONDS (default: 900, enforce > 0)
	s3PresignTTL := envInt("S3_PRESIGN_TTL_SECONDS", 900)
	if s3PresignTTL <= 0 {
		s3PresignTTL = 900
	}

	s3Cfg := S3Config{
		Endpoint:          strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		Region:            strings.TrimSpace(os.Getenv("S3_REGION")),
		Bucket:            strings.TrimSpace(os.Getenv("S3_BUCKET")),
		AccessKeyID:       strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
		SecretAccessKey:   strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
		PublicBaseURL:     strings.TrimSpace(os.Getenv("S3_PUBLIC_BASE_URL")),
		PresignTTLSeconds: s3PresignTTL,
		PreferPublicURL:   parseBoolEnv("S3_PREFER_PUBLIC_URL"),
	}

	blobCfg := BlobConfig{
		Mode:           blobMode,
		ExportsMode:    exportsMode,
		ExportsModeSet: exportsModeSet,
		S3:             s3Cfg,
	}

	// ---------- Catalog ----------
	catalogSource := strings.ToLower(strings.TrimSpace(os.Getenv("CATALOG_SOURCE")))
	switch catalogSource {
	case "":
		catalogSource = CatalogSourceEmbedded
	case CatalogSourceEmbedded, CatalogSourceFile, CatalogSourceBlob, CatalogSourceDB:
	default:
		warnf("unknown CATALOG_SOURCE=%q, fallback to %s", catalogSource, CatalogSourceEmbedded)
		catalogSource = CatalogSourceEmbedded
	}
	catalogPath := strings.TrimSpace(os.Getenv("CATALOG_PATH"))
	if catalogSource == CatalogSourceFile && catalogPath == "" {
		warnf("CATALOG_SOURCE=file without CATALOG_PATH, fallback to %s", CatalogSourceEmbedded)
		catalogSource = CatalogSourceEmbedded
	}
	catalogBlobKey := strings.TrimSpace(os.Getenv("CATALOG_BLOB_KEY"))
	if catalogBlobKey == "" {
		catalogBlobKey = "catalog/current.json"
	}
	// CATALOG_CACHE_TTL_SECONDS (default: 300)
	catalogCacheTTL := envInt("CATALOG_CACHE_TTL_SECONDS", 300)
	if catalogCacheTTL < 0 {
		catalogCacheTTL = 0
	}

	// ---------- Meal pool ----------
	retryFactor := envInt("MEALPOOL_RETRY_FACTOR", 3)
	if retryFactor <= 0 {
		retryFactor = 3
	}
	exclusionWindow := envInt("MEALPOOL_EXCLUSION_WINDOW", 3)
	maxQuantity := envInt("MEALPOOL_MAX_QUANTITY", 50)
	if maxQuantity <= 0 {
		maxQuantity = 50
	}
	maxSubstitutions := envInt("MEALPOOL_MAX_SUBSTITUTIONS", 1)
	if maxSubstitutions < 0 {
		maxSubstitutions = 1
	}
	nameLang := strings.ToLower(strings.TrimSpace(os.Getenv("MEALPOOL_NAME_LANG")))
	if nameLang == "" {
		nameLang = "en"
	}
	maxParallel := envInt("MEALPOOL_MAX_PARALLEL_BATCHES", 4)
	if maxParallel <= 0 {
		maxParallel = 4
	}
	exportsPrefix := strings.Trim(strings.TrimSpace(os.Getenv("EXPORTS_PREFIX")), "/")
	if exportsPrefix == "" {
		exportsPrefix = "exports"
	}

	return &Config{
		Env:               env,
		Port:              port,
		LogLevel:          logLevel,
		LogFormat:         logFormat,
		DatabaseURL:       runtimeDB,
		DatabaseURLRaw:    dbURL,
		DatabaseURLPooled: dbPooled,
		DatabaseURLDirect: dbDirect,
		SQLitePath:        sqlitePath,
		RedisURL:          redisURL,

		CORSAllowedOrigins:   corsOrigins,
		CORSAllowCredentials: corsAllowCreds,

		RateLimitRPS:   rateLimitRPS,
		RateLimitBurst: rateLimitBurst,

		Blob: blobCfg,

		Catalog: CatalogConfig{
			Source:   catalogSource,
			Path:     catalogPath,
			BlobKey:  catalogBlobKey,
			CacheTTL: time.Duration(catalogCacheTTL) * time.Second,
		},
		MealPool: MealPoolConfig{
			Seed:               int64(envInt("MEALPOOL_SEED", 0)),
			RetryFactor:        retryFactor,
			ExclusionWindow:    exclusionWindow,
			MaxQuantity:        maxQuantity,
			MaxSubstitutions:   maxSubstitutions,
			NameLang:           nameLang,
			MaxParallelBatches: maxParallel,
			ExportsPrefix:      exportsPrefix,
		},

		RunMigrationsOnStartup: runMigrationsOnStartup,
		Warnings:               warnings,
	}
}

// parseCORSOrigins parses CORS_ALLOWED_ORIGINS env var.
// In local mode, defaults to localhost origins if empty.
func parseCORSOrigins(raw, env string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if env == "local" {
			return []string{"http://localhost:3000", "http://localhost:8081"}
		}
		return nil // prod: deny by default
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func parseBlobMode(key string, defaultVal string, warnf func(string, ...any)) string {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if mode == "" {
		return defaultVal
	}
	switch mode {
	case BlobModeLocal, BlobModeS3, BlobModeAuto:
		return mode
	default:
		warnf("unknown %s=%q, fallback to %s", key, mode, defaultVal)
		return defaultVal
	}
}

// envInt reads an int env var with a default value.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
