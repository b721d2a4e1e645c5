package dbmigrate

import (
	"fmt"

	"github.com/fdg312/mealpool/internal/config"
)

// Target is the database a migration command runs against.
type Target struct {
	URL     string
	Source  string // env key the URL came from
	Warning string
}

// SelectDatabaseURL picks the DB URL for migrations.
// Priority: DIRECT > DATABASE_URL > POOLED (with warning).
// With requireDirect only DATABASE_URL_DIRECT is accepted, except when no
// pooled URL is configured at all: then DATABASE_URL is a direct connection too.
func SelectDatabaseURL(cfg *config.Config, requireDirect bool) (Target, error) {
	if cfg.DatabaseURLDirect != "" {
		return Target{URL: cfg.DatabaseURLDirect, Source: "DATABASE_URL_DIRECT"}, nil
	}

	if requireDirect {
		if cfg.DatabaseURLRaw != "" && cfg.DatabaseURLPooled == "" {
			return Target{URL: cfg.DatabaseURLRaw, Source: "DATABASE_URL"}, nil
		}
		return Target{}, fmt.Errorf("DATABASE_URL_DIRECT is required for DDL/migrations when a pooled URL is configured")
	}

	if cfg.DatabaseURLRaw != "" {
		return Target{URL: cfg.DatabaseURLRaw, Source: "DATABASE_URL"}, nil
	}
	if cfg.DatabaseURLPooled != "" {
		return Target{
			URL:     cfg.DatabaseURLPooled,
			Source:  "DATABASE_URL_POOLED",
			Warning: "using pooled connection for DDL is not recommended; set DATABASE_URL_DIRECT",
		}, nil
	}

	return Target{}, fmt.Errorf("no database URL configured (set DATABASE_URL_DIRECT or DATABASE_URL)")
}
