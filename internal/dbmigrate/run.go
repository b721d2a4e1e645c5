package dbmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Commands accepted by Run.
const (
	CommandUp     = "up"
	CommandStatus = "status"
	CommandDown   = "down"
)

// Run executes command against the Postgres database at dbURL using the
// goose migrations at the root of fsys.
func Run(ctx context.Context, command, dbURL string, fsys fs.FS, log *zap.Logger) error {
	if dbURL == "" {
		return fmt.Errorf("database URL is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}

	switch command {
	case CommandUp:
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("goose up failed: %w", err)
		}
		for _, r := range results {
			log.Info("migration applied",
				zap.Int64("version", r.Source.Version),
				zap.String("path", r.Source.Path),
				zap.Duration("duration", r.Duration),
			)
		}
		if len(results) == 0 {
			log.Info("no pending migrations")
		}

	case CommandDown:
		r, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("goose down failed: %w", err)
		}
		log.Info("migration rolled back",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
		)

	case CommandStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("goose status failed: %w", err)
		}
		for _, st := range statuses {
			fields := []zap.Field{
				zap.Int64("version", st.Source.Version),
				zap.String("path", st.Source.Path),
				zap.String("state", string(st.State)),
			}
			if !st.AppliedAt.IsZero() {
				fields = append(fields, zap.Time("applied_at", st.AppliedAt))
			}
			log.Info("migration", fields...)
		}

	default:
		return fmt.Errorf("unsupported command %q (allowed: up, status, down)", command)
	}

	return nil
}
