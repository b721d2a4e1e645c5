package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/config"
	"github.com/fdg312/mealpool/internal/dbmigrate"
	"github.com/fdg312/mealpool/internal/logger"
	"github.com/fdg312/mealpool/migrations"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/migrate [up|status|down]")
		os.Exit(2)
	}

	command := os.Args[1]
	switch command {
	case dbmigrate.CommandUp, dbmigrate.CommandStatus, dbmigrate.CommandDown:
	default:
		fmt.Fprintf(os.Stderr, "unsupported command %q (allowed: up, status, down)\n", command)
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}).Named("migrate")
	defer log.Sync()

	target, err := dbmigrate.SelectDatabaseURL(cfg, false)
	if err != nil {
		log.Fatal("no database", zap.Error(err))
	}
	if target.Warning != "" {
		log.Warn(target.Warning)
	}
	log.Info("running", zap.String("command", command), zap.String("using", target.Source))

	if err := dbmigrate.Run(context.Background(), command, target.URL, migrations.FS, log); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	log.Info("completed", zap.String("command", command))
}
