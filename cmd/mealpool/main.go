package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/app"
	"github.com/fdg312/mealpool/internal/catalog"
	"github.com/fdg312/mealpool/internal/config"
	"github.com/fdg312/mealpool/internal/logger"
	"github.com/fdg312/mealpool/internal/mealpool"
	"github.com/fdg312/mealpool/internal/reports"
	"github.com/fdg312/mealpool/internal/storage"
)

const usage = `usage: mealpool <command> [flags]

commands:
  generate          run one generation batch and print the JSON result
  export            write a CSV or PDF export of the pool
  catalog validate  check a catalog document
  catalog publish   store a catalog document as a new version (CATALOG_SOURCE=db)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	// Логи в stderr не мешают JSON в stdout
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: "console", Stderr: true})
	defer log.Sync()
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(ctx, cfg, log, os.Args[2:])
	case "export":
		err = runExport(ctx, cfg, log, os.Args[2:])
	case "catalog":
		err = runCatalog(ctx, cfg, log, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runGenerate(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	country := fs.String("country", "BR", "country code")
	mealType := fs.String("meal", "breakfast", "breakfast|lunch|dinner|snack")
	quantity := fs.Int("n", 5, "number of meals to generate")
	diet := fs.String("diet", "", "dietary filter (vegetarian, vegan, ...)")
	intolerances := fs.String("intolerance", "", "comma separated intolerance tags")
	exclude := fs.String("exclude", "", "comma separated ingredient keys to substitute away")
	never := fs.String("never", "", "comma separated ingredient keys never to generate")
	seed := fs.Int64("seed", 0, "random seed (0: MEALPOOL_SEED or clock)")
	dryRun := fs.Bool("dry-run", false, "do not persist accepted meals")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, loader, closeFn, err := openPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	svc := mealpool.NewService(loader, store, app.MealPoolOptions(cfg), nil, log)
	req := mealpool.GenerateRequest{
		CountryCode:         *country,
		MealType:            *mealType,
		Quantity:            *quantity,
		DietaryFilter:       *diet,
		IntoleranceFilter:   splitList(*intolerances),
		ExcludedIngredients: splitList(*exclude),
		ExclusionList:       splitList(*never),
		DryRun:              *dryRun,
	}
	if *seed != 0 {
		req.Seed = seed
	}

	resp, err := svc.Generate(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func runExport(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	country := fs.String("country", "", "country code filter")
	mealType := fs.String("meal", "", "meal type filter")
	format := fs.String("format", reports.FormatCSV, "csv|pdf")
	limit := fs.Int("limit", 0, "maximum meals (0: default)")
	out := fs.String("out", "", "output file (default stdout)")
	upload := fs.Bool("upload", false, "upload to blob storage and print the download URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, _, err := app.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var blobs app.BlobStores
	if *upload {
		if blobs, err = app.OpenBlobStores(ctx, cfg, log); err != nil {
			return err
		}
	}

	presignTTL := time.Duration(cfg.Blob.S3.PresignTTLSeconds) * time.Second
	svc := reports.NewService(store, blobs.Exports, cfg.MealPool.ExportsPrefix, presignTTL, log)
	req := reports.ExportRequest{CountryCode: *country, MealType: *mealType, Format: *format, Limit: *limit}

	if *upload {
		dto, err := svc.Upload(ctx, req)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(dto)
	}

	exp, err := svc.Build(ctx, req)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = os.Stdout.Write(exp.Data)
		return err
	}
	if err := os.WriteFile(*out, exp.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	log.Info("export written", zap.String("file", *out), zap.Int("meals", exp.MealCount))
	return nil
}

func runCatalog(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("catalog: expected validate or publish")
	}
	sub := args[0]

	fs := flag.NewFlagSet("catalog "+sub, flag.ContinueOnError)
	file := fs.String("file", "", "catalog JSON file (default: embedded catalog)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	body := catalog.Default()
	if *file != "" {
		b, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read %s: %w", *file, err)
		}
		body = b
	}

	switch sub {
	case "validate":
		snap, err := catalog.Load(body)
		if err != nil {
			return err
		}
		fmt.Printf("catalog %s ok: %d ingredients\n", snap.Version, snap.Pool.Len())
		return nil

	case "publish":
		store, kind, err := app.OpenStorage(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		if kind == app.StorageMemory {
			log.Warn("publishing to in-memory storage, the version is lost on exit")
		}

		snap, err := catalog.Publish(ctx, store, body)
		if errors.Is(err, storage.ErrCatalogVersionExists) {
			return fmt.Errorf("version already published, bump \"version\" in the document: %w", err)
		}
		if err != nil {
			return err
		}
		log.Info("catalog published", zap.String("version", snap.Version), zap.String("storage", kind))
		return nil
	}
	return fmt.Errorf("catalog: unknown subcommand %q", sub)
}

// openPipeline opens storage and a catalog loader for the configured source.
func openPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, *catalog.Loader, func(), error) {
	store, _, err := app.OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	var blobs app.BlobStores
	if cfg.Catalog.Source == config.CatalogSourceBlob {
		if blobs, err = app.OpenBlobStores(ctx, cfg, log); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
	}

	src, err := app.CatalogSource(cfg, store, blobs.Catalog)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	// CLI живёт один прогон, кэш не нужен
	return store, app.NewCatalogLoader(cfg, src, nil, log), func() { store.Close() }, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
