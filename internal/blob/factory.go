package blob

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	appcfg "github.com/fdg312/mealpool/internal/config"
)

// NewBlobStore builds a blob store for mode local|s3|auto.
// Local mode returns a nil Store: catalogs are read from disk and exports are streamed.
func NewBlobStore(ctx context.Context, mode string, s3cfg appcfg.S3Config, log *zap.Logger) (Store, string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("blob")

	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = appcfg.BlobModeLocal
	}

	switch mode {
	case appcfg.BlobModeLocal:
		log.Info("mode=local (forced)")
		return nil, appcfg.BlobModeLocal, nil

	case appcfg.BlobModeAuto:
		if !s3cfg.IsConfigured() {
			level, code, msg := s3cfg.Diagnostics()
			fields := []zap.Field{zap.String("code", code), zap.String("s3", s3cfg.DiagnosticsSummary())}
			if level == "WARN" {
				log.Warn(msg, fields...)
			} else {
				log.Info(msg, fields...)
			}
			log.Info("mode=local (auto, S3 not configured)")
			return nil, appcfg.BlobModeLocal, nil
		}

		log.Info("s3 ready", zap.String("code", "s3_ready"), zap.String("s3", s3cfg.DiagnosticsSummary()))
		store, err := NewS3Store(ctx, s3cfg)
		if err != nil {
			log.Warn("s3 init failed, fallback=local", zap.Error(err))
			return nil, appcfg.BlobModeLocal, nil
		}

		log.Info("mode=s3 (auto, configured)")
		return store, appcfg.BlobModeS3, nil

	case appcfg.BlobModeS3:
		if !s3cfg.IsConfigured() {
			missing := s3cfg.MissingRequired()
			log.Error("s3 config incomplete",
				zap.String("code", "s3_config_incomplete"),
				zap.Strings("missing", missing),
				zap.String("s3", s3cfg.DiagnosticsSummary()))
			return nil, "", fmt.Errorf("BLOB_MODE=s3 requested but missing required config: %s", strings.Join(missing, ", "))
		}

		log.Info("s3 ready", zap.String("code", "s3_ready"), zap.String("s3", s3cfg.DiagnosticsSummary()))
		store, err := NewS3Store(ctx, s3cfg)
		if err != nil {
			log.Error("s3 init failed", zap.Error(err))
			return nil, "", fmt.Errorf("BLOB_MODE=s3 init failed: %w", err)
		}

		log.Info("mode=s3 (forced)")
		return store, appcfg.BlobModeS3, nil

	default:
		return nil, "", fmt.Errorf("unsupported blob mode: %s", mode)
	}
}
