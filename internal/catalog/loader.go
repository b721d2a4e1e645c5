package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cache keeps raw catalog documents between batches.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Loader builds a fresh Snapshot per batch from its source. Cache failures
// are logged and bypassed.
type Loader struct {
	source Source
	cache  Cache
	ttl    time.Duration
	log    *zap.Logger
}

// NewLoader creates a loader; cache may be nil.
func NewLoader(source Source, cache Cache, ttl time.Duration, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{source: source, cache: cache, ttl: ttl, log: log.Named("catalog")}
}

// SourceName identifies where documents come from.
func (l *Loader) SourceName() string {
	return l.source.Name()
}

// Snapshot fetches, validates and indexes the current catalog. Only
// documents that build cleanly are cached.
func (l *Loader) Snapshot(ctx context.Context) (*Snapshot, error) {
	key := "catalog:" + l.source.Name()

	if body, ok := l.cached(ctx, key); ok {
		snap, err := Load(body)
		if err == nil {
			return snap, nil
		}
		l.log.Warn("cached catalog is invalid, refetching", zap.String("key", key), zap.Error(err))
	}

	body, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog from %s: %w", l.source.Name(), err)
	}
	snap, err := Load(body)
	if err != nil {
		return nil, fmt.Errorf("load catalog from %s: %w", l.source.Name(), err)
	}

	if l.cache != nil && l.ttl > 0 {
		if err := l.cache.Set(ctx, key, body, l.ttl); err != nil {
			l.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return snap, nil
}

func (l *Loader) cached(ctx context.Context, key string) ([]byte, bool) {
	if l.cache == nil || l.ttl <= 0 {
		return nil, false
	}
	body, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return body, ok
}
