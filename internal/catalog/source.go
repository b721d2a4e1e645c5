package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/fdg312/mealpool/internal/storage"
)

//go:embed default.json
var defaultCatalog []byte

// Source fetches the raw catalog document.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// ObjectGetter is the slice of blob.Store the blob source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Default returns the catalog compiled into the binary.
func Default() []byte {
	return append([]byte(nil), defaultCatalog...)
}

type embeddedSource struct{}

// Embedded serves the compiled-in default catalog.
func Embedded() Source { return embeddedSource{} }

func (embeddedSource) Name() string { return "embedded" }

func (embeddedSource) Fetch(ctx context.Context) ([]byte, error) {
	return Default(), nil
}

type fileSource struct {
	path string
}

// File reads the catalog from a local JSON file on every fetch.
func File(path string) Source { return fileSource{path: path} }

func (s fileSource) Name() string { return "file:" + s.path }

func (s fileSource) Fetch(ctx context.Context) ([]byte, error) {
	body, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return body, nil
}

type blobSource struct {
	store ObjectGetter
	key   string
}

// Blob reads the catalog from object storage.
func Blob(store ObjectGetter, key string) Source { return blobSource{store: store, key: key} }

func (s blobSource) Name() string { return "blob:" + s.key }

func (s blobSource) Fetch(ctx context.Context) ([]byte, error) {
	body, err := s.store.GetObject(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog object: %w", err)
	}
	return body, nil
}

type dbSource struct {
	store storage.CatalogStorage
}

// DB reads the most recently published catalog version. An empty table
// falls back to the embedded catalog.
func DB(store storage.CatalogStorage) Source { return dbSource{store: store} }

func (dbSource) Name() string { return "db" }

func (s dbSource) Fetch(ctx context.Context) ([]byte, error) {
	cv, ok, err := s.store.LatestCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Default(), nil
	}
	return cv.Body, nil
}

// Publish validates body and stores it as a new catalog version.
func Publish(ctx context.Context, store storage.CatalogStorage, body []byte) (*Snapshot, error) {
	snap, err := Load(body)
	if err != nil {
		return nil, err
	}
	if err := store.PublishCatalog(ctx, snap.Version, body); err != nil {
		return nil, fmt.Errorf("publish catalog %s: %w", snap.Version, err)
	}
	return snap, nil
}
