// Package catalog turns versioned catalog documents into the immutable
// pool and rule set a batch runs against.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/rules"
)

// Document is the published catalog format.
type Document struct {
	Version          string               `json:"version" validate:"required,max=64"`
	Ingredients      []ingredients.Record `json:"ingredients" validate:"required,min=1"`
	Rules            []rules.Record       `json:"rules" validate:"required,min=1"`
	CountryFallbacks map[string]string    `json:"country_fallbacks,omitempty"`
}

// RecordError names the catalog record that failed to load.
type RecordError struct {
	Kind string // ingredient | rule | catalog
	ID   string
	Err  error
}

func (e *RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("catalog %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("catalog %s %q: %v", e.Kind, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Snapshot is the read-only context for one batch. Safe for concurrent readers.
type Snapshot struct {
	Version  string
	Pool     *ingredients.Pool
	Rules    *rules.Set
	LoadedAt time.Time
}

// Parse decodes a catalog document, rejecting unknown fields.
func Parse(body []byte) (Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, &RecordError{Kind: "catalog", Err: fmt.Errorf("invalid json: %w", err)}
	}
	return doc, nil
}

// Build validates every record and indexes the document. Any malformed
// record, a typical beverage missing from the pool, or a fallback cycle
// fails the whole build.
func Build(doc Document) (*Snapshot, error) {
	if err := ingredients.Validator().Struct(doc); err != nil {
		return nil, &RecordError{Kind: "catalog", ID: doc.Version, Err: err}
	}

	items := make([]ingredients.Ingredient, 0, len(doc.Ingredients))
	for _, rec := range doc.Ingredients {
		ing, err := rec.ToIngredient()
		if err != nil {
			return nil, &RecordError{Kind: "ingredient", ID: rec.Key, Err: err}
		}
		items = append(items, ing)
	}
	pool, err := ingredients.NewPool(items)
	if err != nil {
		return nil, &RecordError{Kind: "ingredient", Err: err}
	}

	list := make([]rules.Rule, 0, len(doc.Rules))
	for _, rec := range doc.Rules {
		r, err := rec.ToRule()
		if err != nil {
			return nil, &RecordError{Kind: "rule", ID: rec.ID(), Err: err}
		}
		for _, key := range r.TypicalBeverages {
			if ing, ok := pool.Get(key); !ok || ing.Category != ingredients.CategoryBeverage {
				return nil, &RecordError{Kind: "rule", ID: rec.ID(), Err: fmt.Errorf("typical beverage %q is not a pool beverage", key)}
			}
		}
		list = append(list, r)
	}

	set, err := rules.NewSet(list, doc.CountryFallbacks)
	if err != nil {
		return nil, &RecordError{Kind: "rule", Err: err}
	}
	if err := set.CheckFallbacks(); err != nil {
		return nil, &RecordError{Kind: "rule", Err: err}
	}

	return &Snapshot{
		Version:  doc.Version,
		Pool:     pool,
		Rules:    set,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// Load parses and builds in one step.
func Load(body []byte) (*Snapshot, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

// IsRecordError reports whether err comes from malformed catalog data.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}
