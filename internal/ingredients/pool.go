package ingredients

import (
	"fmt"
	"sort"
)

// Pool is the read-only ingredient store a batch works against. It is built
// once and never mutated, so concurrent readers need no locking.
type Pool struct {
	byKey      map[string]Ingredient
	byCategory map[Category][]Ingredient
	// substitutes indexes the replaces relation in reverse: original key to
	// the ingredients that may stand in for it.
	substitutes map[string][]Ingredient
	keys        []string
}

// NewPool indexes already-validated ingredients. Duplicate keys and replaces
// links to unknown keys are rejected.
func NewPool(items []Ingredient) (*Pool, error) {
	p := &Pool{
		byKey:       make(map[string]Ingredient, len(items)),
		byCategory:  make(map[Category][]Ingredient),
		substitutes: make(map[string][]Ingredient),
		keys:        make([]string, 0, len(items)),
	}

	for _, ing := range items {
		if _, dup := p.byKey[ing.Key]; dup {
			return nil, fmt.Errorf("duplicate ingredient key %q", ing.Key)
		}
		p.byKey[ing.Key] = ing
		p.keys = append(p.keys, ing.Key)
	}
	sort.Strings(p.keys)

	for _, key := range p.keys {
		ing := p.byKey[key]
		p.byCategory[ing.Category] = append(p.byCategory[ing.Category], ing)
		for _, original := range ing.Replaces {
			if _, ok := p.byKey[original]; !ok {
				return nil, fmt.Errorf("ingredient %q replaces unknown key %q", ing.Key, original)
			}
			p.substitutes[original] = append(p.substitutes[original], ing)
		}
	}

	return p, nil
}

// LoadPool validates raw records and builds a pool. The first malformed
// record aborts the load.
func LoadPool(records []Record) (*Pool, error) {
	items := make([]Ingredient, 0, len(records))
	for i, rec := range records {
		ing, err := rec.ToIngredient()
		if err != nil {
			return nil, fmt.Errorf("ingredient[%d] %q: %w", i, rec.Key, err)
		}
		items = append(items, ing)
	}
	return NewPool(items)
}

// Get returns the ingredient with the given key.
func (p *Pool) Get(key string) (Ingredient, bool) {
	ing, ok := p.byKey[key]
	return ing, ok
}

// ByCategory returns the ingredients of a category ordered by key.
func (p *Pool) ByCategory(c Category) []Ingredient {
	return p.byCategory[c]
}

// SubstitutesFor returns the ingredients whose replaces set contains key,
// ordered by key.
func (p *Pool) SubstitutesFor(key string) []Ingredient {
	return p.substitutes[key]
}

// Keys returns every ingredient key in ascending order.
func (p *Pool) Keys() []string {
	return p.keys
}

func (p *Pool) Len() int {
	return len(p.byKey)
}
