package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fdg312/mealpool/internal/ingredients"
	"github.com/fdg312/mealpool/internal/rules"
	"github.com/fdg312/mealpool/internal/storage"
	"github.com/fdg312/mealpool/internal/storage/memory"
)

func defaultDoc(t *testing.T) Document {
	t.Helper()
	doc, err := Parse(Default())
	require.NoError(t, err)
	return doc
}

func encode(t *testing.T, doc Document) []byte {
	t.Helper()
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return body
}

func TestDefaultCatalogBuilds(t *testing.T) {
	snap, err := Load(Default())
	require.NoError(t, err)

	assert.NotEmpty(t, snap.Version)
	assert.Greater(t, snap.Pool.Len(), 30)

	milk, ok := snap.Pool.Get("whole_milk")
	require.True(t, ok)
	assert.True(t, milk.Triggers.Has(ingredients.TagLactose))
	subs := snap.Pool.SubstitutesFor("whole_milk")
	require.Len(t, subs, 1)
	assert.Equal(t, "lactose_free_milk", subs[0].Key)
	assert.Empty(t, snap.Pool.SubstitutesFor("minas_cheese"))

	rule, err := snap.Rules.Resolve("br", rules.Breakfast)
	require.NoError(t, err)
	assert.Equal(t, []ingredients.Category{ingredients.CategoryCarb, ingredients.CategoryBeverage}, rule.Required)
	assert.True(t, rule.Forbids(ingredients.CategoryVegetable))
}

func TestDefaultCatalogFallbacks(t *testing.T) {
	snap, err := Load(Default())
	require.NoError(t, err)

	tests := []struct {
		country string
		mt      rules.MealType
		want    string
	}{
		{"PT", rules.Breakfast, "PT"},
		{"PT", rules.Lunch, "BR"},
		{"MX", rules.Dinner, "US"},
		{"JP", rules.Snack, rules.GlobalCountry},
	}
	for _, tt := range tests {
		rule, err := snap.Rules.Resolve(tt.country, tt.mt)
		require.NoError(t, err, tt.country)
		assert.Equal(t, tt.want, rule.CountryCode, tt.country)
	}
}

func TestBuildNamesMalformedRecord(t *testing.T) {
	doc := defaultDoc(t)
	neg := -5.0
	doc.Ingredients[3].KcalPer100 = &neg
	key := doc.Ingredients[3].Key

	_, err := Build(doc)
	require.Error(t, err)

	var re *RecordError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "ingredient", re.Kind)
	assert.Equal(t, key, re.ID)
	assert.Contains(t, err.Error(), key)
	assert.True(t, IsRecordError(err))
}

func TestBuildRejectsRuleErrors(t *testing.T) {
	t.Run("required and forbidden overlap", func(t *testing.T) {
		doc := defaultDoc(t)
		doc.Rules[0].ForbiddenComponents = append(doc.Rules[0].ForbiddenComponents, doc.Rules[0].RequiredComponents[0])

		_, err := Build(doc)
		var re *RecordError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "rule", re.Kind)
		assert.Equal(t, doc.Rules[0].ID(), re.ID)
	})

	t.Run("typical beverage missing from pool", func(t *testing.T) {
		doc := defaultDoc(t)
		doc.Rules[0].TypicalBeverages = []string{"mate"}

		_, err := Build(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"mate"`)
	})

	t.Run("fallback cycle", func(t *testing.T) {
		doc := defaultDoc(t)
		doc.CountryFallbacks = map[string]string{"AA": "BB", "BB": "AA"}

		_, err := Build(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fallback cycle")
	})

	t.Run("missing version", func(t *testing.T) {
		doc := defaultDoc(t)
		doc.Version = ""

		_, err := Build(doc)
		assert.Error(t, err)
	})
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"version":"v1","ingredients":[],"rules":[],"extra":true}`))
	require.Error(t, err)
	assert.True(t, IsRecordError(err))
}

type fakeCache struct {
	data   map[string][]byte
	gets   int
	sets   int
	getErr error
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets++
	c.data[key] = value
	return nil
}

type countingSource struct {
	body  []byte
	calls int
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls++
	return s.body, nil
}

func TestLoaderUsesCache(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{body: Default()}
	cache := &fakeCache{data: map[string][]byte{}}
	l := NewLoader(src, cache, time.Minute, zap.NewNop())

	first, err := l.Snapshot(ctx)
	require.NoError(t, err)
	second, err := l.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, first.Version, second.Version)
	assert.NotSame(t, first.Pool, second.Pool)
}

func TestLoaderBypassesBrokenCache(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{body: Default()}

	broken := &fakeCache{data: map[string][]byte{}, getErr: errors.New("connection refused")}
	_, err := NewLoader(src, broken, time.Minute, nil).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	stale := &fakeCache{data: map[string][]byte{"catalog:counting": []byte(`{"version":`)}}
	_, err = NewLoader(src, stale, time.Minute, nil).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestLoaderDoesNotCacheInvalidDocuments(t *testing.T) {
	src := &countingSource{body: []byte(`{"version":"broken"}`)}
	cache := &fakeCache{data: map[string][]byte{}}

	_, err := NewLoader(src, cache, time.Minute, nil).Snapshot(context.Background())
	require.Error(t, err)
	assert.Zero(t, cache.sets)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, Default(), 0o600))

	snap, err := NewLoader(File(path), nil, 0, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Greater(t, snap.Pool.Len(), 0)

	_, err = File(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background())
	assert.Error(t, err)
}

type objects map[string][]byte

func (o objects) GetObject(ctx context.Context, key string) ([]byte, error) {
	body, ok := o[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return body, nil
}

func TestBlobSource(t *testing.T) {
	src := Blob(objects{"catalog/current.json": Default()}, "catalog/current.json")
	snap, err := NewLoader(src, nil, 0, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Version)

	_, err = Blob(objects{}, "catalog/current.json").Fetch(context.Background())
	assert.Error(t, err)
}

func TestDBSourceAndPublish(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := DB(store)

	body, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, Default(), body)

	doc := defaultDoc(t)
	doc.Version = "2026.11.0"
	doc.Rules = doc.Rules[:len(doc.Rules)-1]

	snap, err := Publish(ctx, store, encode(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "2026.11.0", snap.Version)

	loaded, err := NewLoader(src, nil, 0, nil).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026.11.0", loaded.Version)

	_, err = Publish(ctx, store, encode(t, doc))
	assert.ErrorIs(t, err, storage.ErrCatalogVersionExists)

	_, err = Publish(ctx, store, []byte(`{}`))
	assert.True(t, IsRecordError(err))
}
