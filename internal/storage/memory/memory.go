package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/mealpool/internal/storage"
	"github.com/google/uuid"
)

// MemoryStorage реализует storage.Store в памяти
type MemoryStorage struct {
	mu          sync.RWMutex
	meals       map[string]storage.PooledMeal // key: signature
	order       []string
	catalogs    map[string]storage.CatalogVersion
	lastCatalog string
}

// New создаёт пустой MemoryStorage
func New() *MemoryStorage {
	return &MemoryStorage{
		meals:    make(map[string]storage.PooledMeal),
		catalogs: make(map[string]storage.CatalogVersion),
	}
}

func (m *MemoryStorage) InsertMeal(ctx context.Context, meal storage.PooledMeal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, exists := m.meals[meal.Signature]; exists {
		if merged, changed := storage.MergeCountryCodes(stored.CountryCodes, meal.CountryCodes); changed {
			stored.CountryCodes = merged
			m.meals[meal.Signature] = stored
		}
		return false, nil
	}

	if meal.ID == uuid.Nil {
		meal.ID = uuid.New()
	}
	if meal.CreatedAt.IsZero() {
		meal.CreatedAt = time.Now().UTC()
	}
	meal.CountryCodes = append([]string(nil), meal.CountryCodes...)
	meal.Components = append([]storage.PooledComponent(nil), meal.Components...)
	meal.BlockedFor = append([]string(nil), meal.BlockedFor...)

	m.meals[meal.Signature] = meal
	m.order = append(m.order, meal.Signature)
	return true, nil
}

func (m *MemoryStorage) ListMeals(ctx context.Context, filter storage.MealFilter) ([]storage.PooledMeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []storage.PooledMeal{}
	for i := len(m.order) - 1; i >= 0; i-- {
		meal := m.meals[m.order[i]]
		if !storage.MatchesFilter(meal, filter) {
			continue
		}
		result = append(result, meal)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}

	// Insertion order breaks ties between equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStorage) LatestCatalog(ctx context.Context) (storage.CatalogVersion, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastCatalog == "" {
		return storage.CatalogVersion{}, false, nil
	}
	return m.catalogs[m.lastCatalog], true, nil
}

func (m *MemoryStorage) PublishCatalog(ctx context.Context, version string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.catalogs[version]; exists {
		return storage.ErrCatalogVersionExists
	}
	m.catalogs[version] = storage.CatalogVersion{
		Version:     version,
		Body:        append([]byte(nil), body...),
		PublishedAt: time.Now().UTC(),
	}
	m.lastCatalog = version
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
