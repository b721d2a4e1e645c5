package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrCatalogVersionExists возвращается при повторной публикации той же версии каталога
var ErrCatalogVersionExists = errors.New("catalog version already published")

// PooledComponent описывает компонент сохранённого блюда
type PooledComponent struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	PortionLabel  string `json:"portion_label"`
	IngredientKey string `json:"ingredient_key"`
}

// PooledMeal хранит принятое блюдо общего пула. Signature уникальна.
type PooledMeal struct {
	ID             uuid.UUID
	Signature      string
	Name           string
	MealType       string
	CountryCodes   []string
	Components     []PooledComponent
	TotalCalories  int
	TotalProtein   float64
	TotalCarbs     float64
	TotalFat       float64
	TotalFiber     float64
	BlockedFor     []string
	Confidence     float64
	CatalogVersion string
	CreatedAt      time.Time
}

// MealFilter narrows ListMeals. Empty fields match everything.
type MealFilter struct {
	CountryCode string
	MealType    string
	Limit       int
}

// MealPoolStorage: insert-only хранилище пула блюд
type MealPoolStorage interface {
	// InsertMeal сохраняет блюдо. Дубликат по signature не ошибка: возвращает
	// false, а новые country_codes дописываются к уже сохранённому блюду
	InsertMeal(ctx context.Context, meal PooledMeal) (bool, error)

	// ListMeals returns meals newest first
	ListMeals(ctx context.Context, filter MealFilter) ([]PooledMeal, error)
}

// CatalogVersion is one published catalog document.
type CatalogVersion struct {
	Version     string
	Body        []byte
	PublishedAt time.Time
}

// CatalogStorage keeps published catalog documents. Versions are immutable.
type CatalogStorage interface {
	// LatestCatalog returns the most recently published version
	LatestCatalog(ctx context.Context) (CatalogVersion, bool, error)
	// PublishCatalog stores a new version, ErrCatalogVersionExists if taken
	PublishCatalog(ctx context.Context, version string, body []byte) error
}

// Store объединяет все хранилища сервиса
type Store interface {
	MealPoolStorage
	CatalogStorage

	// Close закрывает соединение (для Postgres/SQLite)
	Close() error
}

// MergeCountryCodes appends the codes of add missing from existing. The
// result keeps existing first; changed is false when nothing was added.
func MergeCountryCodes(existing, add []string) (merged []string, changed bool) {
	merged = append([]string(nil), existing...)
	for _, c := range add {
		if !slices.Contains(merged, c) {
			merged = append(merged, c)
			changed = true
		}
	}
	return merged, changed
}

// MatchesFilter reports whether meal passes f, ignoring Limit.
func MatchesFilter(meal PooledMeal, f MealFilter) bool {
	if f.MealType != "" && meal.MealType != f.MealType {
		return false
	}
	if f.CountryCode == "" {
		return true
	}
	for _, c := range meal.CountryCodes {
		if c == f.CountryCode {
			return true
		}
	}
	return false
}
