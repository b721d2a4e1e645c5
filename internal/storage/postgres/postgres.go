package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fdg312/mealpool/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStorage реализует storage.Store на Postgres
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// New создаёт PostgresStorage и проверяет соединение
func New(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStorage{pool: pool}, nil
}

func (p *PostgresStorage) InsertMeal(ctx context.Context, meal storage.PooledMeal) (bool, error) {
	query := `
		INSERT INTO meal_pool (
			id, signature, name, meal_type, country_codes, components,
			total_calories, total_protein, total_carbs, total_fat, total_fiber,
			blocked_for_intolerances, confidence, catalog_version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (signature) DO UPDATE
			SET country_codes = meal_pool.country_codes || ARRAY(
				SELECT c FROM unnest(EXCLUDED.country_codes) AS c
				WHERE c <> ALL (meal_pool.country_codes)
			)
			WHERE NOT meal_pool.country_codes @> EXCLUDED.country_codes
		RETURNING (xmax = 0)
	`

	if meal.ID == uuid.Nil {
		meal.ID = uuid.New()
	}
	if meal.CreatedAt.IsZero() {
		meal.CreatedAt = time.Now().UTC()
	}

	components, err := json.Marshal(meal.Components)
	if err != nil {
		return false, fmt.Errorf("failed to encode components: %w", err)
	}

	// xmax = 0 только у новой строки; дубликат без новых стран не возвращает строк
	var inserted bool
	err = p.pool.QueryRow(ctx, query,
		meal.ID,
		meal.Signature,
		meal.Name,
		meal.MealType,
		nonNil(meal.CountryCodes),
		components,
		meal.TotalCalories,
		meal.TotalProtein,
		meal.TotalCarbs,
		meal.TotalFat,
		meal.TotalFiber,
		nonNil(meal.BlockedFor),
		meal.Confidence,
		meal.CatalogVersion,
		meal.CreatedAt,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		// ON CONFLICT covers signature; a racing id collision still counts as duplicate
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert meal: %w", err)
	}

	return inserted, nil
}

func (p *PostgresStorage) ListMeals(ctx context.Context, filter storage.MealFilter) ([]storage.PooledMeal, error) {
	query := `
		SELECT id, signature, name, meal_type, country_codes, components,
		       total_calories, total_protein, total_carbs, total_fat, total_fiber,
		       blocked_for_intolerances, confidence, catalog_version, created_at
		FROM meal_pool
		WHERE ($1 = '' OR $1 = ANY(country_codes))
		  AND ($2 = '' OR meal_type = $2)
		ORDER BY created_at DESC, id
		LIMIT $3
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := p.pool.Query(ctx, query, filter.CountryCode, filter.MealType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}
	defer rows.Close()

	meals := []storage.PooledMeal{}
	for rows.Next() {
		var (
			meal       storage.PooledMeal
			components []byte
		)
		err := rows.Scan(
			&meal.ID,
			&meal.Signature,
			&meal.Name,
			&meal.MealType,
			&meal.CountryCodes,
			&components,
			&meal.TotalCalories,
			&meal.TotalProtein,
			&meal.TotalCarbs,
			&meal.TotalFat,
			&meal.TotalFiber,
			&meal.BlockedFor,
			&meal.Confidence,
			&meal.CatalogVersion,
			&meal.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		if err := json.Unmarshal(components, &meal.Components); err != nil {
			return nil, fmt.Errorf("failed to decode components of %s: %w", meal.ID, err)
		}
		meals = append(meals, meal)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating meals: %w", rows.Err())
	}

	return meals, nil
}

func (p *PostgresStorage) LatestCatalog(ctx context.Context) (storage.CatalogVersion, bool, error) {
	query := `
		SELECT version, body, published_at
		FROM catalog_versions
		ORDER BY published_at DESC
		LIMIT 1
	`

	var cv storage.CatalogVersion
	err := p.pool.QueryRow(ctx, query).Scan(&cv.Version, &cv.Body, &cv.PublishedAt)
	if err == pgx.ErrNoRows {
		return storage.CatalogVersion{}, false, nil
	}
	if err != nil {
		return storage.CatalogVersion{}, false, fmt.Errorf("failed to get latest catalog: %w", err)
	}

	return cv, true, nil
}

func (p *PostgresStorage) PublishCatalog(ctx context.Context, version string, body []byte) error {
	query := `
		INSERT INTO catalog_versions (version, body, published_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (version) DO NOTHING
	`

	// xmax = 0 только у новой строки; дубликат без новых стран не возвращает строк
	tag, err := p.pool.Exec(ctx, query, version, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to publish catalog: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrCatalogVersionExists
	}

	return nil
}

// Close закрывает пул соединений
func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
