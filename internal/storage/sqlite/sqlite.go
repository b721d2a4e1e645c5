package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/fdg312/mealpool/internal/dbmigrate"
	"github.com/fdg312/mealpool/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStorage is a single-file storage.Store for local runs and the CLI.
type SQLiteStorage struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies migrations.
// ":memory:" gives a private in-memory database.
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := dbmigrate.Up(ctx, db, goose.DialectSQLite3, fsys); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) InsertMeal(ctx context.Context, meal storage.PooledMeal) (bool, error) {
	query := `
		INSERT INTO meal_pool (
			id, signature, name, meal_type, country_codes, components,
			total_calories, total_protein, total_carbs, total_fat, total_fiber,
			blocked_for_intolerances, confidence, catalog_version, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (signature) DO NOTHING
	`

	if meal.ID == uuid.Nil {
		meal.ID = uuid.New()
	}
	if meal.CreatedAt.IsZero() {
		meal.CreatedAt = time.Now().UTC()
	}

	countries, err := json.Marshal(nonNil(meal.CountryCodes))
	if err != nil {
		return false, err
	}
	components, err := json.Marshal(meal.Components)
	if err != nil {
		return false, fmt.Errorf("failed to encode components: %w", err)
	}
	blocked, err := json.Marshal(nonNil(meal.BlockedFor))
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query,
		meal.ID.String(),
		meal.Signature,
		meal.Name,
		meal.MealType,
		string(countries),
		string(components),
		meal.TotalCalories,
		meal.TotalProtein,
		meal.TotalCarbs,
		meal.TotalFat,
		meal.TotalFiber,
		string(blocked),
		meal.Confidence,
		meal.CatalogVersion,
		meal.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert meal: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if err := mergeCountries(ctx, tx, meal.Signature, meal.CountryCodes); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit insert: %w", err)
	}
	return n == 1, nil
}

// mergeCountries дописывает новые страны к блюду с той же signature
func mergeCountries(ctx context.Context, tx *sql.Tx, signature string, add []string) error {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT country_codes FROM meal_pool WHERE signature = ?`, signature).Scan(&raw)
	if err != nil {
		return fmt.Errorf("failed to read meal countries: %w", err)
	}
	var existing []string
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return fmt.Errorf("failed to decode meal countries: %w", err)
	}

	merged, changed := storage.MergeCountryCodes(existing, add)
	if !changed {
		return nil
	}
	body, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE meal_pool SET country_codes = ? WHERE signature = ?`, string(body), signature); err != nil {
		return fmt.Errorf("failed to update meal countries: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListMeals(ctx context.Context, filter storage.MealFilter) ([]storage.PooledMeal, error) {
	query := `
		SELECT id, signature, name, meal_type, country_codes, components,
		       total_calories, total_protein, total_carbs, total_fat, total_fiber,
		       blocked_for_intolerances, confidence, catalog_version, created_at
		FROM meal_pool
		WHERE (?1 = '' OR EXISTS (SELECT 1 FROM json_each(meal_pool.country_codes) WHERE json_each.value = ?1))
		  AND (?2 = '' OR meal_type = ?2)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?3
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, filter.CountryCode, filter.MealType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}
	defer rows.Close()

	meals := []storage.PooledMeal{}
	for rows.Next() {
		var (
			meal                                     storage.PooledMeal
			id, countries, components, blocked, when string
		)
		err := rows.Scan(
			&id,
			&meal.Signature,
			&meal.Name,
			&meal.MealType,
			&countries,
			&components,
			&meal.TotalCalories,
			&meal.TotalProtein,
			&meal.TotalCarbs,
			&meal.TotalFat,
			&meal.TotalFiber,
			&blocked,
			&meal.Confidence,
			&meal.CatalogVersion,
			&when,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}

		if meal.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad meal id %q: %w", id, err)
		}
		if meal.CreatedAt, err = time.Parse(timeLayout, when); err != nil {
			return nil, fmt.Errorf("bad created_at for %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(countries), &meal.CountryCodes); err != nil {
			return nil, fmt.Errorf("failed to decode country codes of %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(components), &meal.Components); err != nil {
			return nil, fmt.Errorf("failed to decode components of %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(blocked), &meal.BlockedFor); err != nil {
			return nil, fmt.Errorf("failed to decode blocked tags of %s: %w", id, err)
		}
		meals = append(meals, meal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meals: %w", err)
	}

	return meals, nil
}

func (s *SQLiteStorage) LatestCatalog(ctx context.Context) (storage.CatalogVersion, bool, error) {
	query := `
		SELECT version, body, published_at
		FROM catalog_versions
		ORDER BY published_at DESC, rowid DESC
		LIMIT 1
	`

	var (
		cv   storage.CatalogVersion
		when string
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&cv.Version, &cv.Body, &when)
	if err == sql.ErrNoRows {
		return storage.CatalogVersion{}, false, nil
	}
	if err != nil {
		return storage.CatalogVersion{}, false, fmt.Errorf("failed to get latest catalog: %w", err)
	}
	if cv.PublishedAt, err = time.Parse(timeLayout, when); err != nil {
		return storage.CatalogVersion{}, false, fmt.Errorf("bad published_at for %s: %w", cv.Version, err)
	}

	return cv, true, nil
}

func (s *SQLiteStorage) PublishCatalog(ctx context.Context, version string, body []byte) error {
	query := `
		INSERT INTO catalog_versions (version, body, published_at)
		VALUES (?, ?, ?)
		ON CONFLICT (version) DO NOTHING
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, version, body, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to publish catalog: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrCatalogVersionExists
	}

	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
