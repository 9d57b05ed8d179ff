// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mcp-meal-vision/internal/failure"
	"mcp-meal-vision/internal/models"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

var errClosed = errors.New("storage is closed")

// timeLayout has fixed-width fractional seconds so stored timestamps sort
// lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const DefaultQueryLimit = 50

// Permissions reported when the database refuses access.
const (
	PermissionReadMeals  = "read:meals"
	PermissionWriteMeals = "write:meals"
)

type SQLiteStorage struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}
	// Every pooled connection waits on locks instead of failing at once.
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	connStr += sep + "_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", mapError(err, PermissionReadMeals))
	}

	storage := &SQLiteStorage{db: db, now: time.Now}
	if err := storage.initSchema(dbPath != ":memory:"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema(wal bool) error {
	if wal {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	schema := `
    CREATE TABLE IF NOT EXISTS meals (
        id TEXT PRIMARY KEY,
        calories INTEGER NOT NULL,
        protein REAL NOT NULL,
        carbs REAL NOT NULL,
        fat REAL NOT NULL,
        description TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        photo_ref TEXT NOT NULL DEFAULT '',
        job_id TEXT NOT NULL DEFAULT '',
        source TEXT NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS analysis_jobs (
        id TEXT PRIMARY KEY,
        photo_ref TEXT NOT NULL,
        captured_at TEXT NOT NULL,
        state TEXT NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        error_kind TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL DEFAULT '',
        record_id TEXT NOT NULL DEFAULT '',
        updated_at TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_meals_timestamp ON meals(timestamp);
    CREATE INDEX IF NOT EXISTS idx_meals_job_id ON meals(job_id);
    CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON analysis_jobs(updated_at);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Insert persists one analyzed meal in a single statement and returns its
// record id.
func (s *SQLiteStorage) Insert(ctx context.Context, in models.MealInput) (string, error) {
	if s.closed.Load() {
		return "", &failure.StoreUnavailable{Err: errClosed}
	}
	if in.Nutrition.IsZero() {
		return "", &models.ValidationError{Field: "nutrition", Reason: "is empty"}
	}

	source := in.Source
	if source == "" {
		source = models.SourceAIPhoto
	}
	timestamp := in.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now()
	}

	id := uuid.NewString()
	now := formatTime(s.now())
	n := in.Nutrition

	query := `
        INSERT INTO meals (id, calories, protein, carbs, fat, description, timestamp, photo_ref, job_id, source, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		id, n.Calories(), n.Protein(), n.Carbs(), n.Fat(), n.Description(),
		formatTime(timestamp), in.PhotoRef, in.JobID, source, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert meal: %w", mapError(err, PermissionWriteMeals))
	}

	return id, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, id string) (*models.Meal, error) {
	if s.closed.Load() {
		return nil, &failure.StoreUnavailable{Err: errClosed}
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT id, calories, protein, carbs, fat, description, timestamp, photo_ref, job_id, source, created_at, updated_at
        FROM meals
        WHERE id = ?
    `, id)

	meal, err := scanMeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meal: %w", mapError(err, PermissionReadMeals))
	}
	return meal, nil
}

// Query returns meals with from <= timestamp < to, newest first. A zero bound
// is open.
func (s *SQLiteStorage) Query(ctx context.Context, from, to time.Time, limit int) ([]*models.Meal, error) {
	if s.closed.Load() {
		return nil, &failure.StoreUnavailable{Err: errClosed}
	}

	query := `
        SELECT id, calories, protein, carbs, fat, description, timestamp, photo_ref, job_id, source, created_at, updated_at
        FROM meals
        WHERE 1=1
    `
	args := []interface{}{}

	if !from.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, formatTime(to))
	}

	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", mapError(err, PermissionReadMeals))
	}
	defer rows.Close()

	var meals []*models.Meal
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", mapError(err, PermissionReadMeals))
	}

	return meals, nil
}

// Update rewrites the nutrition values and timestamp of an existing meal.
func (s *SQLiteStorage) Update(ctx context.Context, meal models.Meal) error {
	if s.closed.Load() {
		return &failure.StoreUnavailable{Err: errClosed}
	}
	n, err := meal.Nutrition()
	if err != nil {
		return err
	}

	query := `
        UPDATE meals
        SET calories = ?, protein = ?, carbs = ?, fat = ?, description = ?, updated_at = ?
    `
	args := []interface{}{n.Calories(), n.Protein(), n.Carbs(), n.Fat(), n.Description(), formatTime(s.now())}
	if !meal.Timestamp.IsZero() {
		query += ", timestamp = ?"
		args = append(args, formatTime(meal.Timestamp))
	}
	query += " WHERE id = ?"
	args = append(args, meal.ID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update meal: %w", mapError(err, PermissionWriteMeals))
	}
	return requireAffected(res)
}

func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return &failure.StoreUnavailable{Err: errClosed}
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM meals WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete meal: %w", mapError(err, PermissionWriteMeals))
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMeal(row scanner) (*models.Meal, error) {
	meal := &models.Meal{}
	var timestampStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&meal.ID, &meal.Calories, &meal.Protein, &meal.Carbs, &meal.Fat, &meal.Description,
		&timestampStr, &meal.PhotoRef, &meal.JobID, &meal.Source, &createdAtStr, &updatedAtStr)
	if err != nil {
		return nil, err
	}

	if meal.Timestamp, err = parseTime(timestampStr); err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	if meal.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if meal.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return meal, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}
