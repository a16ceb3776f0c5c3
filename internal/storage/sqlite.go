package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/asil/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		content_hash TEXT NOT NULL UNIQUE,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT,
		source TEXT,
		preview TEXT,
		raw TEXT,
		structured INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const selectColumns = `id, file_name, content_hash, size_bytes, mime_type, source, preview, raw, structured, model, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	var (
		a         models.Analysis
		mimeType  sql.NullString
		source    sql.NullString
		preview   sql.NullString
		raw       sql.NullString
		modelJSON string
	)
	if err := row.Scan(&a.ID, &a.FileName, &a.ContentHash, &a.SizeBytes, &mimeType, &source,
		&preview, &raw, &a.Structured, &modelJSON, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.MimeType = mimeType.String
	a.Source = source.String
	a.Preview = preview.String
	a.Raw = raw.String
	if err := json.Unmarshal([]byte(modelJSON), &a.Model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model of %s: %w", a.ID, err)
	}
	return &a, nil
}

// CreateAnalysis inserts an analysis. CreatedAt is set when zero.
func (s *SQLiteStorage) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	modelJSON, err := json.Marshal(a.Model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+selectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FileName, a.ContentHash, a.SizeBytes, a.MimeType, a.Source,
		a.Preview, a.Raw, a.Structured, string(modelJSON), a.CreatedAt,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrDuplicate, a.ContentHash)
	}
	return err
}

// GetAnalysis returns an analysis by ID.
func (s *SQLiteStorage) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM analyses WHERE id = ?`, id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a, err
}

// GetAnalysisByHash returns the analysis of the file with the given content hash.
func (s *SQLiteStorage) GetAnalysisByHash(ctx context.Context, hash string) (*models.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM analyses WHERE content_hash = ?`, hash)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return a, err
}

// ListAnalyses returns analyses newest first with offset and limit.
func (s *SQLiteStorage) ListAnalyses(ctx context.Context, offset, limit int) ([]*models.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM analyses ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnalysis removes an analysis by ID.
func (s *SQLiteStorage) DeleteAnalysis(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// CountAnalyses returns the total number of analyses.
func (s *SQLiteStorage) CountAnalyses(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&count)
	return count, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
