// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

const generationKey = "generation"

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
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY,
		filename TEXT NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		image_file TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_questions_filename ON questions(filename);

	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// ListRecords returns every record ordered by id.
func (s *SQLiteStorage) ListRecords(ctx context.Context) ([]*models.QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, answer, image_file, created_at
		 FROM questions ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.QuestionRecord
	for rows.Next() {
		var rec models.QuestionRecord
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Answer, &rec.ImageFile, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// DeleteByFilename removes every record with the given filename and reports how many went.
func (s *SQLiteStorage) DeleteByFilename(ctx context.Context, filename string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE filename = ?`, filename)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ReplaceAll swaps the table contents for records and stores generation in one
// transaction.
func (s *SQLiteStorage) ReplaceAll(ctx context.Context, generation string, records []*models.QuestionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions`); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO questions (id, filename, answer, image_file, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Filename, rec.Answer, rec.ImageFile, rec.CreatedAt); err != nil {
			return fmt.Errorf("insert record %d: %w", rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		generationKey, generation,
	); err != nil {
		return fmt.Errorf("store generation: %w", err)
	}
	return tx.Commit()
}

// Generation returns the generation written by the last ReplaceAll.
func (s *SQLiteStorage) Generation(ctx context.Context) (string, error) {
	var gen string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM index_meta WHERE key = ?`, generationKey,
	).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return gen, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
