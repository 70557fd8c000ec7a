//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gatesmith/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) LoadRecords(ctx context.Context) (LoadReport, error) {
	db, err := s.getDB()
	if err != nil {
		return LoadReport{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM circuits ORDER BY id`)
	if err != nil {
		return LoadReport{}, err
	}
	defer rows.Close()

	var report LoadReport
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return LoadReport{}, err
		}
		record, err := DecodeRecord(payload)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRecord{Key: id, Err: fmt.Errorf("decode circuit %s: %w", id, err)})
			continue
		}
		if record.ID != id {
			report.Skipped = append(report.Skipped, SkippedRecord{Key: id, Err: fmt.Errorf("%w: row holds record %q", ErrInvalidRecord, record.ID)})
			continue
		}
		report.Records = append(report.Records, record)
	}
	if err := rows.Err(); err != nil {
		return LoadReport{}, err
	}
	return report, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, record model.CircuitRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO circuits (id, goal_name, fitness, generation, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal_name = excluded.goal_name,
			fitness = excluded.fitness,
			generation = excluded.generation,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.ID, record.GoalName, record.Fitness, record.Generation, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

// WriteIndex is a no-op: the circuits table is the index.
func (s *SQLiteStore) WriteIndex(_ context.Context, _ []model.CircuitRecord) error {
	return nil
}

func (s *SQLiteStore) SizeBytes(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, err
	}
	if err := db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS circuits (
			id TEXT PRIMARY KEY,
			goal_name TEXT NOT NULL,
			fitness INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS circuits_goal_name ON circuits (goal_name COLLATE NOCASE);
	`)
	return err
}
