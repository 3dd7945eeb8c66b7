package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blocklab/blocklab/internal/session"
	"github.com/blocklab/blocklab/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements store.Store backed by a SQLite database. Records
// are kept as opaque JSON documents so the schema never has to track the
// session shape.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs
// migrations. Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, code string) (*session.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM session_records WHERE code = ?`, code).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	var rec session.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", code, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec *session.Record) error {
	rec.Touch()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_records (code, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		rec.SessionCode, string(data), rec.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("writing session %s: %w", rec.SessionCode, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_records WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", code, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]session.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM session_records ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec session.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
