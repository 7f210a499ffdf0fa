// Package sqlite provides a SQLite-backed memo store using the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"memoctx/internal/entitymodel/sqlbundle"
	"memoctx/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "memoctx.db"

// Store keeps one row per memo in the memo table.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating when needed) the SQLite file at path and applies the memo DDL.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)
	stmts, err := sqlbundle.Statements(sqlbundle.DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Get loads the row for id.
func (s *Store) Get(ctx context.Context, id int64) (domain.Memo, bool, error) {
	var m domain.Memo
	err := s.db.QueryRowContext(ctx, `SELECT id, username, contents FROM memo WHERE id = ?`, id).
		Scan(&m.ID, &m.Username, &m.Contents)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Memo{}, false, nil
	}
	if err != nil {
		return domain.Memo{}, false, fmt.Errorf("select memo %d: %w", id, err)
	}
	return m, true, nil
}

// Put upserts the row for id.
func (s *Store) Put(ctx context.Context, id int64, memo domain.Memo) error {
	memo.ID = id
	return s.PutAll(ctx, []domain.Memo{memo})
}

// PutAll upserts every memo inside one SQL transaction.
func (s *Store) PutAll(ctx context.Context, memos []domain.Memo) (retErr error) {
	for _, m := range memos {
		if !m.HasID() {
			return domain.IdentifierMissingError{Op: "put", Entity: domain.EntityMemo}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, m := range memos {
		if _, err := tx.ExecContext(ctx, `INSERT INTO memo(id, username, contents) VALUES(?,?,?)
			ON CONFLICT(id) DO UPDATE SET username=excluded.username, contents=excluded.contents`,
			m.ID, m.Username, m.Contents); err != nil {
			return fmt.Errorf("upsert memo %d: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memo WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memo %d: %w", id, err)
	}
	return nil
}

// List returns all rows ordered by id.
func (s *Store) List(ctx context.Context) ([]domain.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, contents FROM memo ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select memos: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Memo
	for rows.Next() {
		var m domain.Memo
		if err := rows.Scan(&m.ID, &m.Username, &m.Contents); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memos: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
