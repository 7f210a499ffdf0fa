// Package postgres provides a Postgres-backed memo store using the pgx
// database/sql driver. The memo DDL is applied on startup.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"memoctx/internal/entitymodel/sqlbundle"
	"memoctx/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/memoctx?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store keeps one row per memo in the memo table.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN)
// and applies the memo DDL.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyDDL(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyDDL(ctx context.Context, db execer) error {
	stmts, err := sqlbundle.Statements(sqlbundle.DialectPostgres)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// Get loads the row for id.
func (s *Store) Get(ctx context.Context, id int64) (domain.Memo, bool, error) {
	var m domain.Memo
	err := s.db.QueryRowContext(ctx, `SELECT id, username, contents FROM memo WHERE id = $1`, id).
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
func (s *Store) PutAll(ctx context.Context, memos []domain.Memo) error {
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
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, m := range memos {
		if _, err := tx.ExecContext(ctx, `INSERT INTO memo(id,username,contents) VALUES($1,$2,$3) ON CONFLICT(id) DO UPDATE SET username=EXCLUDED.username, contents=EXCLUDED.contents`,
			m.ID, m.Username, m.Contents); err != nil {
			return fmt.Errorf("upsert memo %d: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memo WHERE id = $1`, id); err != nil {
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
			return nil, fmt.Errorf("scan memo: %w", err)
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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
