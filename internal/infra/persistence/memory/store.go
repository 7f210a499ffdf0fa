// Package memory provides an in-memory implementation of the memo store used
// for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"memoctx/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// Memo aliases domain.Memo for in-memory persistence operations.
type Memo = domain.Memo

// Store provides a mutex-guarded map of memo rows.
type Store struct {
	mu   sync.RWMutex
	rows map[int64]Memo
	puts int
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{rows: make(map[int64]Memo)}
}

// Get returns the row for id.
func (s *Store) Get(_ context.Context, id int64) (Memo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[id]
	return m, ok, nil
}

// Put inserts or replaces the row for id.
func (s *Store) Put(_ context.Context, id int64, memo Memo) error {
	if id == 0 {
		return domain.IdentifierMissingError{Op: "put", Entity: domain.EntityMemo}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	memo.ID = id
	s.rows[id] = memo
	s.puts++
	return nil
}

// PutAll writes every memo or none of them.
func (s *Store) PutAll(_ context.Context, memos []Memo) error {
	for _, m := range memos {
		if !m.HasID() {
			return domain.IdentifierMissingError{Op: "put", Entity: domain.EntityMemo}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range memos {
		s.rows[m.ID] = m
		s.puts++
	}
	return nil
}

// Delete removes the row for id when present.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// List returns all rows ordered by id.
func (s *Store) List(_ context.Context) ([]Memo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Memo, 0, len(s.rows))
	for _, m := range s.rows {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// Writes reports how many row writes the store has accepted.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
