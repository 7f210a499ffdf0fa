package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"memoctx/pkg/domain"
)

// entry is one managed memo. snapshot holds the field values last synchronised
// with the store; stored reports whether the store already has the row.
type entry struct {
	ref      *domain.Memo
	snapshot domain.Memo
	stored   bool
	status   domain.Status
}

func (e *entry) dirty() bool {
	return !e.stored || !e.ref.SameFields(e.snapshot)
}

// PersistenceContext tracks managed memos for one logical caller. It is not
// safe for concurrent use. Callers must Close it on every exit path.
type PersistenceContext struct {
	id       string
	factory  *Factory
	entries  map[int64]*entry
	released map[*domain.Memo]struct{}
	tx       *Transaction
	closed   bool
}

// ID returns the context identifier used in logs.
func (pc *PersistenceContext) ID() string { return pc.id }

// Closed reports whether Close has been called.
func (pc *PersistenceContext) Closed() bool { return pc.closed }

// Len reports how many memos are currently managed, including removed ones
// awaiting commit.
func (pc *PersistenceContext) Len() int { return len(pc.entries) }

// Transaction returns the most recently begun transaction, or nil.
func (pc *PersistenceContext) Transaction() *Transaction { return pc.tx }

// Persist registers a new memo as managed. The store write happens at commit.
// An instance this context detached is rejected; Merge re-attaches it.
func (pc *PersistenceContext) Persist(m *domain.Memo) (err error) {
	defer pc.observe(context.Background(), "persist", pc.factory.nowFn(), &err)
	if err := pc.ensureOpen("persist"); err != nil {
		return err
	}
	if m == nil {
		return errors.New("persist: nil memo")
	}
	if !m.HasID() {
		return domain.IdentifierMissingError{Op: "persist", Entity: domain.EntityMemo}
	}
	if _, ok := pc.released[m]; ok {
		return fmt.Errorf("persist %s %d: %w", domain.EntityMemo, m.ID, domain.ErrDetached)
	}
	if e, ok := pc.entries[m.ID]; ok {
		if e.ref != m {
			return fmt.Errorf("persist %s %d: %w", domain.EntityMemo, m.ID, domain.ErrEntityExists)
		}
		e.status = domain.StatusPersistent
		return nil
	}
	if err := pc.factory.claim(m.ID, pc.id); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	pc.track(m.ID, &entry{ref: m, status: domain.StatusPersistent})
	pc.factory.logger.Debug("memo persisted", "context", pc.id, "memo_id", m.ID)
	return nil
}

// Find returns the managed memo for id, loading it from the store when it is
// not managed yet. A missing row yields a NotFoundError.
func (pc *PersistenceContext) Find(ctx context.Context, id int64) (_ *domain.Memo, err error) {
	defer pc.observe(ctx, "find", pc.factory.nowFn(), &err)
	if err := pc.ensureOpen("find"); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, domain.IdentifierMissingError{Op: "find", Entity: domain.EntityMemo}
	}
	if e, ok := pc.entries[id]; ok {
		if e.status == domain.StatusRemoved {
			return nil, domain.NotFoundError{Entity: domain.EntityMemo, ID: id}
		}
		return e.ref, nil
	}
	row, ok, err := pc.factory.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find %s %d: %w", domain.EntityMemo, id, err)
	}
	if !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityMemo, ID: id}
	}
	if err := pc.factory.claim(id, pc.id); err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	row.ID = id
	ref := row
	pc.track(id, &entry{ref: &ref, snapshot: row, stored: true, status: domain.StatusPersistent})
	pc.factory.logger.Debug("memo loaded", "context", pc.id, "memo_id", id)
	return &ref, nil
}

// Contains reports whether m is the instance managed for its id. It compares
// references, not field values.
func (pc *PersistenceContext) Contains(m *domain.Memo) bool {
	if m == nil {
		return false
	}
	e, ok := pc.entries[m.ID]
	return ok && e.ref == m && e.status == domain.StatusPersistent
}

// StatusOf reports the lifecycle state of m relative to this context.
func (pc *PersistenceContext) StatusOf(m *domain.Memo) domain.Status {
	if m == nil {
		return domain.StatusTransient
	}
	if e, ok := pc.entries[m.ID]; ok && e.ref == m {
		return e.status
	}
	if _, ok := pc.released[m]; ok {
		return domain.StatusDetached
	}
	return domain.StatusTransient
}

// Detach stops managing m. Later mutations of m never reach the store. It is
// a no-op when m is not the managed instance.
func (pc *PersistenceContext) Detach(m *domain.Memo) (err error) {
	defer pc.observe(context.Background(), "detach", pc.factory.nowFn(), &err)
	if err := pc.ensureOpen("detach"); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	if e, ok := pc.entries[m.ID]; ok && e.ref == m {
		pc.untrack(m.ID, true)
		pc.factory.logger.Debug("memo detached", "context", pc.id, "memo_id", m.ID)
	}
	return nil
}

// Clear detaches every managed memo.
func (pc *PersistenceContext) Clear() (err error) {
	defer pc.observe(context.Background(), "clear", pc.factory.nowFn(), &err)
	if err := pc.ensureOpen("clear"); err != nil {
		return err
	}
	n := pc.detachAll()
	pc.factory.logger.Debug("persistence context cleared", "context", pc.id, "detached", n)
	return nil
}

// Close detaches every managed memo and closes the context. Closing twice is
// allowed. An active transaction stays active so the caller can roll it back.
func (pc *PersistenceContext) Close() error {
	if pc.closed {
		return nil
	}
	n := pc.detachAll()
	pc.closed = true
	pc.factory.contextClosed()
	pc.factory.logger.Debug("persistence context closed", "context", pc.id, "detached", n)
	return nil
}

// Merge copies the state of m into the managed instance for m.ID and returns
// that managed instance. m itself never becomes managed unless it already was.
func (pc *PersistenceContext) Merge(ctx context.Context, m *domain.Memo) (_ *domain.Memo, err error) {
	defer pc.observe(ctx, "merge", pc.factory.nowFn(), &err)
	if err := pc.ensureOpen("merge"); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("merge: nil memo")
	}
	if !m.HasID() {
		return nil, domain.IdentifierMissingError{Op: "merge", Entity: domain.EntityMemo}
	}
	if e, ok := pc.entries[m.ID]; ok {
		if e.status == domain.StatusRemoved {
			return nil, fmt.Errorf("merge %s %d: instance is marked for removal: %w", domain.EntityMemo, m.ID, domain.ErrNotManaged)
		}
		if e.ref != m {
			copyFields(e.ref, m)
		}
		return e.ref, nil
	}
	row, ok, err := pc.factory.store.Get(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("merge %s %d: %w", domain.EntityMemo, m.ID, err)
	}
	if err := pc.factory.claim(m.ID, pc.id); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	row.ID = m.ID
	merged := &domain.Memo{ID: m.ID}
	copyFields(merged, m)
	pc.track(m.ID, &entry{ref: merged, snapshot: row, stored: ok, status: domain.StatusPersistent})
	pc.factory.logger.Debug("memo merged", "context", pc.id, "memo_id", m.ID, "existing", ok)
	return merged, nil
}

// Remove marks the managed instance m for deletion at commit. A memo that
// never reached the store is simply forgotten.
func (pc *PersistenceContext) Remove(m *domain.Memo) (err error) {
	defer pc.observe(context.Background(), "remove", pc.factory.nowFn(), &err)
	if err := pc.ensureOpen("remove"); err != nil {
		return err
	}
	if m == nil {
		return errors.New("remove: nil memo")
	}
	e, ok := pc.entries[m.ID]
	if !ok || e.ref != m {
		return fmt.Errorf("remove %s %d: %w", domain.EntityMemo, m.ID, domain.ErrNotManaged)
	}
	if !e.stored {
		pc.untrack(m.ID, false)
		return nil
	}
	e.status = domain.StatusRemoved
	pc.factory.logger.Debug("memo marked for removal", "context", pc.id, "memo_id", m.ID)
	return nil
}

// Begin starts a new transaction. Only one transaction may be active at a time.
func (pc *PersistenceContext) Begin() (*Transaction, error) {
	if err := pc.ensureOpen("begin"); err != nil {
		return nil, err
	}
	if pc.tx != nil && pc.tx.state == domain.TxActive {
		return nil, domain.ErrTransactionActive
	}
	pc.tx = &Transaction{pc: pc, state: domain.TxActive}
	pc.factory.logger.Debug("transaction begun", "context", pc.id)
	return pc.tx, nil
}

func (pc *PersistenceContext) ensureOpen(op string) error {
	if pc.closed {
		return fmt.Errorf("%s: %w", op, domain.ErrContextClosed)
	}
	return nil
}

func (pc *PersistenceContext) track(id int64, e *entry) {
	pc.entries[id] = e
	delete(pc.released, e.ref)
}

// untrack drops the entry for id. detached records the reference so StatusOf
// can tell a detached instance from a transient one.
func (pc *PersistenceContext) untrack(id int64, detached bool) {
	e, ok := pc.entries[id]
	if !ok {
		return
	}
	delete(pc.entries, id)
	pc.factory.release(id, pc.id)
	if detached {
		pc.released[e.ref] = struct{}{}
	}
}

func (pc *PersistenceContext) detachAll() int {
	n := len(pc.entries)
	for _, id := range pc.sortedIDs() {
		pc.untrack(id, true)
	}
	return n
}

func (pc *PersistenceContext) sortedIDs() []int64 {
	ids := make([]int64, 0, len(pc.entries))
	for id := range pc.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (pc *PersistenceContext) observe(ctx context.Context, op string, start time.Time, err *error) {
	failed := err != nil && *err != nil
	pc.factory.metrics.Observe(ctx, op, !failed, pc.factory.nowFn().Sub(start))
	if failed {
		pc.factory.logger.Debug("persistence operation failed", "context", pc.id, "operation", op, "error", *err)
	}
}

func copyFields(dst, src *domain.Memo) {
	dst.Username = src.Username
	dst.Contents = src.Contents
}
