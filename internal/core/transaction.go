package core

import (
	"context"
	"fmt"

	"memoctx/pkg/domain"
)

// Transaction groups the changes of one persistence context. It is created by
// PersistenceContext.Begin and ends with exactly one of Commit or Rollback.
type Transaction struct {
	pc    *PersistenceContext
	state domain.TxState
}

// State reports the current transaction state.
func (tx *Transaction) State() domain.TxState { return tx.state }

// Active reports whether the transaction can still commit or roll back.
func (tx *Transaction) Active() bool { return tx.state == domain.TxActive }

// Commit writes every new or modified managed memo and deletes every removed
// one. Validation happens before the store is touched; on any error the
// transaction stays active so the caller can roll it back.
func (tx *Transaction) Commit(ctx context.Context) (err error) {
	pc := tx.pc
	defer pc.observe(ctx, "commit", pc.factory.nowFn(), &err)
	if tx.state != domain.TxActive {
		return fmt.Errorf("commit: %w", domain.ErrTransactionNotActive)
	}
	if err := pc.ensureOpen("commit"); err != nil {
		return err
	}

	ids := pc.sortedIDs()
	var writes []domain.Memo
	var deletes []int64
	for _, id := range ids {
		e := pc.entries[id]
		if !e.ref.HasID() {
			return domain.IdentifierMissingError{Op: "commit", Entity: domain.EntityMemo}
		}
		if e.ref.ID != id {
			return fmt.Errorf("commit %s %d: now carries id %d: %w", domain.EntityMemo, id, e.ref.ID, domain.ErrIdentifierAltered)
		}
		switch {
		case e.status == domain.StatusRemoved:
			deletes = append(deletes, id)
		case e.dirty():
			writes = append(writes, *e.ref)
		}
	}
	deleter, canDelete := pc.factory.store.(domain.Deleter)
	if len(deletes) > 0 && !canDelete {
		return fmt.Errorf("commit: store %T cannot delete %s rows", pc.factory.store, domain.EntityMemo)
	}

	if err := writeAll(ctx, pc.factory.store, writes); err != nil {
		pc.factory.logger.Warn("commit failed", "context", pc.id, "error", err)
		return fmt.Errorf("commit: %w", err)
	}
	for _, id := range deletes {
		if err := deleter.Delete(ctx, id); err != nil {
			pc.factory.logger.Warn("commit failed", "context", pc.id, "memo_id", id, "error", err)
			return fmt.Errorf("commit: delete %s %d: %w", domain.EntityMemo, id, err)
		}
	}

	for _, id := range ids {
		e := pc.entries[id]
		if e.status == domain.StatusRemoved {
			pc.untrack(id, false)
			continue
		}
		e.snapshot = *e.ref
		e.stored = true
	}
	tx.state = domain.TxCommitted
	pc.factory.logger.Info("transaction committed", "context", pc.id, "written", len(writes), "deleted", len(deletes))
	return nil
}

// Rollback discards the changes made since the last commit: loaded memos get
// their stored values back, unsaved ones stop being managed and removals are
// cancelled. Rolling back after the context closed is allowed.
func (tx *Transaction) Rollback() (err error) {
	pc := tx.pc
	defer pc.observe(context.Background(), "rollback", pc.factory.nowFn(), &err)
	if tx.state != domain.TxActive {
		return fmt.Errorf("rollback: %w", domain.ErrTransactionNotActive)
	}
	reverted, dropped := 0, 0
	for _, id := range pc.sortedIDs() {
		e := pc.entries[id]
		if !e.stored {
			pc.untrack(id, false)
			dropped++
			continue
		}
		*e.ref = e.snapshot
		e.status = domain.StatusPersistent
		reverted++
	}
	tx.state = domain.TxRolledBack
	pc.factory.logger.Info("transaction rolled back", "context", pc.id, "reverted", reverted, "dropped", dropped)
	return nil
}

// writeAll prefers an atomic batch write and falls back to row-by-row Put.
// The fallback can leave earlier rows written when a later Put fails.
func writeAll(ctx context.Context, store domain.Store, memos []domain.Memo) error {
	if len(memos) == 0 {
		return nil
	}
	if batch, ok := store.(domain.BatchStore); ok {
		if err := batch.PutAll(ctx, memos); err != nil {
			return fmt.Errorf("write %d %s rows: %w", len(memos), domain.EntityMemo, err)
		}
		return nil
	}
	for _, m := range memos {
		if err := store.Put(ctx, m.ID, m); err != nil {
			return fmt.Errorf("write %s %d: %w", domain.EntityMemo, m.ID, err)
		}
	}
	return nil
}
