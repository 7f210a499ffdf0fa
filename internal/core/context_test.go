package core

import (
	"context"
	"errors"
	"testing"

	"memoctx/internal/infra/persistence/memory"
	"memoctx/pkg/domain"
)

func seededStore(t *testing.T, memos ...domain.Memo) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	if err := store.PutAll(context.Background(), memos); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func defaultSeed() []domain.Memo {
	return []domain.Memo{
		{ID: 1, Username: "Robbie", Contents: "first memo"},
		{ID: 2, Username: "Robbert", Contents: "second memo"},
	}
}

func openContext(t *testing.T, store domain.Store) (*Factory, *PersistenceContext) {
	t.Helper()
	f := NewFactory(store)
	pc, err := f.NewContext()
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return f, pc
}

// runInTransaction mirrors the begin / commit, rollback on failure, always
// close sequence callers are expected to follow.
func runInTransaction(t *testing.T, pc *PersistenceContext, fn func(ctx context.Context) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := pc.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() {
		if err := pc.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()
	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.Fatalf("rollback: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.Fatalf("rollback: %v", rbErr)
		}
		return err
	}
	return nil
}

func mustGet(t *testing.T, store domain.Store, id int64) domain.Memo {
	t.Helper()
	m, ok, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	if !ok {
		t.Fatalf("expected row %d", id)
	}
	return m
}

func TestPersistCommitWritesRow(t *testing.T) {
	store := memory.NewStore()
	f, pc := openContext(t, store)
	defer func() { _ = f.Close() }()

	err := runInTransaction(t, pc, func(context.Context) error {
		return pc.Persist(&domain.Memo{ID: 2, Username: "Robbie", Contents: "persistence context and transactions 2"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	got := mustGet(t, store, 2)
	if got.Username != "Robbie" || got.Contents != "persistence context and transactions 2" {
		t.Fatalf("unexpected row %+v", got)
	}
	if pc.Transaction().State() != domain.TxCommitted {
		t.Fatalf("expected committed, got %s", pc.Transaction().State())
	}
}

func TestPersistWithoutIDRollsBack(t *testing.T) {
	store := memory.NewStore()
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(context.Context) error {
		return pc.Persist(&domain.Memo{Username: "Robbert", Contents: "failure case"})
	})
	var missing domain.IdentifierMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected IdentifierMissingError, got %v", err)
	}
	if missing.Op != "persist" || !errors.Is(err, domain.ErrIdentifierMissing) {
		t.Fatalf("unexpected error detail %+v", missing)
	}
	if rows, _ := store.List(context.Background()); len(rows) != 0 {
		t.Fatalf("expected empty store, got %+v", rows)
	}
	if pc.Transaction().State() != domain.TxRolledBack {
		t.Fatalf("expected rolled back, got %s", pc.Transaction().State())
	}
}

func TestDetachedMutationNeverReachesStore(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		if !pc.Contains(memo) {
			t.Fatalf("expected found memo to be managed")
		}
		if err := pc.Detach(memo); err != nil {
			return err
		}
		if pc.Contains(memo) {
			t.Fatalf("expected detached memo to be unmanaged")
		}
		if pc.StatusOf(memo) != domain.StatusDetached {
			t.Fatalf("expected detached status, got %s", pc.StatusOf(memo))
		}
		memo.Username = "Update"
		memo.Contents = "memo Entity Update"
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := mustGet(t, store, 1); got.Username != "Robbie" || got.Contents != "first memo" {
		t.Fatalf("detached mutation leaked into store: %+v", got)
	}
}

func TestClearThenFindReloads(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo1, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		memo2, err := pc.Find(ctx, 2)
		if err != nil {
			return err
		}
		if err := pc.Clear(); err != nil {
			return err
		}
		if pc.Contains(memo1) || pc.Contains(memo2) {
			t.Fatalf("expected clear to detach every memo")
		}
		if pc.Len() != 0 {
			t.Fatalf("expected no managed memos, got %d", pc.Len())
		}
		memo, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		if memo == memo1 {
			t.Fatalf("expected a fresh instance after clear")
		}
		if !pc.Contains(memo) {
			t.Fatalf("expected reloaded memo to be managed")
		}
		memo.Username = "Update"
		memo.Contents = "memo Entity Update"
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := mustGet(t, store, 1); got.Username != "Update" || got.Contents != "memo Entity Update" {
		t.Fatalf("expected update to be flushed, got %+v", got)
	}
	if got := mustGet(t, store, 2); got.Username != "Robbert" {
		t.Fatalf("expected memo 2 untouched, got %+v", got)
	}
}

func TestClosedContextRejectsOperations(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	f, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo1, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		if _, err := pc.Find(ctx, 2); err != nil {
			return err
		}
		if err := pc.Close(); err != nil {
			return err
		}
		if pc.Contains(memo1) {
			t.Fatalf("expected close to detach memos")
		}
		_, err = pc.Find(ctx, 2)
		return err
	})
	if !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
	if pc.Transaction().State() != domain.TxRolledBack {
		t.Fatalf("expected rollback after close, got %s", pc.Transaction().State())
	}
	if err := pc.Persist(&domain.Memo{ID: 7}); !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("persist after close: expected ErrContextClosed, got %v", err)
	}
	if err := pc.Detach(&domain.Memo{ID: 1}); !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("detach after close: expected ErrContextClosed, got %v", err)
	}
	if _, err := pc.Merge(context.Background(), &domain.Memo{ID: 1}); !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("merge after close: expected ErrContextClosed, got %v", err)
	}
	if err := pc.Clear(); !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("clear after close: expected ErrContextClosed, got %v", err)
	}
	if _, err := pc.Begin(); !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("begin after close: expected ErrContextClosed, got %v", err)
	}
	if f.OpenContexts() != 0 {
		t.Fatalf("expected no open contexts, got %d", f.OpenContexts())
	}
}

func TestMergeTransientInserts(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo := &domain.Memo{ID: 3, Username: "merge()", Contents: "merge() insert"}
		merged, err := pc.Merge(ctx, memo)
		if err != nil {
			return err
		}
		if pc.Contains(memo) {
			t.Fatalf("expected merge argument to stay unmanaged")
		}
		if !pc.Contains(merged) {
			t.Fatalf("expected merged instance to be managed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := mustGet(t, store, 3); got.Contents != "merge() insert" {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestMergeDetachedUpdates(t *testing.T) {
	store := seededStore(t, domain.Memo{ID: 3, Username: "merge()", Contents: "merge() insert"})
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo, err := pc.Find(ctx, 3)
		if err != nil {
			return err
		}
		if err := pc.Detach(memo); err != nil {
			return err
		}
		memo.Contents = "merge() update"
		merged, err := pc.Merge(ctx, memo)
		if err != nil {
			return err
		}
		if merged.Contents != "merge() update" {
			t.Fatalf("expected merged contents to follow argument, got %q", merged.Contents)
		}
		if pc.Contains(memo) || !pc.Contains(merged) {
			t.Fatalf("expected only the merged instance to be managed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := mustGet(t, store, 3); got.Contents != "merge() update" {
		t.Fatalf("expected updated row, got %+v", got)
	}
}

func TestFindMissingReturnsNotFound(t *testing.T) {
	_, pc := openContext(t, memory.NewStore())
	defer func() { _ = pc.Close() }()

	_, err := pc.Find(context.Background(), 9)
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.ID != 9 {
		t.Fatalf("expected NotFoundError for 9, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound match")
	}
	if pc.Len() != 0 {
		t.Fatalf("missing row must not be tracked")
	}
	if _, err := pc.Find(context.Background(), 0); !errors.Is(err, domain.ErrIdentifierMissing) {
		t.Fatalf("expected identifier missing for id 0, got %v", err)
	}
}

func TestFindReturnsSameInstance(t *testing.T) {
	_, pc := openContext(t, seededStore(t, defaultSeed()...))
	defer func() { _ = pc.Close() }()
	ctx := context.Background()

	a, err := pc.Find(ctx, 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	b, err := pc.Find(ctx, 1)
	if err != nil {
		t.Fatalf("find again: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical instances")
	}
	if copyOf := *a; pc.Contains(&copyOf) {
		t.Fatalf("contains must compare references")
	}
}

func TestPersistDuplicateInstance(t *testing.T) {
	_, pc := openContext(t, memory.NewStore())
	defer func() { _ = pc.Close() }()

	first := &domain.Memo{ID: 5, Username: "a"}
	if err := pc.Persist(first); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := pc.Persist(first); err != nil {
		t.Fatalf("persist same instance should be a no-op: %v", err)
	}
	if err := pc.Persist(&domain.Memo{ID: 5, Username: "b"}); !errors.Is(err, domain.ErrEntityExists) {
		t.Fatalf("expected ErrEntityExists, got %v", err)
	}
	if err := pc.Persist(nil); err == nil {
		t.Fatalf("expected error for nil memo")
	}
}

func TestMergeOntoManagedInstance(t *testing.T) {
	_, pc := openContext(t, seededStore(t, defaultSeed()...))
	defer func() { _ = pc.Close() }()
	ctx := context.Background()

	managed, err := pc.Find(ctx, 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	same, err := pc.Merge(ctx, managed)
	if err != nil || same != managed {
		t.Fatalf("merge of managed instance should return it, got %v %v", same, err)
	}
	other := &domain.Memo{ID: 2, Username: "other", Contents: "copied"}
	merged, err := pc.Merge(ctx, other)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged != managed || managed.Username != "other" || managed.Contents != "copied" {
		t.Fatalf("expected fields copied onto managed instance, got %+v", managed)
	}
	if _, err := pc.Merge(ctx, &domain.Memo{}); !errors.Is(err, domain.ErrIdentifierMissing) {
		t.Fatalf("expected identifier missing, got %v", err)
	}
}

func TestRemoveDeletesOnCommit(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	_, pc := openContext(t, store)
	ctx := context.Background()

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		if err := pc.Remove(memo); err != nil {
			return err
		}
		if pc.StatusOf(memo) != domain.StatusRemoved || pc.Contains(memo) {
			t.Fatalf("expected removed status")
		}
		if _, err := pc.Find(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("removed memo should not be found, got %v", err)
		}
		if _, err := pc.Merge(ctx, &domain.Memo{ID: 1}); !errors.Is(err, domain.ErrNotManaged) {
			t.Fatalf("merge onto removed memo should fail, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, ok, _ := store.Get(ctx, 1); ok {
		t.Fatalf("expected row 1 deleted")
	}
}

func TestRemoveUnmanaged(t *testing.T) {
	_, pc := openContext(t, memory.NewStore())
	defer func() { _ = pc.Close() }()

	if err := pc.Remove(&domain.Memo{ID: 4}); !errors.Is(err, domain.ErrNotManaged) {
		t.Fatalf("expected ErrNotManaged, got %v", err)
	}
	fresh := &domain.Memo{ID: 4}
	if err := pc.Persist(fresh); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := pc.Remove(fresh); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if pc.Len() != 0 || pc.StatusOf(fresh) != domain.StatusTransient {
		t.Fatalf("unsaved memo should be forgotten, status %s", pc.StatusOf(fresh))
	}
}

func TestStatusOfLifecycle(t *testing.T) {
	_, pc := openContext(t, memory.NewStore())
	defer func() { _ = pc.Close() }()

	m := &domain.Memo{ID: 6}
	if pc.StatusOf(m) != domain.StatusTransient {
		t.Fatalf("expected transient")
	}
	if err := pc.Persist(m); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if pc.StatusOf(m) != domain.StatusPersistent {
		t.Fatalf("expected persistent")
	}
	if err := pc.Detach(m); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if pc.StatusOf(m) != domain.StatusDetached {
		t.Fatalf("expected detached")
	}
	if err := pc.Persist(m); !errors.Is(err, domain.ErrDetached) {
		t.Fatalf("re-persist of detached memo: expected ErrDetached, got %v", err)
	}
	merged, err := pc.Merge(context.Background(), m)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if pc.StatusOf(merged) != domain.StatusPersistent || pc.StatusOf(m) != domain.StatusDetached {
		t.Fatalf("expected merged copy managed and original detached")
	}
	if pc.StatusOf(nil) != domain.StatusTransient {
		t.Fatalf("nil memo should be transient")
	}
}

func TestDetachIgnoresOtherInstances(t *testing.T) {
	_, pc := openContext(t, seededStore(t, defaultSeed()...))
	defer func() { _ = pc.Close() }()

	managed, err := pc.Find(context.Background(), 1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := pc.Detach(&domain.Memo{ID: 1}); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := pc.Detach(nil); err != nil {
		t.Fatalf("detach nil: %v", err)
	}
	if !pc.Contains(managed) {
		t.Fatalf("detaching a different instance must not affect the managed one")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f, pc := openContext(t, memory.NewStore())
	if err := pc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !pc.Closed() || f.OpenContexts() != 0 {
		t.Fatalf("expected closed context, open=%d", f.OpenContexts())
	}
	if pc.Contains(&domain.Memo{ID: 1}) {
		t.Fatalf("closed context contains nothing")
	}
	if pc.ID() == "" {
		t.Fatalf("expected context id")
	}
}

func TestPersistRejectsDetachedInstance(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		if err := pc.Detach(memo); err != nil {
			return err
		}
		memo.Username = "Leaked"
		return pc.Persist(memo)
	})
	if !errors.Is(err, domain.ErrDetached) {
		t.Fatalf("expected ErrDetached, got %v", err)
	}
	if got := mustGet(t, store, 1); got.Username != "Robbie" {
		t.Fatalf("detached mutation reached the store: %+v", got)
	}
}

func TestPersistAcceptsFreshInstanceAfterDetach(t *testing.T) {
	store := seededStore(t, defaultSeed()...)
	_, pc := openContext(t, store)

	err := runInTransaction(t, pc, func(ctx context.Context) error {
		memo, err := pc.Find(ctx, 1)
		if err != nil {
			return err
		}
		if err := pc.Detach(memo); err != nil {
			return err
		}
		return pc.Persist(&domain.Memo{ID: 1, Username: "Replacement"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := mustGet(t, store, 1); got.Username != "Replacement" {
		t.Fatalf("expected replacement row, got %+v", got)
	}
}
