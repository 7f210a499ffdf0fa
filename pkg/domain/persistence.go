package domain

import "context"

// Store is the only boundary to durable storage. Get reports ok=false when no
// row exists for id. Put inserts or replaces the row for id.
type Store interface {
	Get(ctx context.Context, id int64) (Memo, bool, error)
	Put(ctx context.Context, id int64, memo Memo) error
}

// BatchStore is implemented by stores able to write several rows atomically.
// Persistence contexts prefer it at commit so a failing row leaves no partial writes.
type BatchStore interface {
	Store
	PutAll(ctx context.Context, memos []Memo) error
}

// Deleter is implemented by stores that support row removal. Delete of a
// missing id is not an error.
type Deleter interface {
	Delete(ctx context.Context, id int64) error
}

// Lister is implemented by stores able to enumerate their rows ordered by id.
type Lister interface {
	List(ctx context.Context) ([]Memo, error)
}

// PersistentStore is the full capability set every bundled backend provides.
type PersistentStore interface {
	BatchStore
	Deleter
	Lister
	Close() error
}
