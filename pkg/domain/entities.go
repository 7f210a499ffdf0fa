// Package domain defines the memo entity, its lifecycle status values, the
// store contract and the error vocabulary shared by every persistence layer.
package domain

import "fmt"

// EntityType identifies the type of record handled by a persistence context.
type EntityType string

// EntityMemo identifies memo records.
const EntityMemo EntityType = "memo"

// Memo is the single entity tracked by persistence contexts. The identifier is
// supplied by the caller; zero means the identifier has not been set.
type Memo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Contents string `json:"contents"`
}

// HasID reports whether an identifier has been assigned.
func (m Memo) HasID() bool { return m.ID != 0 }

// SameFields reports whether both memos carry identical field values.
func (m Memo) SameFields(other Memo) bool {
	return m.ID == other.ID && m.Username == other.Username && m.Contents == other.Contents
}

func (m Memo) String() string {
	return fmt.Sprintf("memo#%d(%s)", m.ID, m.Username)
}

// Status is the lifecycle state of an entity relative to one persistence context.
type Status int

// Lifecycle states.
const (
	StatusTransient Status = iota
	StatusPersistent
	StatusDetached
	StatusRemoved
)

func (s Status) String() string {
	switch s {
	case StatusTransient:
		return "transient"
	case StatusPersistent:
		return "persistent"
	case StatusDetached:
		return "detached"
	case StatusRemoved:
		return "removed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TxState is the lifecycle state of a transaction.
type TxState int

// Transaction states. Committed and RolledBack are terminal.
const (
	TxActive TxState = iota + 1
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("tx_state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool { return s == TxCommitted || s == TxRolledBack }
