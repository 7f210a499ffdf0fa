package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by persistence contexts and stores. Match with errors.Is.
var (
	ErrIdentifierMissing    = errors.New("entity identifier missing")
	ErrIdentifierAltered    = errors.New("entity identifier altered while managed")
	ErrContextClosed        = errors.New("persistence context is closed")
	ErrNotFound             = errors.New("entity not found")
	ErrEntityExists         = errors.New("another instance with the same identifier is already managed")
	ErrManagedElsewhere     = errors.New("entity is managed by another persistence context")
	ErrNotManaged           = errors.New("entity is not managed by this persistence context")
	ErrDetached             = errors.New("entity is detached; re-attach it with merge")
	ErrTransactionActive    = errors.New("transaction already active")
	ErrTransactionNotActive = errors.New("transaction not active")
	ErrFactoryClosed        = errors.New("context factory is closed")
)

// IdentifierMissingError reports an operation attempted on an entity without an id.
type IdentifierMissingError struct {
	Op     string
	Entity EntityType
}

func (e IdentifierMissingError) Error() string {
	return fmt.Sprintf("%s %s: identifier must be assigned manually", e.Op, e.Entity)
}

// Is matches ErrIdentifierMissing.
func (e IdentifierMissingError) Is(target error) bool { return target == ErrIdentifierMissing }

// NotFoundError reports a lookup that found no row for the identifier.
type NotFoundError struct {
	Entity EntityType
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }
