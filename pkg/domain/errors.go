package domain

import "fmt"

// NotFoundError reports an operation that referenced a nonexistent record id.
type NotFoundError struct {
	Collection Collection
	ID         string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Collection, e.ID)
}

// ValidationError reports caller-supplied data that violates a precondition.
type ValidationError struct {
	Collection Collection
	Reason     string
}

func (e ValidationError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Collection, e.Reason)
}

// InsufficientStockError reports a decrement that would drive stock negative.
// Available carries the stock level observed inside the transaction.
type InsufficientStockError struct {
	ConsumableID string
	Requested    int
	Available    int
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("consumable %s has insufficient stock: requested %d, available %d", e.ConsumableID, e.Requested, e.Available)
}

// LockedError reports a decrement attempt against locked inventory.
type LockedError struct {
	ConsumableID string
}

func (e LockedError) Error() string {
	return fmt.Sprintf("consumable %s is locked against ordering", e.ConsumableID)
}

// ConflictError reports a transactional write aborted by contention in the
// remote backend. Callers may retry.
type ConflictError struct {
	Detail string
}

func (e ConflictError) Error() string {
	if e.Detail == "" {
		return "transaction aborted due to concurrent modification"
	}
	return fmt.Sprintf("transaction aborted due to concurrent modification: %s", e.Detail)
}

// UnavailableError reports that the underlying store could not be reached or
// the configuration is missing.
type UnavailableError struct {
	Driver string
	Err    error
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("storage backend %s unavailable: %v", e.Driver, e.Err)
}

func (e UnavailableError) Unwrap() error { return e.Err }
