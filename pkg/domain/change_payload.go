package domain

// Change captures one mutation applied within a transaction. The memory store
// uses the journal to decide which collections to broadcast after commit.
type Change struct {
	Collection Collection
	Action     Action
	Before     any
	After      any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the journal.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
	// ActionDelete indicates a record was deleted.
	ActionDelete Action = "delete"
)
