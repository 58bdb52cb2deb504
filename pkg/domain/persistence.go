package domain

import "context"

// Transaction exposes the mutations a persistence implementation must support
// within one atomic scope. Every Create assigns the id and audit timestamps
// server-side and returns the authoritative post-write record. Every Update
// applies the mutator to a copy and commits the copy, preserving the id.
// Deletes of absent ids return NotFoundError; idempotent delete semantics are
// layered on top by the adapter surface.
type Transaction interface {
	Snapshot() TransactionView

	CreateConsumable(Consumable) (Consumable, error)
	UpdateConsumable(id string, mutator func(*Consumable) error) (Consumable, error)
	DeleteConsumable(id string) error
	FindConsumable(id string) (Consumable, bool)

	CreateOrder(Order) (Order, error)
	UpdateOrder(id string, mutator func(*Order) error) (Order, error)
	DeleteOrder(id string) error
	FindOrder(id string) (Order, bool)

	CreateEquipment(Equipment) (Equipment, error)
	UpdateEquipment(id string, mutator func(*Equipment) error) (Equipment, error)
	DeleteEquipment(id string) error
	FindEquipment(id string) (Equipment, bool)

	CreateBooking(Booking) (Booking, error)
	UpdateBooking(id string, mutator func(*Booking) error) (Booking, error)
	DeleteBooking(id string) error
	FindBooking(id string) (Booking, bool)

	CreateChatRoom(ChatRoom) (ChatRoom, error)
	UpdateChatRoom(id string, mutator func(*ChatRoom) error) (ChatRoom, error)
	DeleteChatRoom(id string) error
	FindChatRoom(id string) (ChatRoom, bool)

	CreateChatMessage(ChatMessage) (ChatMessage, error)
	UpdateChatMessage(id string, mutator func(*ChatMessage) error) (ChatMessage, error)
	DeleteChatMessage(id string) error
	FindChatMessage(id string) (ChatMessage, bool)

	CreateLabRule(LabRule) (LabRule, error)
	UpdateLabRule(id string, mutator func(*LabRule) error) (LabRule, error)
	DeleteLabRule(id string) error
	FindLabRule(id string) (LabRule, bool)

	CreateGasCylinder(GasCylinder) (GasCylinder, error)
	UpdateGasCylinder(id string, mutator func(*GasCylinder) error) (GasCylinder, error)
	DeleteGasCylinder(id string) error
	FindGasCylinder(id string) (GasCylinder, bool)
}

// TransactionView provides read-only access to snapshot state.
type TransactionView interface {
	ListConsumables() []Consumable
	ListOrders() []Order
	ListEquipment() []Equipment
	ListBookings() []Booking
	ListChatRooms() []ChatRoom
	ListChatMessages() []ChatMessage
	ListLabRules() []LabRule
	ListGasCylinders() []GasCylinder
	FindConsumable(id string) (Consumable, bool)
	FindChatMessage(id string) (ChatMessage, bool)
	FindLabRule(id string) (LabRule, bool)
	FindGasCylinder(id string) (GasCylinder, bool)
}

// SnapshotFunc receives the full state of one collection as clones of the
// committed records. The slice is owned by the callback.
type SnapshotFunc func(records []any)

// PersistentStore is the backend-agnostic surface through which all reads,
// writes, and subscriptions flow. Implementations serialize transactional
// read-modify-write internally; callers never lock.
type PersistentStore interface {
	// RunInTransaction executes fn against a mutable copy of the state and
	// commits atomically on success. Any error from fn aborts with no
	// partial write.
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	// View executes fn against a read-only snapshot of committed state.
	View(ctx context.Context, fn func(TransactionView) error) error
	// Subscribe registers fn for a collection, replays the current snapshot
	// before returning, and delivers the full collection after each commit
	// that touched it. The returned cancel is idempotent.
	Subscribe(collection Collection, fn SnapshotFunc) (cancel func())

	GetConsumable(id string) (Consumable, bool)
	ListConsumables() []Consumable
	GetOrder(id string) (Order, bool)
	ListOrders() []Order
	GetEquipment(id string) (Equipment, bool)
	ListEquipment() []Equipment
	GetBooking(id string) (Booking, bool)
	ListBookings() []Booking
	GetChatRoom(id string) (ChatRoom, bool)
	ListChatRooms() []ChatRoom
	GetChatMessage(id string) (ChatMessage, bool)
	ListChatMessages() []ChatMessage
	GetLabRule(id string) (LabRule, bool)
	ListLabRules() []LabRule
	GetGasCylinder(id string) (GasCylinder, bool)
	ListGasCylinders() []GasCylinder
}
