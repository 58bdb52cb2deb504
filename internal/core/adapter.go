package core

import (
	"context"
	"errors"

	"labcore/pkg/domain"
)

// Adapter is the uniform per-collection access surface. Every backend yields
// the same adapter behavior: Get returns nil for absent ids, Delete of an
// absent id is a no-op, and Subscribe replays the current collection snapshot
// before the cancel func is returned.
type Adapter[T any] struct {
	collection domain.Collection
	store      PersistentStore
	list       func() []T
	get        func(id string) (T, bool)
	create     func(tx Transaction, record T) (T, error)
	update     func(tx Transaction, id string, mutator func(*T) error) (T, error)
	remove     func(tx Transaction, id string) error
}

// Collection reports which collection the adapter serves.
func (a *Adapter[T]) Collection() Collection { return a.collection }

// List returns all records sorted by creation time then id.
func (a *Adapter[T]) List() []T { return a.list() }

// Get returns the record with the given id, or nil when absent.
func (a *Adapter[T]) Get(id string) *T {
	record, ok := a.get(id)
	if !ok {
		return nil
	}
	return &record
}

// Create persists a new record and returns the authoritative post-write copy
// with server-assigned id and timestamps.
func (a *Adapter[T]) Create(ctx context.Context, record T) (T, error) {
	var created T
	err := a.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = a.create(tx, record)
		return err
	})
	return created, err
}

// Update applies the mutator to the stored record and commits the result.
// Absent ids fail with NotFoundError.
func (a *Adapter[T]) Update(ctx context.Context, id string, mutator func(*T) error) (T, error) {
	var updated T
	err := a.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = a.update(tx, id, mutator)
		return err
	})
	return updated, err
}

// Delete removes the record. Deleting an absent id succeeds, so retried
// deletes converge.
func (a *Adapter[T]) Delete(ctx context.Context, id string) error {
	err := a.store.RunInTransaction(ctx, func(tx Transaction) error {
		return a.remove(tx, id)
	})
	var notFound domain.NotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Subscribe registers fn for the adapter's collection. The current snapshot is
// replayed synchronously before Subscribe returns, and fn then receives the
// full collection after every commit that touches it.
func (a *Adapter[T]) Subscribe(fn func(records []T)) (cancel func()) {
	return a.store.Subscribe(a.collection, func(records []any) {
		typed := make([]T, 0, len(records))
		for _, record := range records {
			if v, ok := record.(T); ok {
				typed = append(typed, v)
			}
		}
		fn(typed)
	})
}

// Consumables returns the adapter for the consumables collection.
func (s *Service) Consumables() *Adapter[Consumable] {
	return &Adapter[Consumable]{
		collection: domain.CollectionConsumables,
		store:      s.store,
		list:       s.store.ListConsumables,
		get:        s.store.GetConsumable,
		create:     func(tx Transaction, r Consumable) (Consumable, error) { return tx.CreateConsumable(r) },
		update: func(tx Transaction, id string, m func(*Consumable) error) (Consumable, error) {
			return tx.UpdateConsumable(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteConsumable(id) },
	}
}

// Orders returns the adapter for the orders collection.
func (s *Service) Orders() *Adapter[Order] {
	return &Adapter[Order]{
		collection: domain.CollectionOrders,
		store:      s.store,
		list:       s.store.ListOrders,
		get:        s.store.GetOrder,
		create:     func(tx Transaction, r Order) (Order, error) { return tx.CreateOrder(r) },
		update: func(tx Transaction, id string, m func(*Order) error) (Order, error) {
			return tx.UpdateOrder(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteOrder(id) },
	}
}

// Equipment returns the adapter for the equipment collection.
func (s *Service) Equipment() *Adapter[Equipment] {
	return &Adapter[Equipment]{
		collection: domain.CollectionEquipment,
		store:      s.store,
		list:       s.store.ListEquipment,
		get:        s.store.GetEquipment,
		create:     func(tx Transaction, r Equipment) (Equipment, error) { return tx.CreateEquipment(r) },
		update: func(tx Transaction, id string, m func(*Equipment) error) (Equipment, error) {
			return tx.UpdateEquipment(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteEquipment(id) },
	}
}

// Bookings returns the adapter for the bookings collection.
func (s *Service) Bookings() *Adapter[Booking] {
	return &Adapter[Booking]{
		collection: domain.CollectionBookings,
		store:      s.store,
		list:       s.store.ListBookings,
		get:        s.store.GetBooking,
		create:     func(tx Transaction, r Booking) (Booking, error) { return tx.CreateBooking(r) },
		update: func(tx Transaction, id string, m func(*Booking) error) (Booking, error) {
			return tx.UpdateBooking(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteBooking(id) },
	}
}

// ChatRooms returns the adapter for the chat rooms collection.
func (s *Service) ChatRooms() *Adapter[ChatRoom] {
	return &Adapter[ChatRoom]{
		collection: domain.CollectionChatRooms,
		store:      s.store,
		list:       s.store.ListChatRooms,
		get:        s.store.GetChatRoom,
		create:     func(tx Transaction, r ChatRoom) (ChatRoom, error) { return tx.CreateChatRoom(r) },
		update: func(tx Transaction, id string, m func(*ChatRoom) error) (ChatRoom, error) {
			return tx.UpdateChatRoom(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteChatRoom(id) },
	}
}

// ChatMessages returns the adapter for the chat messages collection.
func (s *Service) ChatMessages() *Adapter[ChatMessage] {
	return &Adapter[ChatMessage]{
		collection: domain.CollectionChatMessages,
		store:      s.store,
		list:       s.store.ListChatMessages,
		get:        s.store.GetChatMessage,
		create:     func(tx Transaction, r ChatMessage) (ChatMessage, error) { return tx.CreateChatMessage(r) },
		update: func(tx Transaction, id string, m func(*ChatMessage) error) (ChatMessage, error) {
			return tx.UpdateChatMessage(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteChatMessage(id) },
	}
}

// LabRules returns the adapter for the lab rules collection.
func (s *Service) LabRules() *Adapter[LabRule] {
	return &Adapter[LabRule]{
		collection: domain.CollectionLabRules,
		store:      s.store,
		list:       s.store.ListLabRules,
		get:        s.store.GetLabRule,
		create:     func(tx Transaction, r LabRule) (LabRule, error) { return tx.CreateLabRule(r) },
		update: func(tx Transaction, id string, m func(*LabRule) error) (LabRule, error) {
			return tx.UpdateLabRule(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteLabRule(id) },
	}
}

// GasCylinders returns the adapter for the gas cylinders collection.
func (s *Service) GasCylinders() *Adapter[GasCylinder] {
	return &Adapter[GasCylinder]{
		collection: domain.CollectionGasCylinders,
		store:      s.store,
		list:       s.store.ListGasCylinders,
		get:        s.store.GetGasCylinder,
		create:     func(tx Transaction, r GasCylinder) (GasCylinder, error) { return tx.CreateGasCylinder(r) },
		update: func(tx Transaction, id string, m func(*GasCylinder) error) (GasCylinder, error) {
			return tx.UpdateGasCylinder(id, m)
		},
		remove: func(tx Transaction, id string) error { return tx.DeleteGasCylinder(id) },
	}
}
