// Package core wires the persistence backends, the typed adapter surface, and
// the transactional service primitives into one composable layer.
package core

import "labcore/pkg/domain"

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
	Collection      = domain.Collection

	Consumable  = domain.Consumable
	Order       = domain.Order
	Equipment   = domain.Equipment
	Booking     = domain.Booking
	ChatRoom    = domain.ChatRoom
	ChatMessage = domain.ChatMessage
	LabRule     = domain.LabRule
	GasCylinder = domain.GasCylinder
)
