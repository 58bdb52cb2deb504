// Package domain defines the persistent entities, collection identifiers,
// error taxonomy, and persistence contracts shared by every labcore backend.
package domain

import "time"

// Collection identifies a named, homogeneous set of records in the store.
type Collection string

// Collection identifiers used for persistence buckets and subscriptions.
const (
	// CollectionConsumables holds stocked inventory items.
	CollectionConsumables Collection = "consumables"
	// CollectionOrders holds purchase orders created by stock decrements.
	CollectionOrders Collection = "orders"
	// CollectionEquipment holds bookable devices.
	CollectionEquipment Collection = "equipment"
	// CollectionBookings holds equipment reservations.
	CollectionBookings Collection = "bookings"
	// CollectionChatRooms holds chat room metadata and per-user read markers.
	CollectionChatRooms Collection = "chatRooms"
	// CollectionChatMessages holds chat messages and their reactions.
	CollectionChatMessages Collection = "chatMessages"
	// CollectionLabRules holds acknowledgable laboratory rules.
	CollectionLabRules Collection = "labRules"
	// CollectionGasCylinders holds gas cylinder level tracking records.
	CollectionGasCylinders Collection = "gasCylinders"
)

// Collections lists every known collection in stable order.
func Collections() []Collection {
	return []Collection{
		CollectionConsumables,
		CollectionOrders,
		CollectionEquipment,
		CollectionBookings,
		CollectionChatRooms,
		CollectionChatMessages,
		CollectionLabRules,
		CollectionGasCylinders,
	}
}

// OrderStatus enumerates the order lifecycle states handled outside the core.
type OrderStatus string

// Canonical order statuses. The core only ever creates orders in StatusOpen;
// later transitions are routine updates performed by callers.
const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusOrdered   OrderStatus = "ordered"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// BookingStatus enumerates equipment reservation states.
type BookingStatus string

// Canonical booking statuses.
const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Base carries the identity and audit timestamps common to all records.
// The store assigns all three fields; caller-supplied values are overwritten.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Consumable represents a stocked inventory item. Stock never goes negative,
// and once IsLocked is set no order may decrement it.
type Consumable struct {
	Base
	Name          string  `json:"name"`
	Unit          string  `json:"unit"`
	Stock         int     `json:"stock"`
	MinimumStock  int     `json:"minimum_stock"`
	IsLocked      bool    `json:"is_locked"`
	Supplier      *string `json:"supplier,omitempty"`
	CatalogNumber *string `json:"catalog_number,omitempty"`
	UnitPrice     float64 `json:"unit_price"`
	StorageRoom   *string `json:"storage_room,omitempty"`
}

// Order records a requested restock. Orders exist only as the paired effect of
// a successful stock decrement and are immutable apart from status transitions.
type Order struct {
	Base
	ConsumableID string      `json:"consumable_id"`
	Quantity     int         `json:"quantity"`
	RequestedBy  string      `json:"requested_by"`
	Status       OrderStatus `json:"status"`
	UnitPrice    float64     `json:"unit_price"`
	Note         *string     `json:"note,omitempty"`
}

// Equipment represents a bookable laboratory device.
type Equipment struct {
	Base
	Name              string  `json:"name"`
	Location          string  `json:"location"`
	RequiresInduction bool    `json:"requires_induction"`
	HourlyRate        float64 `json:"hourly_rate"`
	IsOutOfService    bool    `json:"is_out_of_service"`
	DocumentKey       *string `json:"document_key,omitempty"`
}

// Booking reserves a piece of equipment for a user over a time window. The
// core stores bookings verbatim; overlap policy belongs to the caller.
type Booking struct {
	Base
	EquipmentID string        `json:"equipment_id"`
	UserID      string        `json:"user_id"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Status      BookingStatus `json:"status"`
	Note        *string       `json:"note,omitempty"`
}

// ChatRoom groups messages and tracks each member's last-read position.
type ChatRoom struct {
	Base
	Name      string               `json:"name"`
	MemberIDs []string             `json:"member_ids"`
	LastRead  map[string]time.Time `json:"last_read,omitempty"`
}

// ChatMessage is a single message within a room. Reactions map an emoji to the
// set of user ids that reacted with it; a user appears at most once per emoji
// and an emoji whose set empties is removed from the map entirely.
type ChatMessage struct {
	Base
	RoomID        string              `json:"room_id"`
	AuthorID      string              `json:"author_id"`
	Body          string              `json:"body"`
	AttachmentKey *string             `json:"attachment_key,omitempty"`
	Reactions     map[string][]string `json:"reactions,omitempty"`
}

// RuleAcknowledgment records one user's acceptance of a rule version.
type RuleAcknowledgment struct {
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
	RuleVersion int       `json:"rule_version"`
}

// LabRule is a versioned policy document members must acknowledge. At most one
// acknowledgment entry exists per user id.
type LabRule struct {
	Base
	Title          string               `json:"title"`
	Body           string               `json:"body"`
	Version        int                  `json:"version"`
	DocumentKey    *string              `json:"document_key,omitempty"`
	AcknowledgedBy []RuleAcknowledgment `json:"acknowledged_by"`
}

// GasCylinder tracks gas levels over time. A new reading always shifts the
// current reading into the Previous* fields before being applied, and
// CurrentLevel never exceeds CylinderSize.
type GasCylinder struct {
	Base
	Gas                string     `json:"gas"`
	Location           string     `json:"location"`
	CylinderSize       float64    `json:"cylinder_size"`
	CurrentLevel       float64    `json:"current_level"`
	PreviousLevel      *float64   `json:"previous_level,omitempty"`
	LastMeasuredAt     time.Time  `json:"last_measured_at"`
	PreviousMeasuredAt *time.Time `json:"previous_measured_at,omitempty"`
	MinimumLevel       float64    `json:"minimum_level"`
	EstimatedEmptyAt   *time.Time `json:"estimated_empty_at,omitempty"`
}
