package memory

import (
	"time"

	"labcore/pkg/domain"
)

// transaction is a mutation set applied to a cloned copy of the store state.
// It commits by replacing the canonical state under the store's writer lock,
// so no concurrent invocation ever interleaves its read and write steps.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

var _ domain.Transaction = (*transaction)(nil)

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes a read-only view of the transactional state.
func (tx *transaction) Snapshot() domain.TransactionView {
	return &transactionView{state: &tx.state}
}

// CreateConsumable stores a new consumable within the transaction.
func (tx *transaction) CreateConsumable(c Consumable) (Consumable, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.consumables[c.ID]; exists {
		return Consumable{}, domain.ValidationError{Collection: domain.CollectionConsumables, Reason: "id " + c.ID + " already exists"}
	}
	if c.Stock < 0 {
		return Consumable{}, domain.ValidationError{Collection: domain.CollectionConsumables, Reason: "stock must not be negative"}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.consumables[c.ID] = cloneConsumable(c)
	tx.recordChange(Change{Collection: domain.CollectionConsumables, Action: domain.ActionCreate, After: cloneConsumable(c)})
	return cloneConsumable(c), nil
}

// UpdateConsumable mutates a consumable using the provided mutator function.
func (tx *transaction) UpdateConsumable(id string, mutator func(*Consumable) error) (Consumable, error) {
	current, ok := tx.state.consumables[id]
	if !ok {
		return Consumable{}, domain.NotFoundError{Collection: domain.CollectionConsumables, ID: id}
	}
	before := cloneConsumable(current)
	if err := mutator(&current); err != nil {
		return Consumable{}, err
	}
	if current.Stock < 0 {
		return Consumable{}, domain.ValidationError{Collection: domain.CollectionConsumables, Reason: "stock must not be negative"}
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.consumables[id] = cloneConsumable(current)
	tx.recordChange(Change{Collection: domain.CollectionConsumables, Action: domain.ActionUpdate, Before: before, After: cloneConsumable(current)})
	return cloneConsumable(current), nil
}

// DeleteConsumable removes a consumable from the transaction state.
func (tx *transaction) DeleteConsumable(id string) error {
	current, ok := tx.state.consumables[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionConsumables, ID: id}
	}
	delete(tx.state.consumables, id)
	tx.recordChange(Change{Collection: domain.CollectionConsumables, Action: domain.ActionDelete, Before: cloneConsumable(current)})
	return nil
}

// FindConsumable retrieves a consumable from the transaction state.
func (tx *transaction) FindConsumable(id string) (Consumable, bool) {
	c, ok := tx.state.consumables[id]
	if !ok {
		return Consumable{}, false
	}
	return cloneConsumable(c), true
}

// CreateOrder stores a new order. Orders receive ULID identifiers so listings
// sort by creation time.
func (tx *transaction) CreateOrder(o Order) (Order, error) {
	if o.ID == "" {
		o.ID = tx.store.newOrderID()
	}
	if _, exists := tx.state.orders[o.ID]; exists {
		return Order{}, domain.ValidationError{Collection: domain.CollectionOrders, Reason: "id " + o.ID + " already exists"}
	}
	if o.Quantity <= 0 {
		return Order{}, domain.ValidationError{Collection: domain.CollectionOrders, Reason: "quantity must be positive"}
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusOpen
	}
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.orders[o.ID] = cloneOrder(o)
	tx.recordChange(Change{Collection: domain.CollectionOrders, Action: domain.ActionCreate, After: cloneOrder(o)})
	return cloneOrder(o), nil
}

// UpdateOrder mutates an existing order.
func (tx *transaction) UpdateOrder(id string, mutator func(*Order) error) (Order, error) {
	current, ok := tx.state.orders[id]
	if !ok {
		return Order{}, domain.NotFoundError{Collection: domain.CollectionOrders, ID: id}
	}
	before := cloneOrder(current)
	if err := mutator(&current); err != nil {
		return Order{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.orders[id] = cloneOrder(current)
	tx.recordChange(Change{Collection: domain.CollectionOrders, Action: domain.ActionUpdate, Before: before, After: cloneOrder(current)})
	return cloneOrder(current), nil
}

// DeleteOrder removes an order.
func (tx *transaction) DeleteOrder(id string) error {
	current, ok := tx.state.orders[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionOrders, ID: id}
	}
	delete(tx.state.orders, id)
	tx.recordChange(Change{Collection: domain.CollectionOrders, Action: domain.ActionDelete, Before: cloneOrder(current)})
	return nil
}

// FindOrder retrieves an order from the transaction state.
func (tx *transaction) FindOrder(id string) (Order, bool) {
	o, ok := tx.state.orders[id]
	if !ok {
		return Order{}, false
	}
	return cloneOrder(o), true
}

// CreateEquipment stores a new equipment record.
func (tx *transaction) CreateEquipment(e Equipment) (Equipment, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.equipment[e.ID]; exists {
		return Equipment{}, domain.ValidationError{Collection: domain.CollectionEquipment, Reason: "id " + e.ID + " already exists"}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.equipment[e.ID] = cloneEquipment(e)
	tx.recordChange(Change{Collection: domain.CollectionEquipment, Action: domain.ActionCreate, After: cloneEquipment(e)})
	return cloneEquipment(e), nil
}

// UpdateEquipment mutates an existing equipment record.
func (tx *transaction) UpdateEquipment(id string, mutator func(*Equipment) error) (Equipment, error) {
	current, ok := tx.state.equipment[id]
	if !ok {
		return Equipment{}, domain.NotFoundError{Collection: domain.CollectionEquipment, ID: id}
	}
	before := cloneEquipment(current)
	if err := mutator(&current); err != nil {
		return Equipment{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.equipment[id] = cloneEquipment(current)
	tx.recordChange(Change{Collection: domain.CollectionEquipment, Action: domain.ActionUpdate, Before: before, After: cloneEquipment(current)})
	return cloneEquipment(current), nil
}

// DeleteEquipment removes an equipment record.
func (tx *transaction) DeleteEquipment(id string) error {
	current, ok := tx.state.equipment[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionEquipment, ID: id}
	}
	delete(tx.state.equipment, id)
	tx.recordChange(Change{Collection: domain.CollectionEquipment, Action: domain.ActionDelete, Before: cloneEquipment(current)})
	return nil
}

// FindEquipment retrieves an equipment record from the transaction state.
func (tx *transaction) FindEquipment(id string) (Equipment, bool) {
	e, ok := tx.state.equipment[id]
	if !ok {
		return Equipment{}, false
	}
	return cloneEquipment(e), true
}

// CreateBooking stores a new booking.
func (tx *transaction) CreateBooking(b Booking) (Booking, error) {
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if _, exists := tx.state.bookings[b.ID]; exists {
		return Booking{}, domain.ValidationError{Collection: domain.CollectionBookings, Reason: "id " + b.ID + " already exists"}
	}
	if !b.EndTime.After(b.StartTime) {
		return Booking{}, domain.ValidationError{Collection: domain.CollectionBookings, Reason: "end time must be after start time"}
	}
	if b.Status == "" {
		b.Status = domain.BookingStatusConfirmed
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.bookings[b.ID] = cloneBooking(b)
	tx.recordChange(Change{Collection: domain.CollectionBookings, Action: domain.ActionCreate, After: cloneBooking(b)})
	return cloneBooking(b), nil
}

// UpdateBooking mutates an existing booking.
func (tx *transaction) UpdateBooking(id string, mutator func(*Booking) error) (Booking, error) {
	current, ok := tx.state.bookings[id]
	if !ok {
		return Booking{}, domain.NotFoundError{Collection: domain.CollectionBookings, ID: id}
	}
	before := cloneBooking(current)
	if err := mutator(&current); err != nil {
		return Booking{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.bookings[id] = cloneBooking(current)
	tx.recordChange(Change{Collection: domain.CollectionBookings, Action: domain.ActionUpdate, Before: before, After: cloneBooking(current)})
	return cloneBooking(current), nil
}

// DeleteBooking removes a booking.
func (tx *transaction) DeleteBooking(id string) error {
	current, ok := tx.state.bookings[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionBookings, ID: id}
	}
	delete(tx.state.bookings, id)
	tx.recordChange(Change{Collection: domain.CollectionBookings, Action: domain.ActionDelete, Before: cloneBooking(current)})
	return nil
}

// FindBooking retrieves a booking from the transaction state.
func (tx *transaction) FindBooking(id string) (Booking, bool) {
	b, ok := tx.state.bookings[id]
	if !ok {
		return Booking{}, false
	}
	return cloneBooking(b), true
}

// CreateChatRoom stores a new chat room.
func (tx *transaction) CreateChatRoom(r ChatRoom) (ChatRoom, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.chatRooms[r.ID]; exists {
		return ChatRoom{}, domain.ValidationError{Collection: domain.CollectionChatRooms, Reason: "id " + r.ID + " already exists"}
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.chatRooms[r.ID] = cloneChatRoom(r)
	tx.recordChange(Change{Collection: domain.CollectionChatRooms, Action: domain.ActionCreate, After: cloneChatRoom(r)})
	return cloneChatRoom(r), nil
}

// UpdateChatRoom mutates an existing chat room.
func (tx *transaction) UpdateChatRoom(id string, mutator func(*ChatRoom) error) (ChatRoom, error) {
	current, ok := tx.state.chatRooms[id]
	if !ok {
		return ChatRoom{}, domain.NotFoundError{Collection: domain.CollectionChatRooms, ID: id}
	}
	before := cloneChatRoom(current)
	if err := mutator(&current); err != nil {
		return ChatRoom{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.chatRooms[id] = cloneChatRoom(current)
	tx.recordChange(Change{Collection: domain.CollectionChatRooms, Action: domain.ActionUpdate, Before: before, After: cloneChatRoom(current)})
	return cloneChatRoom(current), nil
}

// DeleteChatRoom removes a chat room.
func (tx *transaction) DeleteChatRoom(id string) error {
	current, ok := tx.state.chatRooms[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionChatRooms, ID: id}
	}
	delete(tx.state.chatRooms, id)
	tx.recordChange(Change{Collection: domain.CollectionChatRooms, Action: domain.ActionDelete, Before: cloneChatRoom(current)})
	return nil
}

// FindChatRoom retrieves a chat room from the transaction state.
func (tx *transaction) FindChatRoom(id string) (ChatRoom, bool) {
	r, ok := tx.state.chatRooms[id]
	if !ok {
		return ChatRoom{}, false
	}
	return cloneChatRoom(r), true
}

// CreateChatMessage stores a new chat message. Empty reaction sets are never
// persisted.
func (tx *transaction) CreateChatMessage(m ChatMessage) (ChatMessage, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.chatMessages[m.ID]; exists {
		return ChatMessage{}, domain.ValidationError{Collection: domain.CollectionChatMessages, Reason: "id " + m.ID + " already exists"}
	}
	m.Reactions = pruneReactions(m.Reactions)
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.chatMessages[m.ID] = cloneChatMessage(m)
	tx.recordChange(Change{Collection: domain.CollectionChatMessages, Action: domain.ActionCreate, After: cloneChatMessage(m)})
	return cloneChatMessage(m), nil
}

// UpdateChatMessage mutates an existing chat message.
func (tx *transaction) UpdateChatMessage(id string, mutator func(*ChatMessage) error) (ChatMessage, error) {
	current, ok := tx.state.chatMessages[id]
	if !ok {
		return ChatMessage{}, domain.NotFoundError{Collection: domain.CollectionChatMessages, ID: id}
	}
	before := cloneChatMessage(current)
	if err := mutator(&current); err != nil {
		return ChatMessage{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	current.Reactions = pruneReactions(current.Reactions)
	tx.state.chatMessages[id] = cloneChatMessage(current)
	tx.recordChange(Change{Collection: domain.CollectionChatMessages, Action: domain.ActionUpdate, Before: before, After: cloneChatMessage(current)})
	return cloneChatMessage(current), nil
}

// DeleteChatMessage removes a chat message.
func (tx *transaction) DeleteChatMessage(id string) error {
	current, ok := tx.state.chatMessages[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionChatMessages, ID: id}
	}
	delete(tx.state.chatMessages, id)
	tx.recordChange(Change{Collection: domain.CollectionChatMessages, Action: domain.ActionDelete, Before: cloneChatMessage(current)})
	return nil
}

// FindChatMessage retrieves a chat message from the transaction state.
func (tx *transaction) FindChatMessage(id string) (ChatMessage, bool) {
	m, ok := tx.state.chatMessages[id]
	if !ok {
		return ChatMessage{}, false
	}
	return cloneChatMessage(m), true
}

// CreateLabRule stores a new lab rule.
func (tx *transaction) CreateLabRule(r LabRule) (LabRule, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.labRules[r.ID]; exists {
		return LabRule{}, domain.ValidationError{Collection: domain.CollectionLabRules, Reason: "id " + r.ID + " already exists"}
	}
	if r.Version <= 0 {
		r.Version = 1
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.labRules[r.ID] = cloneLabRule(r)
	tx.recordChange(Change{Collection: domain.CollectionLabRules, Action: domain.ActionCreate, After: cloneLabRule(r)})
	return cloneLabRule(r), nil
}

// UpdateLabRule mutates an existing lab rule.
func (tx *transaction) UpdateLabRule(id string, mutator func(*LabRule) error) (LabRule, error) {
	current, ok := tx.state.labRules[id]
	if !ok {
		return LabRule{}, domain.NotFoundError{Collection: domain.CollectionLabRules, ID: id}
	}
	before := cloneLabRule(current)
	if err := mutator(&current); err != nil {
		return LabRule{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.labRules[id] = cloneLabRule(current)
	tx.recordChange(Change{Collection: domain.CollectionLabRules, Action: domain.ActionUpdate, Before: before, After: cloneLabRule(current)})
	return cloneLabRule(current), nil
}

// DeleteLabRule removes a lab rule.
func (tx *transaction) DeleteLabRule(id string) error {
	current, ok := tx.state.labRules[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionLabRules, ID: id}
	}
	delete(tx.state.labRules, id)
	tx.recordChange(Change{Collection: domain.CollectionLabRules, Action: domain.ActionDelete, Before: cloneLabRule(current)})
	return nil
}

// FindLabRule retrieves a lab rule from the transaction state.
func (tx *transaction) FindLabRule(id string) (LabRule, bool) {
	r, ok := tx.state.labRules[id]
	if !ok {
		return LabRule{}, false
	}
	return cloneLabRule(r), true
}

// CreateGasCylinder stores a new gas cylinder record.
func (tx *transaction) CreateGasCylinder(g GasCylinder) (GasCylinder, error) {
	if g.ID == "" {
		g.ID = tx.store.newID()
	}
	if _, exists := tx.state.gasCylinders[g.ID]; exists {
		return GasCylinder{}, domain.ValidationError{Collection: domain.CollectionGasCylinders, Reason: "id " + g.ID + " already exists"}
	}
	if g.CylinderSize <= 0 {
		return GasCylinder{}, domain.ValidationError{Collection: domain.CollectionGasCylinders, Reason: "cylinder size must be positive"}
	}
	if g.CurrentLevel < 0 || g.CurrentLevel > g.CylinderSize {
		return GasCylinder{}, domain.ValidationError{Collection: domain.CollectionGasCylinders, Reason: "current level must be between zero and cylinder size"}
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.gasCylinders[g.ID] = cloneGasCylinder(g)
	tx.recordChange(Change{Collection: domain.CollectionGasCylinders, Action: domain.ActionCreate, After: cloneGasCylinder(g)})
	return cloneGasCylinder(g), nil
}

// UpdateGasCylinder mutates an existing gas cylinder record.
func (tx *transaction) UpdateGasCylinder(id string, mutator func(*GasCylinder) error) (GasCylinder, error) {
	current, ok := tx.state.gasCylinders[id]
	if !ok {
		return GasCylinder{}, domain.NotFoundError{Collection: domain.CollectionGasCylinders, ID: id}
	}
	before := cloneGasCylinder(current)
	if err := mutator(&current); err != nil {
		return GasCylinder{}, err
	}
	if current.CurrentLevel < 0 || current.CurrentLevel > current.CylinderSize {
		return GasCylinder{}, domain.ValidationError{Collection: domain.CollectionGasCylinders, Reason: "current level must be between zero and cylinder size"}
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.gasCylinders[id] = cloneGasCylinder(current)
	tx.recordChange(Change{Collection: domain.CollectionGasCylinders, Action: domain.ActionUpdate, Before: before, After: cloneGasCylinder(current)})
	return cloneGasCylinder(current), nil
}

// DeleteGasCylinder removes a gas cylinder record.
func (tx *transaction) DeleteGasCylinder(id string) error {
	current, ok := tx.state.gasCylinders[id]
	if !ok {
		return domain.NotFoundError{Collection: domain.CollectionGasCylinders, ID: id}
	}
	delete(tx.state.gasCylinders, id)
	tx.recordChange(Change{Collection: domain.CollectionGasCylinders, Action: domain.ActionDelete, Before: cloneGasCylinder(current)})
	return nil
}

// FindGasCylinder retrieves a gas cylinder from the transaction state.
func (tx *transaction) FindGasCylinder(id string) (GasCylinder, bool) {
	g, ok := tx.state.gasCylinders[id]
	if !ok {
		return GasCylinder{}, false
	}
	return cloneGasCylinder(g), true
}

// pruneReactions drops empty reaction sets without mutating the input map.
func pruneReactions(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for emoji, users := range in {
		if len(users) == 0 {
			continue
		}
		out[emoji] = append([]string(nil), users...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// transactionView exposes a read-only snapshot of transactional state.
type transactionView struct {
	state *memoryState
}

var _ domain.TransactionView = (*transactionView)(nil)

// ListConsumables returns all consumables within the snapshot.
func (v *transactionView) ListConsumables() []Consumable {
	return sortedValues(v.state.consumables, cloneConsumable)
}

// ListOrders returns all orders within the snapshot.
func (v *transactionView) ListOrders() []Order {
	return sortedValues(v.state.orders, cloneOrder)
}

// ListEquipment returns all equipment records within the snapshot.
func (v *transactionView) ListEquipment() []Equipment {
	return sortedValues(v.state.equipment, cloneEquipment)
}

// ListBookings returns all bookings within the snapshot.
func (v *transactionView) ListBookings() []Booking {
	return sortedValues(v.state.bookings, cloneBooking)
}

// ListChatRooms returns all chat rooms within the snapshot.
func (v *transactionView) ListChatRooms() []ChatRoom {
	return sortedValues(v.state.chatRooms, cloneChatRoom)
}

// ListChatMessages returns all chat messages within the snapshot.
func (v *transactionView) ListChatMessages() []ChatMessage {
	return sortedValues(v.state.chatMessages, cloneChatMessage)
}

// ListLabRules returns all lab rules within the snapshot.
func (v *transactionView) ListLabRules() []LabRule {
	return sortedValues(v.state.labRules, cloneLabRule)
}

// ListGasCylinders returns all gas cylinders within the snapshot.
func (v *transactionView) ListGasCylinders() []GasCylinder {
	return sortedValues(v.state.gasCylinders, cloneGasCylinder)
}

// FindConsumable retrieves a consumable by id from the snapshot.
func (v *transactionView) FindConsumable(id string) (Consumable, bool) {
	c, ok := v.state.consumables[id]
	if !ok {
		return Consumable{}, false
	}
	return cloneConsumable(c), true
}

// FindChatMessage retrieves a chat message by id from the snapshot.
func (v *transactionView) FindChatMessage(id string) (ChatMessage, bool) {
	m, ok := v.state.chatMessages[id]
	if !ok {
		return ChatMessage{}, false
	}
	return cloneChatMessage(m), true
}

// FindLabRule retrieves a lab rule by id from the snapshot.
func (v *transactionView) FindLabRule(id string) (LabRule, bool) {
	r, ok := v.state.labRules[id]
	if !ok {
		return LabRule{}, false
	}
	return cloneLabRule(r), true
}

// FindGasCylinder retrieves a gas cylinder by id from the snapshot.
func (v *transactionView) FindGasCylinder(id string) (GasCylinder, bool) {
	g, ok := v.state.gasCylinders[id]
	if !ok {
		return GasCylinder{}, false
	}
	return cloneGasCylinder(g), true
}
