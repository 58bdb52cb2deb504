// Package memory provides the in-memory implementation of the labcore
// persistence contract. It owns the canonical collection state for the
// process lifetime and is the reference implementation the durable backends
// wrap for transactional semantics.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"labcore/internal/broadcast"
	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Consumable aliases domain.Consumable for in-memory persistence operations.
	Consumable = domain.Consumable
	// Order aliases domain.Order.
	Order = domain.Order
	// Equipment aliases domain.Equipment.
	Equipment = domain.Equipment
	// Booking aliases domain.Booking.
	Booking = domain.Booking
	// ChatRoom aliases domain.ChatRoom.
	ChatRoom = domain.ChatRoom
	// ChatMessage aliases domain.ChatMessage.
	ChatMessage = domain.ChatMessage
	// LabRule aliases domain.LabRule.
	LabRule = domain.LabRule
	// GasCylinder aliases domain.GasCylinder.
	GasCylinder = domain.GasCylinder
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Collection aliases domain.Collection.
	Collection = domain.Collection
)

type memoryState struct {
	consumables  map[string]Consumable
	orders       map[string]Order
	equipment    map[string]Equipment
	bookings     map[string]Booking
	chatRooms    map[string]ChatRoom
	chatMessages map[string]ChatMessage
	labRules     map[string]LabRule
	gasCylinders map[string]GasCylinder
}

func newMemoryState() memoryState {
	return memoryState{
		consumables:  make(map[string]Consumable),
		orders:       make(map[string]Order),
		equipment:    make(map[string]Equipment),
		bookings:     make(map[string]Booking),
		chatRooms:    make(map[string]ChatRoom),
		chatMessages: make(map[string]ChatMessage),
		labRules:     make(map[string]LabRule),
		gasCylinders: make(map[string]GasCylinder),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.consumables {
		cloned.consumables[k] = cloneConsumable(v)
	}
	for k, v := range s.orders {
		cloned.orders[k] = cloneOrder(v)
	}
	for k, v := range s.equipment {
		cloned.equipment[k] = cloneEquipment(v)
	}
	for k, v := range s.bookings {
		cloned.bookings[k] = cloneBooking(v)
	}
	for k, v := range s.chatRooms {
		cloned.chatRooms[k] = cloneChatRoom(v)
	}
	for k, v := range s.chatMessages {
		cloned.chatMessages[k] = cloneChatMessage(v)
	}
	for k, v := range s.labRules {
		cloned.labRules[k] = cloneLabRule(v)
	}
	for k, v := range s.gasCylinders {
		cloned.gasCylinders[k] = cloneGasCylinder(v)
	}
	return cloned
}

func cloneConsumable(c Consumable) Consumable { return c }
func cloneOrder(o Order) Order                { return o }
func cloneEquipment(e Equipment) Equipment    { return e }
func cloneBooking(b Booking) Booking          { return b }

func cloneChatRoom(r ChatRoom) ChatRoom {
	cp := r
	cp.MemberIDs = append([]string(nil), r.MemberIDs...)
	if r.LastRead != nil {
		cp.LastRead = make(map[string]time.Time, len(r.LastRead))
		for k, v := range r.LastRead {
			cp.LastRead[k] = v
		}
	}
	return cp
}

func cloneChatMessage(m ChatMessage) ChatMessage {
	cp := m
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			cp.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	return cp
}

func cloneLabRule(r LabRule) LabRule {
	cp := r
	cp.AcknowledgedBy = append([]domain.RuleAcknowledgment(nil), r.AcknowledgedBy...)
	return cp
}

func cloneGasCylinder(g GasCylinder) GasCylinder {
	cp := g
	if g.PreviousLevel != nil {
		v := *g.PreviousLevel
		cp.PreviousLevel = &v
	}
	if g.PreviousMeasuredAt != nil {
		v := *g.PreviousMeasuredAt
		cp.PreviousMeasuredAt = &v
	}
	if g.EstimatedEmptyAt != nil {
		v := *g.EstimatedEmptyAt
		cp.EstimatedEmptyAt = &v
	}
	return cp
}

// Snapshot is the JSON-serialisable export of the full store state used by the
// durable backends to persist and hydrate buckets.
type Snapshot struct {
	Consumables  map[string]Consumable  `json:"consumables"`
	Orders       map[string]Order       `json:"orders"`
	Equipment    map[string]Equipment   `json:"equipment"`
	Bookings     map[string]Booking     `json:"bookings"`
	ChatRooms    map[string]ChatRoom    `json:"chat_rooms"`
	ChatMessages map[string]ChatMessage `json:"chat_messages"`
	LabRules     map[string]LabRule     `json:"lab_rules"`
	GasCylinders map[string]GasCylinder `json:"gas_cylinders"`
}

// Store provides an in-memory transactional store for all labcore collections.
type Store struct {
	mu sync.RWMutex
	// notifyMu serializes broadcast delivery so notifications observe commit
	// order without holding the state lock across subscriber callbacks.
	notifyMu   sync.Mutex
	state      memoryState
	hub        *broadcast.Hub
	nowFn      func() time.Time
	commitHook func(context.Context, Snapshot) error
}

// NewStore constructs an empty in-memory store with its own broadcast hub.
func NewStore() *Store {
	s := &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	s.hub = broadcast.New()
	return s
}

// Hub exposes the broadcast hub for introspection (stats, logger override).
func (s *Store) Hub() *broadcast.Hub { return s.hub }

// SetNowFunc overrides the transaction time source. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// SetCommitHook installs a gate between a successful transaction body and
// the commit becoming visible. The hook receives the post-transaction state;
// when it returns an error the transaction is discarded: the canonical state
// keeps its previous value and no notification is delivered. Durable
// backends use the hook to make persistence a precondition of visibility.
func (s *Store) SetCommitHook(fn func(context.Context, Snapshot) error) {
	s.mu.Lock()
	s.commitHook = fn
	s.mu.Unlock()
}

func (s *Store) newID() string { return uuid.NewString() }

// Order ids are ULIDs so order history sorts lexically by creation time.
func (s *Store) newOrderID() string { return ulid.Make().String() }

// RunInTransaction executes fn within a transactional copy of the store state.
// On success the copy replaces the canonical state and every touched
// collection is broadcast, in commit order, to its subscribers.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.commitHook != nil {
		if err := s.commitHook(ctx, snapshotOf(tx.state)); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	s.state = tx.state
	touched := touchedCollections(tx.changes)
	snapshots := make([][]any, len(touched))
	for i, collection := range touched {
		snapshots[i] = s.collectionSnapshotLocked(collection)
	}

	// Take the notify lock before releasing the state lock so concurrent
	// commits deliver their snapshots in commit order.
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for i, collection := range touched {
		s.hub.Notify(collection, snapshots[i])
	}
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(&transactionView{state: &snapshot})
}

// Subscribe registers fn for the collection with replay-on-subscribe. The
// replay snapshot is read under the state lock and delivered under the notify
// lock, the same handoff commits use, so a subscriber never observes a
// snapshot older than one it already received.
func (s *Store) Subscribe(collection Collection, fn domain.SnapshotFunc) (cancel func()) {
	s.mu.RLock()
	replay := s.collectionSnapshotLocked(collection)
	s.notifyMu.Lock()
	s.mu.RUnlock()
	defer s.notifyMu.Unlock()
	return s.hub.Register(collection, fn, replay)
}

func touchedCollections(changes []Change) []Collection {
	seen := make(map[Collection]bool, len(changes))
	var out []Collection
	for _, change := range changes {
		if !seen[change.Collection] {
			seen[change.Collection] = true
			out = append(out, change.Collection)
		}
	}
	return out
}

func (s *Store) collectionSnapshotLocked(collection Collection) []any {
	switch collection {
	case domain.CollectionConsumables:
		return anySlice(sortedValues(s.state.consumables, cloneConsumable))
	case domain.CollectionOrders:
		return anySlice(sortedValues(s.state.orders, cloneOrder))
	case domain.CollectionEquipment:
		return anySlice(sortedValues(s.state.equipment, cloneEquipment))
	case domain.CollectionBookings:
		return anySlice(sortedValues(s.state.bookings, cloneBooking))
	case domain.CollectionChatRooms:
		return anySlice(sortedValues(s.state.chatRooms, cloneChatRoom))
	case domain.CollectionChatMessages:
		return anySlice(sortedValues(s.state.chatMessages, cloneChatMessage))
	case domain.CollectionLabRules:
		return anySlice(sortedValues(s.state.labRules, cloneLabRule))
	case domain.CollectionGasCylinders:
		return anySlice(sortedValues(s.state.gasCylinders, cloneGasCylinder))
	}
	return nil
}

type identified interface {
	Consumable | Order | Equipment | Booking | ChatRoom | ChatMessage | LabRule | GasCylinder
}

func sortedValues[T identified](m map[string]T, clone func(T) T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool { return recordKey(out[i]).Less(recordKey(out[j])) })
	return out
}

type sortKey struct {
	createdAt time.Time
	id        string
}

func (k sortKey) Less(other sortKey) bool {
	if !k.createdAt.Equal(other.createdAt) {
		return k.createdAt.Before(other.createdAt)
	}
	return k.id < other.id
}

func recordKey[T identified](v T) sortKey {
	switch r := any(v).(type) {
	case Consumable:
		return sortKey{r.CreatedAt, r.ID}
	case Order:
		return sortKey{r.CreatedAt, r.ID}
	case Equipment:
		return sortKey{r.CreatedAt, r.ID}
	case Booking:
		return sortKey{r.CreatedAt, r.ID}
	case ChatRoom:
		return sortKey{r.CreatedAt, r.ID}
	case ChatMessage:
		return sortKey{r.CreatedAt, r.ID}
	case LabRule:
		return sortKey{r.CreatedAt, r.ID}
	case GasCylinder:
		return sortKey{r.CreatedAt, r.ID}
	}
	return sortKey{}
}

func anySlice[T identified](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func snapshotOf(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Consumables:  cloned.consumables,
		Orders:       cloned.orders,
		Equipment:    cloned.equipment,
		Bookings:     cloned.bookings,
		ChatRooms:    cloned.chatRooms,
		ChatMessages: cloned.chatMessages,
		LabRules:     cloned.labRules,
		GasCylinders: cloned.gasCylinders,
	}
}

// ExportState returns a deep copy of the full store state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.state)
}

// ImportState replaces the store state with the provided snapshot. Nil buckets
// hydrate as empty collections.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for k, v := range snapshot.Consumables {
		state.consumables[k] = v
	}
	for k, v := range snapshot.Orders {
		state.orders[k] = v
	}
	for k, v := range snapshot.Equipment {
		state.equipment[k] = v
	}
	for k, v := range snapshot.Bookings {
		state.bookings[k] = v
	}
	for k, v := range snapshot.ChatRooms {
		state.chatRooms[k] = v
	}
	for k, v := range snapshot.ChatMessages {
		state.chatMessages[k] = v
	}
	for k, v := range snapshot.LabRules {
		state.labRules[k] = v
	}
	for k, v := range snapshot.GasCylinders {
		state.gasCylinders[k] = v
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Read helpers ---------------------------------------------------------------

// GetConsumable retrieves a consumable by id from committed state.
func (s *Store) GetConsumable(id string) (Consumable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.consumables[id]
	if !ok {
		return Consumable{}, false
	}
	return cloneConsumable(c), true
}

// ListConsumables returns all consumables from committed state.
func (s *Store) ListConsumables() []Consumable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.consumables, cloneConsumable)
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.state.orders[id]
	if !ok {
		return Order{}, false
	}
	return cloneOrder(o), true
}

// ListOrders returns all orders.
func (s *Store) ListOrders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.orders, cloneOrder)
}

// GetEquipment retrieves an equipment record by id.
func (s *Store) GetEquipment(id string) (Equipment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.equipment[id]
	if !ok {
		return Equipment{}, false
	}
	return cloneEquipment(e), true
}

// ListEquipment returns all equipment records.
func (s *Store) ListEquipment() []Equipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.equipment, cloneEquipment)
}

// GetBooking retrieves a booking by id.
func (s *Store) GetBooking(id string) (Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.bookings[id]
	if !ok {
		return Booking{}, false
	}
	return cloneBooking(b), true
}

// ListBookings returns all bookings.
func (s *Store) ListBookings() []Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.bookings, cloneBooking)
}

// GetChatRoom retrieves a chat room by id.
func (s *Store) GetChatRoom(id string) (ChatRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.chatRooms[id]
	if !ok {
		return ChatRoom{}, false
	}
	return cloneChatRoom(r), true
}

// ListChatRooms returns all chat rooms.
func (s *Store) ListChatRooms() []ChatRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.chatRooms, cloneChatRoom)
}

// GetChatMessage retrieves a chat message by id.
func (s *Store) GetChatMessage(id string) (ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.chatMessages[id]
	if !ok {
		return ChatMessage{}, false
	}
	return cloneChatMessage(m), true
}

// ListChatMessages returns all chat messages.
func (s *Store) ListChatMessages() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.chatMessages, cloneChatMessage)
}

// GetLabRule retrieves a lab rule by id.
func (s *Store) GetLabRule(id string) (LabRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.labRules[id]
	if !ok {
		return LabRule{}, false
	}
	return cloneLabRule(r), true
}

// ListLabRules returns all lab rules.
func (s *Store) ListLabRules() []LabRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.labRules, cloneLabRule)
}

// GetGasCylinder retrieves a gas cylinder by id.
func (s *Store) GetGasCylinder(id string) (GasCylinder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.gasCylinders[id]
	if !ok {
		return GasCylinder{}, false
	}
	return cloneGasCylinder(g), true
}

// ListGasCylinders returns all gas cylinders.
func (s *Store) ListGasCylinders() []GasCylinder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.state.gasCylinders, cloneGasCylinder)
}
