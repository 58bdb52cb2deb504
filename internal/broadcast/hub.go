// Package broadcast fans committed collection snapshots out to in-process
// subscribers. Delivery is synchronous and ordered by registration; a
// subscriber that panics is isolated and logged so later subscribers and the
// mutation that triggered the notification are unaffected.
package broadcast

import (
	"log/slog"
	"sync"

	"labcore/pkg/domain"
)

type subscriber struct {
	id uint64
	fn domain.SnapshotFunc
}

// CollectionStats counts deliveries for one collection.
type CollectionStats struct {
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Panics      uint64 `json:"panics"`
}

// Hub maps collection names to ordered subscriber lists. The hub does not
// order Register against Notify by itself: the store calls both under its
// notify lock so a replay is never followed by an older snapshot.
type Hub struct {
	mu        sync.RWMutex
	subs      map[domain.Collection][]subscriber
	delivered map[domain.Collection]uint64
	panics    map[domain.Collection]uint64
	nextID    uint64
	logger    *slog.Logger
}

// New constructs an empty hub.
func New() *Hub {
	return &Hub{
		subs:      make(map[domain.Collection][]subscriber),
		delivered: make(map[domain.Collection]uint64),
		panics:    make(map[domain.Collection]uint64),
		logger:    slog.Default(),
	}
}

// SetLogger overrides the logger used for panic isolation reports.
func (h *Hub) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// Register appends fn to the collection's subscriber list, replays the given
// snapshot to it before returning, and returns an idempotent remover. The
// remover takes effect before the next notification is computed; it does not
// retract snapshots already delivered. Callers serialize Register against
// Notify so the replay orders correctly with commit notifications.
func (h *Hub) Register(collection domain.Collection, fn domain.SnapshotFunc, replay []any) (cancel func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	sub := subscriber{id: id, fn: fn}
	h.subs[collection] = append(h.subs[collection], sub)
	h.mu.Unlock()

	h.deliver(collection, sub, replay)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.remove(collection, id)
		})
	}
}

// Notify delivers snapshot to every subscriber currently registered for the
// collection, in registration order. All subscribers receive the same slice.
func (h *Hub) Notify(collection domain.Collection, snapshot []any) {
	h.mu.RLock()
	targets := append([]subscriber(nil), h.subs[collection]...)
	h.mu.RUnlock()

	for _, sub := range targets {
		h.deliver(collection, sub, snapshot)
	}
}

// Stats reports per-collection subscriber counts and delivery totals.
func (h *Hub) Stats() map[domain.Collection]CollectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[domain.Collection]CollectionStats, len(h.subs))
	for collection, subs := range h.subs {
		out[collection] = CollectionStats{
			Subscribers: len(subs),
			Delivered:   h.delivered[collection],
			Panics:      h.panics[collection],
		}
	}
	for collection, n := range h.delivered {
		if _, ok := out[collection]; !ok {
			out[collection] = CollectionStats{Delivered: n, Panics: h.panics[collection]}
		}
	}
	return out
}

func (h *Hub) deliver(collection domain.Collection, sub subscriber, snapshot []any) {
	defer func() {
		if r := recover(); r != nil {
			h.mu.Lock()
			h.panics[collection]++
			logger := h.logger
			h.mu.Unlock()
			logger.Error("subscriber panicked during notification",
				slog.String("collection", string(collection)),
				slog.Uint64("subscriber_id", sub.id),
				slog.Any("panic", r))
		}
	}()
	sub.fn(snapshot)
	h.mu.Lock()
	h.delivered[collection]++
	h.mu.Unlock()
}

func (h *Hub) remove(collection domain.Collection, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[collection]
	for i, sub := range subs {
		if sub.id == id {
			h.subs[collection] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
