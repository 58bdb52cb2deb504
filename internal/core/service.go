package core

import (
	"context"
	"io"
	"log/slog"
	"time"

	"labcore/pkg/domain"
)

// Service exposes the transactional primitives and the per-collection adapter
// surface on top of a persistent store. All multi-record effects happen inside
// a single store transaction, so readers never observe partial writes.
type Service struct {
	store   PersistentStore
	logger  *slog.Logger
	metrics MetricsRecorder
	nowFn   func() time.Time
}

// ServiceOption customizes a Service at construction time.
type ServiceOption func(*Service)

// WithLogger sets the structured logger used for operational events.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the recorder that observes primitive outcomes.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithClock overrides the transaction timestamp source. Tests use this to pin
// acknowledgment and last-read times.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

func (s *Service) observe(ctx context.Context, operation string, started time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, s.nowFn().Sub(started))
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "primitive failed", "operation", operation, "error", err)
	}
}

// PlaceOrder atomically decrements the consumable's stock and creates the
// matching order. Locked consumables fail with LockedError, insufficient stock
// with InsufficientStockError, and in both cases nothing is written. Concurrent
// calls serialize on the store, so stock never goes negative.
func (s *Service) PlaceOrder(ctx context.Context, consumableID string, quantity int, requestedBy string, note *string) (Order, error) {
	started := s.nowFn()
	var order Order
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		consumable, ok := tx.FindConsumable(consumableID)
		if !ok {
			return domain.NotFoundError{Collection: domain.CollectionConsumables, ID: consumableID}
		}
		if quantity <= 0 {
			return domain.ValidationError{Collection: domain.CollectionOrders, Reason: "quantity must be positive"}
		}
		if consumable.IsLocked {
			return domain.LockedError{ConsumableID: consumableID}
		}
		if consumable.Stock < quantity {
			return domain.InsufficientStockError{
				ConsumableID: consumableID,
				Requested:    quantity,
				Available:    consumable.Stock,
			}
		}
		if _, err := tx.UpdateConsumable(consumableID, func(c *Consumable) error {
			c.Stock -= quantity
			return nil
		}); err != nil {
			return err
		}
		var err error
		order, err = tx.CreateOrder(Order{
			ConsumableID: consumableID,
			Quantity:     quantity,
			RequestedBy:  requestedBy,
			Status:       domain.OrderStatusOpen,
			UnitPrice:    consumable.UnitPrice,
			Note:         note,
		})
		return err
	})
	s.observe(ctx, "place_order", started, err)
	return order, err
}

// AddReaction merges userID into the emoji's reaction set on the message.
// Reacting twice with the same emoji is a no-op.
func (s *Service) AddReaction(ctx context.Context, messageID, emoji, userID string) (ChatMessage, error) {
	started := s.nowFn()
	var updated ChatMessage
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateChatMessage(messageID, func(m *ChatMessage) error {
			m.Reactions, _ = domain.AddReaction(m.Reactions, emoji, userID)
			return nil
		})
		return err
	})
	s.observe(ctx, "add_reaction", started, err)
	return updated, err
}

// RemoveReaction removes userID from the emoji's reaction set; the emoji key
// disappears when its set empties. Removing an absent reaction is a no-op.
func (s *Service) RemoveReaction(ctx context.Context, messageID, emoji, userID string) (ChatMessage, error) {
	started := s.nowFn()
	var updated ChatMessage
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateChatMessage(messageID, func(m *ChatMessage) error {
			m.Reactions, _ = domain.RemoveReaction(m.Reactions, emoji, userID)
			return nil
		})
		return err
	})
	s.observe(ctx, "remove_reaction", started, err)
	return updated, err
}

// AcknowledgeRule appends an acknowledgment for userID recording the rule's
// current version and the transaction timestamp. A user who already
// acknowledged keeps their original entry and timestamp.
func (s *Service) AcknowledgeRule(ctx context.Context, ruleID, userID string) (LabRule, error) {
	started := s.nowFn()
	now := s.nowFn()
	var updated LabRule
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateLabRule(ruleID, func(r *LabRule) error {
			for _, ack := range r.AcknowledgedBy {
				if ack.UserID == userID {
					return nil
				}
			}
			r.AcknowledgedBy = append(r.AcknowledgedBy, domain.RuleAcknowledgment{
				UserID:      userID,
				Timestamp:   now,
				RuleVersion: r.Version,
			})
			return nil
		})
		return err
	})
	s.observe(ctx, "acknowledge_rule", started, err)
	return updated, err
}

// MarkRoomRead sets the caller's last-read position in the room to the
// transaction timestamp. Other members' entries are untouched.
func (s *Service) MarkRoomRead(ctx context.Context, roomID, userID string) (ChatRoom, error) {
	started := s.nowFn()
	now := s.nowFn()
	var updated ChatRoom
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateChatRoom(roomID, func(r *ChatRoom) error {
			if r.LastRead == nil {
				r.LastRead = make(map[string]time.Time, 1)
			}
			r.LastRead[userID] = now
			return nil
		})
		return err
	})
	s.observe(ctx, "mark_room_read", started, err)
	return updated, err
}

// RecordGasReading shifts the cylinder's current reading into the previous
// slot, applies the new level, and recomputes the projected empty date from
// the two points. Levels outside [0, CylinderSize] fail with ValidationError.
func (s *Service) RecordGasReading(ctx context.Context, cylinderID string, level float64, measuredAt time.Time) (GasCylinder, error) {
	started := s.nowFn()
	if measuredAt.IsZero() {
		measuredAt = s.nowFn()
	}
	var updated GasCylinder
	err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateGasCylinder(cylinderID, func(g *GasCylinder) error {
			if level < 0 || level > g.CylinderSize {
				return domain.ValidationError{
					Collection: domain.CollectionGasCylinders,
					Reason:     "reading must be between zero and cylinder size",
				}
			}
			prevLevel := g.CurrentLevel
			prevAt := g.LastMeasuredAt
			g.PreviousLevel = &prevLevel
			g.PreviousMeasuredAt = &prevAt
			g.CurrentLevel = level
			g.LastMeasuredAt = measuredAt
			g.EstimatedEmptyAt = domain.EstimateEmptyDate(g.CurrentLevel, g.PreviousLevel, g.LastMeasuredAt, g.PreviousMeasuredAt)
			return nil
		})
		return err
	})
	s.observe(ctx, "record_gas_reading", started, err)
	return updated, err
}
