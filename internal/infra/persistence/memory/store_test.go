package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"labcore/pkg/domain"
)

func TestCreateAssignsIdentityAndTimestamps(t *testing.T) {
	store := NewStore()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })

	var created Consumable
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateConsumable(Consumable{Name: "Gloves", Unit: "box", Stock: 10})
		return err
	})
	if err != nil {
		t.Fatalf("create consumable: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected server-assigned id")
	}
	if !created.CreatedAt.Equal(fixed) || !created.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected server-assigned timestamps, got %v / %v", created.CreatedAt, created.UpdatedAt)
	}

	got, ok := store.GetConsumable(created.ID)
	if !ok || got.Stock != 10 {
		t.Fatalf("committed state mismatch: ok=%v record=%+v", ok, got)
	}
}

func TestFailedTransactionLeavesNoPartialWrite(t *testing.T) {
	store := NewStore()

	seedErr := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Tips", Stock: 5})
		return err
	})
	if seedErr != nil {
		t.Fatalf("seed: %v", seedErr)
	}

	boom := errors.New("abort")
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateConsumable(Consumable{Name: "Flasks", Stock: 3}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if got := len(store.ListConsumables()); got != 1 {
		t.Fatalf("aborted transaction leaked writes: %d consumables", got)
	}
}

func TestUpdateMissingRecordReturnsNotFound(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateConsumable("missing", func(*Consumable) error { return nil })
		return err
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Collection != domain.CollectionConsumables {
		t.Fatalf("wrong collection in error: %s", notFound.Collection)
	}
}

func TestMutatorErrorAbortsUpdate(t *testing.T) {
	store := NewStore()
	var id string
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		c, err := tx.CreateConsumable(Consumable{Name: "Ethanol", Stock: 4})
		id = c.ID
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("mutator failure")
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateConsumable(id, func(c *Consumable) error {
			c.Stock = 99
			return boom
		})
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
	got, _ := store.GetConsumable(id)
	if got.Stock != 4 {
		t.Fatalf("failed mutator leaked stock change: %d", got.Stock)
	}
}

func TestNegativeStockRejected(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Broken", Stock: -1})
		return err
	})
	var validation domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestReturnedRecordsAreClones(t *testing.T) {
	store := NewStore()
	var created ChatMessage
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateChatMessage(ChatMessage{
			RoomID:    "room-1",
			AuthorID:  "user-a",
			Body:      "hello",
			Reactions: map[string][]string{"👍": {"user-b"}},
		})
		return err
	}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	// Mutating the returned map must not leak into committed state.
	created.Reactions["👍"] = append(created.Reactions["👍"], "intruder")

	got, _ := store.GetChatMessage(created.ID)
	if len(got.Reactions["👍"]) != 1 {
		t.Fatalf("committed state aliased with returned record: %v", got.Reactions)
	}
}

func TestSubscribeReplaysAndFollowsMutations(t *testing.T) {
	store := NewStore()
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Gloves", Stock: 1})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var deliveries [][]any
	cancel := store.Subscribe(domain.CollectionConsumables, func(records []any) {
		deliveries = append(deliveries, records)
	})
	defer cancel()

	if len(deliveries) != 1 || len(deliveries[0]) != 1 {
		t.Fatalf("expected immediate replay with one record, got %v", deliveries)
	}

	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Tips", Stock: 2})
		return err
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if len(deliveries) != 2 || len(deliveries[1]) != 2 {
		t.Fatalf("expected post-mutation snapshot with two records, got %v", deliveries)
	}
}

func TestNotifyOnlyTouchedCollections(t *testing.T) {
	store := NewStore()

	var consumableEvents, orderEvents int
	c1 := store.Subscribe(domain.CollectionConsumables, func([]any) { consumableEvents++ })
	c2 := store.Subscribe(domain.CollectionOrders, func([]any) { orderEvents++ })
	defer c1()
	defer c2()
	consumableEvents, orderEvents = 0, 0

	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Gloves", Stock: 1})
		return err
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if consumableEvents != 1 || orderEvents != 0 {
		t.Fatalf("unexpected notifications: consumables=%d orders=%d", consumableEvents, orderEvents)
	}
}

func TestSubscriberCanReadStoreDuringNotification(t *testing.T) {
	store := NewStore()

	done := make(chan struct{})
	cancel := store.Subscribe(domain.CollectionConsumables, func([]any) {
		// Re-entrant reads during delivery must not deadlock.
		_ = store.ListConsumables()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer cancel()

	go func() {
		_ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := tx.CreateConsumable(Consumable{Name: "Gloves", Stock: 1})
			return err
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber read deadlocked")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore()
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateConsumable(Consumable{Name: "Gloves", Stock: 7}); err != nil {
			return err
		}
		if _, err := tx.CreateLabRule(LabRule{Title: "No food", Body: "...", Version: 2}); err != nil {
			return err
		}
		_, err := tx.CreateGasCylinder(GasCylinder{Gas: "N2", CylinderSize: 50, CurrentLevel: 30, LastMeasuredAt: time.Now().UTC()})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	restored := NewStore()
	restored.ImportState(snapshot)

	if got := len(restored.ListConsumables()); got != 1 {
		t.Fatalf("restored %d consumables", got)
	}
	if got := len(restored.ListLabRules()); got != 1 {
		t.Fatalf("restored %d lab rules", got)
	}
	if got := len(restored.ListGasCylinders()); got != 1 {
		t.Fatalf("restored %d gas cylinders", got)
	}
}

func TestOrdersSortByCreationTime(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		step := base.Add(time.Duration(i) * time.Hour)
		store.SetNowFunc(func() time.Time { return step })
		if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			_, err := tx.CreateOrder(Order{ConsumableID: "c1", Quantity: 1, RequestedBy: "user-a"})
			return err
		}); err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	orders := store.ListOrders()
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	for i := 1; i < len(orders); i++ {
		if orders[i].CreatedAt.Before(orders[i-1].CreatedAt) {
			t.Fatalf("orders out of creation order: %v", orders)
		}
	}
}

func TestViewSeesConsistentSnapshot(t *testing.T) {
	store := NewStore()
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateEquipment(Equipment{Name: "Centrifuge", Location: "Room 2"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.View(context.Background(), func(view domain.TransactionView) error {
		if got := len(view.ListEquipment()); got != 1 {
			t.Fatalf("view saw %d equipment records", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestDeleteAbsentRecordReturnsNotFound(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteBooking("missing")
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCommitHookGatesVisibility(t *testing.T) {
	store := NewStore()

	var events int
	cancel := store.Subscribe(domain.CollectionConsumables, func([]any) { events++ })
	defer cancel()
	events = 0

	var pending Snapshot
	hookErr := errors.New("durable write failed")
	store.SetCommitHook(func(_ context.Context, snap Snapshot) error {
		pending = snap
		return hookErr
	})

	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Gloves", Stock: 1})
		return err
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(pending.Consumables) != 1 {
		t.Fatalf("hook did not receive the pending state: %+v", pending)
	}
	if got := len(store.ListConsumables()); got != 0 {
		t.Fatalf("rejected commit leaked %d consumables", got)
	}
	if events != 0 {
		t.Fatalf("rejected commit was broadcast %d times", events)
	}

	hookCalls := 0
	store.SetCommitHook(func(context.Context, Snapshot) error {
		hookCalls++
		return nil
	})
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateConsumable(Consumable{Name: "Tips", Stock: 2})
		return err
	}); err != nil {
		t.Fatalf("commit with accepting hook: %v", err)
	}
	if hookCalls != 1 {
		t.Fatalf("expected one hook invocation, got %d", hookCalls)
	}
	if got := len(store.ListConsumables()); got != 1 {
		t.Fatalf("accepted commit not visible: %d consumables", got)
	}
	if events != 1 {
		t.Fatalf("accepted commit broadcast %d times", events)
	}
}

func TestSubscribeDuringCommitsNeverRegresses(t *testing.T) {
	store := NewStore()

	const writerCount = 4
	const commitsPerWriter = 25
	const subscriberCount = 8

	type observation struct {
		mu    sync.Mutex
		sizes []int
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < commitsPerWriter; j++ {
				if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
					_, err := tx.CreateConsumable(Consumable{Name: "Tips", Stock: 1})
					return err
				}); err != nil {
					t.Errorf("commit: %v", err)
					return
				}
			}
		}()
	}

	observations := make([]*observation, subscriberCount)
	cancels := make([]func(), subscriberCount)
	for i := range observations {
		obs := &observation{}
		observations[i] = obs
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			cancels[i] = store.Subscribe(domain.CollectionConsumables, func(records []any) {
				obs.mu.Lock()
				obs.sizes = append(obs.sizes, len(records))
				obs.mu.Unlock()
			})
		}(i)
	}

	close(start)
	wg.Wait()
	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}

	// The replay must slot into the notification order: a subscriber may see
	// the same snapshot twice but never one older than a snapshot it already
	// received.
	for i, obs := range observations {
		if len(obs.sizes) == 0 {
			t.Fatalf("subscriber %d received no replay", i)
		}
		for j := 1; j < len(obs.sizes); j++ {
			if obs.sizes[j] < obs.sizes[j-1] {
				t.Fatalf("subscriber %d observed snapshot shrink: %v", i, obs.sizes)
			}
		}
	}
}

func TestCancelledContextRejectsTransaction(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
