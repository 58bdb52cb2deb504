package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"labcore/pkg/domain"
)

// fakeServer routes the pgx driver name to a file-backed sqlite database so
// the full snapshot/revision SQL path runs without a Postgres server. The
// store's statements stick to $N placeholders and ON CONFLICT upserts, which
// both engines accept.
func fakeServer(t *testing.T) (dsn string, restore func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labcore.db")
	restore = OverrideSQLOpen(func(_ string, _ string) (*sql.DB, error) {
		return sql.Open("sqlite", path)
	})
	return path, restore
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	_, restore := fakeServer(t)
	defer restore()

	store, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	var id string
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		c, err := tx.CreateConsumable(domain.Consumable{Name: "acetone", Stock: 4, MinimumStock: 1})
		if err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStore("ignored")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, ok := reopened.GetConsumable(id)
	if !ok {
		t.Fatalf("consumable %s missing after reopen", id)
	}
	if got.Name != "acetone" || got.Stock != 4 {
		t.Fatalf("unexpected consumable after reopen: %+v", got)
	}
}

func TestStoreAbortedTransactionNotPersisted(t *testing.T) {
	_, restore := fakeServer(t)
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sentinel := errors.New("boom")
	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateEquipment(domain.Equipment{Name: "centrifuge"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStore("")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	items := reopened.ListEquipment()
	if len(items) != 0 {
		t.Fatalf("expected empty equipment list, got %d", len(items))
	}
}

func TestStoreStaleRevisionConflicts(t *testing.T) {
	_, restore := fakeServer(t)
	defer restore()

	first, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore first: %v", err)
	}
	defer func() { _ = first.Close() }()
	second, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore second: %v", err)
	}
	defer func() { _ = second.Close() }()

	ctx := context.Background()
	create := func(s *Store, name string) error {
		return s.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateLabRule(domain.LabRule{Title: name})
			return err
		})
	}
	if err := create(first, "goggles required"); err != nil {
		t.Fatalf("first write: %v", err)
	}

	err = create(second, "no food in lab")
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError from stale writer, got %v", err)
	}

	// The winning writer keeps going against the advanced revision.
	if err := create(first, "log incidents"); err != nil {
		t.Fatalf("first write after conflict: %v", err)
	}
}

func TestConflictAbortsWithoutPartialWrite(t *testing.T) {
	_, restore := fakeServer(t)
	defer restore()

	first, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore first: %v", err)
	}
	defer func() { _ = first.Close() }()
	second, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore second: %v", err)
	}
	defer func() { _ = second.Close() }()

	ctx := context.Background()
	create := func(s *Store, title string) error {
		return s.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateLabRule(domain.LabRule{Title: title})
			return err
		})
	}

	var notifications int
	cancel := second.Subscribe(domain.CollectionLabRules, func([]any) { notifications++ })
	defer cancel()
	notifications = 0

	if err := create(first, "goggles required"); err != nil {
		t.Fatalf("winning write: %v", err)
	}

	err = create(second, "no food in lab")
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	// The losing write must leave no trace: not in reads, not broadcast.
	rules := second.ListLabRules()
	for _, rule := range rules {
		if rule.Title == "no food in lab" {
			t.Fatalf("aborted write visible to readers: %+v", rules)
		}
	}
	if notifications != 0 {
		t.Fatalf("aborted write broadcast %d times", notifications)
	}

	// The conflict resynced the loser to the winning snapshot, so a retry
	// starts from current state and succeeds.
	if len(rules) != 1 || rules[0].Title != "goggles required" {
		t.Fatalf("loser not resynced to winning snapshot: %+v", rules)
	}
	if err := create(second, "no food in lab"); err != nil {
		t.Fatalf("retry after conflict: %v", err)
	}
	if got := len(second.ListLabRules()); got != 2 {
		t.Fatalf("expected 2 rules after retry, got %d", got)
	}
	if notifications != 1 {
		t.Fatalf("expected 1 notification for the retried commit, got %d", notifications)
	}
}

func TestNewStoreClosesHandleOnInitFailure(t *testing.T) {
	var opened *sql.DB
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		// Parent directory does not exist, so the first real connection
		// attempt (PingContext) fails after sql.Open succeeded lazily.
		db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "missing", "labcore.db"))
		opened = db
		return db, err
	})
	defer restore()

	if _, err := NewStore(""); err == nil {
		t.Fatalf("expected init failure")
	}
	if opened == nil {
		t.Fatalf("override was not invoked")
	}
	if err := opened.Ping(); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("expected closed handle after init failure, got %v", err)
	}
}

func TestStoreSubscriptionDelegation(t *testing.T) {
	_, restore := fakeServer(t)
	defer restore()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()

	var notifications int
	cancel := store.Subscribe(domain.CollectionGasCylinders, func(records []any) {
		notifications++
	})
	defer cancel()

	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateGasCylinder(domain.GasCylinder{Gas: "N2", CylinderSize: 50, CurrentLevel: 50})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	// One replay on subscribe plus one for the committed write.
	if notifications != 2 {
		t.Fatalf("expected 2 notifications, got %d", notifications)
	}
}
