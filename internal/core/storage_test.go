package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore()
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "")
	t.Setenv("LABCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "labcore.db"))
	store, err := OpenPersistentStore()
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenPersistentStorePostgres(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labcore.db")
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return sql.Open("sqlite", path)
	})
	defer restore()

	t.Setenv("LABCORE_STORAGE_DRIVER", "postgres")
	t.Setenv("LABCORE_POSTGRES_DSN", "postgres://example/labcore")
	store, err := OpenPersistentStore()
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	ps, ok := store.(*postgres.Store)
	if !ok {
		t.Fatalf("expected postgres store, got %T", store)
	}
	if err := ps.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateEquipment(Equipment{Name: "autoclave"})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "etcd")
	if _, err := OpenPersistentStore(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
