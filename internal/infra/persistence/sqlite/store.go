// Package sqlite provides a SQLite-backed persistent store that snapshots the
// in-memory state to a single table as JSON blobs after every successful
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to SQLite. Transactional semantics come
// from the embedded memory store; durability comes from the snapshot table.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "labcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.UnavailableError{Driver: "sqlite", Err: err}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// RunInTransaction applies fn via the memory store, then snapshots to SQLite.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the SQLite file backing the store.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := bucketTargets(&snapshot)
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for bucket, payload := range bucketPayloads(snapshot) {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// bucketTargets maps bucket names to the snapshot fields they hydrate.
func bucketTargets(snapshot *memory.Snapshot) map[string]any {
	return map[string]any{
		string(domain.CollectionConsumables):  &snapshot.Consumables,
		string(domain.CollectionOrders):       &snapshot.Orders,
		string(domain.CollectionEquipment):    &snapshot.Equipment,
		string(domain.CollectionBookings):     &snapshot.Bookings,
		string(domain.CollectionChatRooms):    &snapshot.ChatRooms,
		string(domain.CollectionChatMessages): &snapshot.ChatMessages,
		string(domain.CollectionLabRules):     &snapshot.LabRules,
		string(domain.CollectionGasCylinders): &snapshot.GasCylinders,
	}
}

// bucketPayloads maps bucket names to the snapshot values they persist.
func bucketPayloads(snapshot memory.Snapshot) map[string]any {
	return map[string]any{
		string(domain.CollectionConsumables):  snapshot.Consumables,
		string(domain.CollectionOrders):       snapshot.Orders,
		string(domain.CollectionEquipment):    snapshot.Equipment,
		string(domain.CollectionBookings):     snapshot.Bookings,
		string(domain.CollectionChatRooms):    snapshot.ChatRooms,
		string(domain.CollectionChatMessages): snapshot.ChatMessages,
		string(domain.CollectionLabRules):     snapshot.LabRules,
		string(domain.CollectionGasCylinders): snapshot.GasCylinders,
	}
}
