// Package postgres provides the remote persistent store. It mirrors the
// in-memory semantics and persists every committed snapshot as JSONB buckets
// inside one native SQL transaction, guarded by a revision row so that
// competing writers surface as conflicts instead of silent lost updates.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/labcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactional semantics.
type Store struct {
	*memory.Store
	db       *sql.DB
	mu       sync.Mutex
	revision int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the snapshot tables exist, and hydrates the in-memory
// store from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, domain.UnavailableError{Driver: "postgres", Err: err}
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.UnavailableError{Driver: "postgres", Err: err}
	}
	if err := ensureTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Durability gates visibility: the snapshot write must succeed before the
	// memory commit replaces canonical state or reaches subscribers.
	s.Store.SetCommitHook(s.persist)
	return s, nil
}

// RunInTransaction applies fn via the memory store. The commit hook snapshots
// the pending state to Postgres before the commit becomes visible; a revision
// mismatch there means another process persisted first, so the transaction
// aborts with ConflictError and this store resyncs to the winner's snapshot
// so that a retry starts from current state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	err := s.Store.RunInTransaction(ctx, fn)
	var conflict domain.ConflictError
	if errors.As(err, &conflict) {
		if rerr := s.reload(ctx); rerr != nil {
			return errors.Join(err, fmt.Errorf("resync after conflict: %w", rerr))
		}
	}
	return err
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_revision (
			id INT PRIMARY KEY,
			revision BIGINT NOT NULL
		)`,
		`INSERT INTO state_revision(id, revision) VALUES(1, 0) ON CONFLICT(id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure state tables: %w", err)
		}
	}
	return nil
}

// reload rehydrates the in-memory state and revision counter from the
// database. Called at construction and again after a revision conflict so the
// next transaction runs against the winning writer's snapshot.
func (s *Store) reload(ctx context.Context) error {
	var revision int64
	if err := s.db.QueryRowContext(ctx, `SELECT revision FROM state_revision WHERE id = 1`).Scan(&revision); err != nil {
		return fmt.Errorf("read revision: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := map[string]any{
		string(domain.CollectionConsumables):  &snapshot.Consumables,
		string(domain.CollectionOrders):       &snapshot.Orders,
		string(domain.CollectionEquipment):    &snapshot.Equipment,
		string(domain.CollectionBookings):     &snapshot.Bookings,
		string(domain.CollectionChatRooms):    &snapshot.ChatRooms,
		string(domain.CollectionChatMessages): &snapshot.ChatMessages,
		string(domain.CollectionLabRules):     &snapshot.LabRules,
		string(domain.CollectionGasCylinders): &snapshot.GasCylinders,
	}
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
	s.mu.Lock()
	s.revision = revision
	s.mu.Unlock()
	return nil
}

// persist runs as the memory store's commit hook: it receives the
// post-transaction snapshot and writes it inside one native transaction. An
// error return aborts the in-memory commit.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Conditional write: the revision bump only succeeds when nobody else
	// persisted since this store last loaded or wrote.
	res, err := tx.ExecContext(ctx, `UPDATE state_revision SET revision = revision + 1 WHERE id = 1 AND revision = $1`, s.revision)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if affected == 0 {
		return domain.ConflictError{Detail: fmt.Sprintf("snapshot revision %d is stale", s.revision)}
	}

	payloads := map[string]any{
		string(domain.CollectionConsumables):  snapshot.Consumables,
		string(domain.CollectionOrders):       snapshot.Orders,
		string(domain.CollectionEquipment):    snapshot.Equipment,
		string(domain.CollectionBookings):     snapshot.Bookings,
		string(domain.CollectionChatRooms):    snapshot.ChatRooms,
		string(domain.CollectionChatMessages): snapshot.ChatMessages,
		string(domain.CollectionLabRules):     snapshot.LabRules,
		string(domain.CollectionGasCylinders): snapshot.GasCylinders,
	}
	for bucket, payload := range payloads {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.revision++
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
