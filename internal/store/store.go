// Package store implements ConvergeAI persistence on SQLite.
//
// One Store owns the database handle; the repository views returned by
// Sessions, Bookings, Complaints, Alerts, Catalog, and Audit implement the
// interfaces in internal/types. The vector index over policy chunks uses the
// sqlite-vec extension when compiled in, with a pure-Go cosine scan fallback
// otherwise.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// Store is the SQLite-backed persistence root.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// New opens (or creates) the database at path and prepares the schema.
// Pass ":memory:" for an ephemeral store in tests.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Opening store at %s (driver=%s)", path, driverName)

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: SQLite serializes writers anyway, and one shared
	// connection keeps ":memory:" databases visible to every caller.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected; ANN queries enabled")
	} else {
		logging.Store("sqlite-vec extension not available; vector queries fall back to cosine scan")
	}

	return s, nil
}

// initialize creates all tables and indexes.
func (s *Store) initialize() error {
	for _, ddl := range []string{
		schemaSessions,
		schemaBookings,
		schemaComplaints,
		schemaAlerts,
		schemaAudit,
		schemaCatalog,
		schemaChunks,
	} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// detectVecExtension probes for vec0 virtual table support.
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store at %s", s.dbPath)
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.dbPath }

// VecEnabled reports whether sqlite-vec ANN is active.
func (s *Store) VecEnabled() bool { return s.vectorExt }

// Repository views. Each is a thin handle over the shared Store.

func (s *Store) Sessions() *SessionStore     { return &SessionStore{st: s} }
func (s *Store) Bookings() *BookingStore     { return &BookingStore{st: s} }
func (s *Store) Complaints() *ComplaintStore { return &ComplaintStore{st: s} }
func (s *Store) Alerts() *AlertStore         { return &AlertStore{st: s} }
func (s *Store) Catalog() *CatalogStore      { return &CatalogStore{st: s} }
func (s *Store) Audit() *AuditStore          { return &AuditStore{st: s} }

// Vectors returns the policy chunk index. dims fixes the embedding width;
// every upserted vector must match it.
func (s *Store) Vectors(dims int) *VectorIndex { return &VectorIndex{st: s, dims: dims} }

// =============================================================================
// SHARED HELPERS
// =============================================================================

// sqliteTimeLayout is a fixed-width UTC layout so lexicographic comparison in
// SQL matches chronological order across both drivers.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{sqliteTimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimeN(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// nullableInt64 converts *int64 for sql args.
func nullableInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// dbErr wraps a database failure, mapping lock contention to the transient
// class so callers retry it like any other upstream fault.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%s: %w: %v", op, types.ErrDatabaseTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
