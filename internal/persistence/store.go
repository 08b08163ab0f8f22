// Package persistence stores run state and the spend ledger in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskweave/internal/errcode"
	"github.com/aristath/taskweave/internal/scheduler"
)

// ErrRunNotFound is returned by LoadRunState for an unknown run id.
var ErrRunNotFound = errcode.New("E7002", "run not found")

// RunSummary is a run without its tasks, for listings.
type RunSummary struct {
	ID        string
	Project   string
	Status    scheduler.RunStatus
	StartTime time.Time
	EndTime   time.Time
	CostUSD   float64
	TaskCount int
}

// Store defines the persistence interface for runs and the spend ledger.
type Store interface {
	// Run state
	SaveRunState(ctx context.Context, st scheduler.RunState) error
	LoadRunState(ctx context.Context, id string) (scheduler.RunState, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)

	// Spend ledger
	RecordSpend(ctx context.Context, rec scheduler.SpendRecord) error
	SpendSince(ctx context.Context, since time.Time) (cost float64, tokens int64, err error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dbPath, creating parent directories
// and the schema as needed. WAL mode and a busy timeout let a status command
// read while a run is writing.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates a private in-memory store for testing. Each call
// gets its own database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite applies PRAGMAs per connection; a single connection
	// keeps foreign keys on for every statement.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Times are stored as fixed-width UTC text so that string comparison in SQL
// orders them correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", ns.String, err)
	}
	return t, nil
}
