package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on session_states.recording_state
// 2 - Rewrote legacy delimited device_states to JSON
const currentSchemaVersion = 2

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrIllegalTransition is returned when an update would move a session
	// along an edge the state machine does not allow.
	ErrIllegalTransition = errors.New("store: illegal state transition")

	// ErrDuplicate is returned when inserting a session whose ID exists.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithWallClock overrides the clock used for updated_at and last_updated.
func WithWallClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithWatchInterval sets how often WatchActive re-polls when no write was
// observed. Zero disables polling; subscribers then only see local writes.
func WithWatchInterval(d time.Duration) Option {
	return func(s *Store) { s.watchInterval = d }
}

// Store provides durable storage for session state.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	watchMu       sync.Mutex
	watchers      map[chan struct{}]struct{}
	watchInterval time.Duration
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:   slog.Default(),
		now:      time.Now,
		watchers: make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db, s.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) nowMs() int64 {
	return s.now().UnixMilli()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db, logger); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the recording_state index for databases created before it
// was part of schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_session_states_state
		ON session_states(recording_state)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 rewrites legacy delimited device_states to JSON. Rows that fail
// to decode are left untouched and logged.
func migrateToV2(db *sql.DB, logger *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT session_id, device_states FROM session_states
		WHERE device_states != '' AND substr(device_states, 1, 1) != '['
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	type legacyRow struct{ id, encoded string }
	var legacy []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.encoded); err != nil {
			rows.Close()
			return fmt.Errorf("migrate to v2: %w", err)
		}
		legacy = append(legacy, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}

	for _, r := range legacy {
		states, err := DecodeLegacyDeviceStates(r.encoded)
		if err != nil {
			logger.Warn("store: legacy device states left as-is", "session_id", r.id, "error", err)
			continue
		}
		encoded, err := EncodeDeviceStates(states)
		if err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
		if _, err := tx.Exec(`UPDATE session_states SET device_states = ? WHERE session_id = ?`, encoded, r.id); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if len(legacy) > 0 {
		logger.Info("store: migrated legacy device states", "rows", len(legacy))
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// isPrimaryKeyViolation reports whether err is a SQLite primary-key conflict.
func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
