// Package store persists targets, snapshot chains, diffs and alerts in
// SQLite. All multi-row mutations run inside a single transaction; callers
// never observe a half-applied append.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/spyglass/internal/logging"
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	ErrTargetNotFound   = errors.New("target not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrAlertNotFound    = errors.New("alert not found")

	// ErrAlreadyInitialized: AppendInitial on a target that has a chain.
	ErrAlreadyInitialized = errors.New("target already has a snapshot chain")

	// ErrNoCurrentSnapshot: AppendChange on a target with no chain yet.
	ErrNoCurrentSnapshot = errors.New("target has no current snapshot")
)

// StorageError wraps a database fault so callers can tell engine failures
// apart from domain conditions like ErrTargetNotFound.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageFailure reports whether err is a wrapped database fault.
func IsStorageFailure(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Config controls the store location and the full-vs-differential policy.
type Config struct {
	// Path is the SQLite database file. Parent directories are created.
	Path string

	// FullPeriod K: version numbers congruent to 1 mod K are stored full.
	FullPeriod int

	// FullIfDiffRatio forces a full snapshot when cumulative diff bytes since
	// the last full exceed this fraction of the new HTML size.
	FullIfDiffRatio float64
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger logging.Logger
}

// New opens (creating if needed) the database at cfg.Path and applies the
// schema and pragmas.
func New(cfg Config, logger logging.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if cfg.FullPeriod <= 0 {
		cfg.FullPeriod = 5
	}
	if cfg.FullIfDiffRatio <= 0 || cfg.FullIfDiffRatio > 1 {
		cfg.FullIfDiffRatio = 0.8
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, cfg: cfg, logger: logging.OrNop(logger)}, nil
}

// applySchema sets pragmas and executes the embedded schema.
func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // better concurrency for reader-heavy API paths
		"PRAGMA synchronous=NORMAL", // balance safety and write throughput
		"PRAGMA foreign_keys=ON",    // cascade deletes depend on this
		"PRAGMA busy_timeout=5000",  // wait up to 5 seconds on a locked database
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for tests and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// rollback is the shared deferred-rollback helper: a rollback after commit
// returns sql.ErrTxDone, which is not an error condition.
func (s *Store) rollback(tx *sql.Tx) {
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		s.logger.Warn("failed to rollback transaction", logging.Err(rbErr))
	}
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
