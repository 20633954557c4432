// Package sqlite provides SQLite-backed persistence for ZeroLock.
// Uses modernc.org/sqlite (pure Go, no CGO).
//
// Every component owns its own tables, prefixed by component name:
//   - registry_*   challenges
//   - vault_*      balances, locks, transactions, settings
//   - judge_*      monitoring, snapshots, evaluations, settlements, disputes
//   - governance_* admin and trusted-caller memberships
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// FileName is the database file created inside the storage directory.
const FileName = "zerolock.db"

var (
	_ domain.ChallengeStore  = (*DB)(nil)
	_ domain.LedgerStore     = (*DB)(nil)
	_ domain.JudgeStore      = (*DB)(nil)
	_ domain.TargetJournal   = (*DB)(nil)
	_ domain.GovernanceStore = (*DB)(nil)
)

// DB wraps a SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database in dir and applies all migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection serializes every
	// transaction instead of surfacing SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping() error {
	return db.db.Ping()
}

func (db *DB) migrate() error {
	var stmts []string
	stmts = append(stmts, RegistryMigrations()...)
	stmts = append(stmts, VaultMigrations()...)
	stmts = append(stmts, JudgeMigrations()...)
	stmts = append(stmts, GovernanceMigrations()...)
	stmts = append(stmts, SandboxMigrations()...)

	for _, stmt := range stmts {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

// ─── Column Helpers ─────────────────────────────────────────────────────────
// Timestamps are stored as Unix nanoseconds; zero time is stored as 0.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// limitArg maps a non-positive limit to SQLite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
