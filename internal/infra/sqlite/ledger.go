package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Vault Schema ───────────────────────────────────────────────────────────

// VaultMigrations returns the vault's schema statements.
func VaultMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS vault_balances (
			owner      TEXT NOT NULL,
			asset      TEXT NOT NULL,
			available  INTEGER NOT NULL DEFAULT 0,
			locked     INTEGER NOT NULL DEFAULT 0,
			total      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (owner, asset),
			CHECK (available >= 0 AND locked >= 0 AND total = available + locked)
		)`,

		`CREATE TABLE IF NOT EXISTS vault_locks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id INTEGER NOT NULL,
			owner        TEXT NOT NULL,
			amount       INTEGER NOT NULL,
			asset        TEXT NOT NULL,
			locked_at    INTEGER NOT NULL,
			expires_at   INTEGER NOT NULL,
			status       TEXT NOT NULL,
			released_at  INTEGER
		)`,
		// At most one Active lock per challenge, enforced by the engine too.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_vault_locks_active
			ON vault_locks(challenge_id) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS idx_vault_locks_expiry ON vault_locks(status, expires_at)`,

		`CREATE TABLE IF NOT EXISTS vault_transactions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			type         TEXT NOT NULL,
			challenge_id INTEGER NOT NULL DEFAULT 0,
			from_id      TEXT NOT NULL,
			to_id        TEXT NOT NULL,
			amount       INTEGER NOT NULL,
			asset        TEXT NOT NULL,
			timestamp    INTEGER NOT NULL,
			status       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_tx_from ON vault_transactions(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_tx_to ON vault_transactions(to_id)`,

		`CREATE TABLE IF NOT EXISTS vault_settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
}

const lockColumns = `id, challenge_id, owner, amount, asset, locked_at, expires_at, status, released_at`

const txColumns = `id, type, challenge_id, from_id, to_id, amount, asset, timestamp, status`

// ─── Atomic Updates ─────────────────────────────────────────────────────────

// UpdateLedger runs fn inside one SQL transaction.
func (db *DB) UpdateLedger(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ledgerTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// ledgerTx implements domain.LedgerTx on a *sql.Tx.
type ledgerTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (l *ledgerTx) Balance(owner domain.Identity, asset domain.Asset) (domain.Balance, error) {
	return getBalance(l.ctx, l.tx, owner, asset)
}

func (l *ledgerTx) PutBalance(b domain.Balance) error {
	if !b.Consistent() {
		return fmt.Errorf("balance %s/%s violates total == available + locked", b.Owner, b.Asset)
	}
	if b.Total > domain.MaxAmount {
		return fmt.Errorf("%w: balance exceeds maximum amount", domain.ErrInvalidInput)
	}
	_, err := l.tx.ExecContext(l.ctx, `
		INSERT INTO vault_balances (owner, asset, available, locked, total)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner, asset) DO UPDATE SET
			available = excluded.available,
			locked    = excluded.locked,
			total     = excluded.total
	`, string(b.Owner), string(b.Asset), int64(b.Available), int64(b.Locked), int64(b.Total))
	return err
}

func (l *ledgerTx) ActiveLock(challengeID uint64) (*domain.LockInfo, error) {
	row := l.tx.QueryRowContext(l.ctx, `
		SELECT `+lockColumns+` FROM vault_locks
		WHERE challenge_id = ? AND status = ?
	`, int64(challengeID), string(domain.LockActive))
	return scanLockRow(row)
}

func (l *ledgerTx) InsertLock(lk *domain.LockInfo) (uint64, error) {
	res, err := l.tx.ExecContext(l.ctx, `
		INSERT INTO vault_locks (challenge_id, owner, amount, asset, locked_at, expires_at, status, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(lk.ChallengeID), string(lk.Owner), int64(lk.Amount), string(lk.Asset),
		toNanos(lk.LockedAt), toNanos(lk.ExpiresAt), string(lk.Status), nullNanos(lk.ReleasedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

func (l *ledgerTx) UpdateLock(lk *domain.LockInfo) error {
	_, err := l.tx.ExecContext(l.ctx, `
		UPDATE vault_locks SET status = ?, released_at = ? WHERE id = ?
	`, string(lk.Status), nullNanos(lk.ReleasedAt), int64(lk.ID))
	return err
}

func (l *ledgerTx) AppendTransaction(t *domain.Transaction) (uint64, error) {
	res, err := l.tx.ExecContext(l.ctx, `
		INSERT INTO vault_transactions (type, challenge_id, from_id, to_id, amount, asset, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(t.Type), int64(t.ChallengeID), string(t.From), string(t.To),
		int64(t.Amount), string(t.Asset), toNanos(t.Timestamp), string(t.Status))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// ─── Ledger Reads ───────────────────────────────────────────────────────────

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getBalance(ctx context.Context, q queryer, owner domain.Identity, asset domain.Asset) (domain.Balance, error) {
	b := domain.Balance{Owner: owner, Asset: asset}
	var available, locked, total int64
	err := q.QueryRowContext(ctx, `
		SELECT available, locked, total FROM vault_balances WHERE owner = ? AND asset = ?
	`, string(owner), string(asset)).Scan(&available, &locked, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, err
	}
	b.Available, b.Locked, b.Total = uint64(available), uint64(locked), uint64(total)
	return b, nil
}

// GetBalance returns the balance for (owner, asset); missing balances are zero.
func (db *DB) GetBalance(ctx context.Context, owner domain.Identity, asset domain.Asset) (domain.Balance, error) {
	return getBalance(ctx, db.db, owner, asset)
}

// LatestLock returns the most recent lock for a challenge, or nil.
func (db *DB) LatestLock(ctx context.Context, challengeID uint64) (*domain.LockInfo, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT `+lockColumns+` FROM vault_locks
		WHERE challenge_id = ? ORDER BY id DESC LIMIT 1
	`, int64(challengeID))
	return scanLockRow(row)
}

// ExpiredLocks returns at most limit Active locks whose expiry has passed.
func (db *DB) ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]domain.LockInfo, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+lockColumns+` FROM vault_locks
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC, id ASC
		LIMIT ?
	`, string(domain.LockActive), toNanos(now), limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LockInfo
	for rows.Next() {
		lk, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lk)
	}
	return out, rows.Err()
}

// Transactions returns entries where party is sender or receiver, newest first.
func (db *DB) Transactions(ctx context.Context, party domain.Identity, offset, limit int) ([]domain.Transaction, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM vault_transactions
		WHERE from_id = ? OR to_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, string(party), string(party), limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t                           domain.Transaction
			id, challengeID, amount, ts int64
			typ, from, to, asset, st    string
		)
		if err := rows.Scan(&id, &typ, &challengeID, &from, &to, &amount, &asset, &ts, &st); err != nil {
			return nil, err
		}
		t.ID = uint64(id)
		t.Type = domain.TransactionType(typ)
		t.ChallengeID = uint64(challengeID)
		t.From = domain.Identity(from)
		t.To = domain.Identity(to)
		t.Amount = uint64(amount)
		t.Asset = domain.Asset(asset)
		t.Timestamp = fromNanos(ts)
		t.Status = domain.TransactionStatus(st)
		out = append(out, t)
	}
	return out, rows.Err()
}

// VaultStats aggregates active locks and transaction volume.
func (db *DB) VaultStats(ctx context.Context) (domain.VaultStats, error) {
	var stats domain.VaultStats
	var locked, volume int64

	err := db.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM vault_locks WHERE status = ?
	`, string(domain.LockActive)).Scan(&locked, &stats.ActiveLocks)
	if err != nil {
		return stats, err
	}
	err = db.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM vault_transactions
	`).Scan(&stats.TotalTransactions, &volume)
	if err != nil {
		return stats, err
	}
	stats.TotalLocked = uint64(locked)
	stats.TotalVolume = uint64(volume)
	return stats, nil
}

// ─── Settings ───────────────────────────────────────────────────────────────

// Setting reads a vault setting. ok is false when the key was never written.
func (db *DB) Setting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.db.QueryRowContext(ctx, `SELECT value FROM vault_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting writes a vault setting.
func (db *DB) PutSetting(ctx context.Context, key, value string) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO vault_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func scanLock(s rowScanner) (domain.LockInfo, error) {
	var (
		lk                                   domain.LockInfo
		id, challengeID, amount, at, expires int64
		owner, asset, status                 string
		released                             sql.NullInt64
	)
	if err := s.Scan(&id, &challengeID, &owner, &amount, &asset, &at, &expires, &status, &released); err != nil {
		return lk, err
	}
	lk.ID = uint64(id)
	lk.ChallengeID = uint64(challengeID)
	lk.Owner = domain.Identity(owner)
	lk.Amount = uint64(amount)
	lk.Asset = domain.Asset(asset)
	lk.LockedAt = fromNanos(at)
	lk.ExpiresAt = fromNanos(expires)
	lk.Status = domain.LockStatus(status)
	lk.ReleasedAt = fromNullNanos(released)
	return lk, nil
}

func scanLockRow(row *sql.Row) (*domain.LockInfo, error) {
	lk, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lk, nil
}
