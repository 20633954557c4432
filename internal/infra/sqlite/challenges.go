package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Registry Schema ────────────────────────────────────────────────────────

// RegistryMigrations returns the challenge registry's schema statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func RegistryMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS registry_challenges (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			owner          TEXT NOT NULL,
			target_address TEXT NOT NULL DEFAULT '',
			bounty         INTEGER NOT NULL,
			asset          TEXT NOT NULL,
			start_time     INTEGER NOT NULL,
			end_time       INTEGER NOT NULL,
			status         TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			difficulty     INTEGER NOT NULL,
			interface      TEXT NOT NULL,
			payload        BLOB NOT NULL,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_registry_status_end ON registry_challenges(status, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_registry_owner ON registry_challenges(owner, status)`,
		`CREATE INDEX IF NOT EXISTS idx_registry_created ON registry_challenges(created_at)`,
	}
}

// challengeColumns omits the payload; listings never need program bytes.
const challengeColumns = `id, owner, target_address, bounty, asset, start_time, end_time,
	status, description, difficulty, interface, created_at, updated_at`

// ─── Challenge Operations ───────────────────────────────────────────────────

// InsertChallenge stores a new challenge and returns its assigned id.
func (db *DB) InsertChallenge(ctx context.Context, c *domain.Challenge) (uint64, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO registry_challenges
			(owner, target_address, bounty, asset, start_time, end_time, status,
			 description, difficulty, interface, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(c.Owner), c.TargetAddress, int64(c.Bounty), string(c.Asset),
		toNanos(c.StartTime), toNanos(c.EndTime), string(c.Status),
		c.Description, c.Difficulty, c.Interface, c.Payload,
		toNanos(c.CreatedAt), toNanos(c.UpdatedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetChallenge returns the challenge with its payload, or nil if missing.
func (db *DB) GetChallenge(ctx context.Context, id uint64) (*domain.Challenge, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+`, payload
		FROM registry_challenges WHERE id = ?
	`, int64(id))

	var c domain.Challenge
	var payload []byte
	if err := scanChallenge(row, &c, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Payload = payload
	return &c, nil
}

// ListChallenges returns challenges matching f, newest-created first.
func (db *DB) ListChallenges(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, string(f.Owner))
	}
	if f.Asset != "" {
		where = append(where, "asset = ?")
		args = append(args, string(f.Asset))
	}
	if f.Difficulty != 0 {
		where = append(where, "difficulty = ?")
		args = append(args, f.Difficulty)
	}
	if f.MinBounty != 0 {
		where = append(where, "bounty >= ?")
		args = append(args, int64(f.MinBounty))
	}
	if f.MaxBounty != 0 {
		where = append(where, "bounty <= ?")
		args = append(args, int64(f.MaxBounty))
	}

	query := `SELECT ` + challengeColumns + ` FROM registry_challenges`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limitArg(f.Limit), max(f.Offset, 0))

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChallenges(rows)
}

// CountOpenChallenges counts an owner's challenges that are not terminal.
func (db *DB) CountOpenChallenges(ctx context.Context, owner domain.Identity) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registry_challenges
		WHERE owner = ? AND status IN (?, ?)
	`, string(owner), string(domain.ChallengeCreated), string(domain.ChallengeActive)).Scan(&n)
	return n, err
}

// ExpiredActiveChallenges returns at most limit Active challenges whose end
// time is at or before now, oldest deadline first.
func (db *DB) ExpiredActiveChallenges(ctx context.Context, now time.Time, limit int) ([]domain.Challenge, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM registry_challenges
		WHERE status = ? AND end_time <= ?
		ORDER BY end_time ASC, id ASC
		LIMIT ?
	`, string(domain.ChallengeActive), toNanos(now), limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChallenges(rows)
}

// ChallengeStats counts challenges per status.
func (db *DB) ChallengeStats(ctx context.Context) (domain.ChallengeStats, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM registry_challenges GROUP BY status
	`)
	if err != nil {
		return domain.ChallengeStats{}, err
	}
	defer rows.Close()

	var stats domain.ChallengeStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.ChallengeStats{}, err
		}
		stats.Total += n
		switch domain.ChallengeStatus(status) {
		case domain.ChallengeCreated:
			stats.Created = n
		case domain.ChallengeActive:
			stats.Active = n
		case domain.ChallengeCompleted:
			stats.Completed = n
		case domain.ChallengeExpired:
			stats.Expired = n
		case domain.ChallengeCancelled:
			stats.Cancelled = n
		}
	}
	return stats, rows.Err()
}

// TransitionChallenge is a compare-and-set on the status column.
func (db *DB) TransitionChallenge(ctx context.Context, id uint64, from, to domain.ChallengeStatus, at time.Time) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE registry_challenges SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), toNanos(at), int64(id), string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ActivateChallenge sets the deployed address and moves Created → Active.
func (db *DB) ActivateChallenge(ctx context.Context, id uint64, address string, at time.Time) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE registry_challenges
		SET status = ?, target_address = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.ChallengeActive), address, toNanos(at), int64(id), string(domain.ChallengeCreated))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func scanChallenge(s rowScanner, c *domain.Challenge, extra ...any) error {
	var (
		id, bounty                   int64
		owner, asset, status         string
		start, end, created, updated int64
	)
	dest := []any{&id, &owner, &c.TargetAddress, &bounty, &asset, &start, &end,
		&status, &c.Description, &c.Difficulty, &c.Interface, &created, &updated}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}
	c.ID = uint64(id)
	c.Owner = domain.Identity(owner)
	c.Bounty = uint64(bounty)
	c.Asset = domain.Asset(asset)
	c.StartTime = fromNanos(start)
	c.EndTime = fromNanos(end)
	c.Status = domain.ChallengeStatus(status)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return nil
}

func collectChallenges(rows *sql.Rows) ([]domain.Challenge, error) {
	var out []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := scanChallenge(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
