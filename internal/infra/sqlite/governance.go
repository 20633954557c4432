package sqlite

import (
	"context"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Governance Schema ──────────────────────────────────────────────────────

// GovernanceMigrations returns the authorization registry's schema statements.
func GovernanceMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS governance_members (
			role     TEXT NOT NULL,
			identity TEXT NOT NULL,
			added_at INTEGER NOT NULL,
			PRIMARY KEY (role, identity)
		)`,
	}
}

// Members lists the identities holding a role, oldest first.
func (db *DB) Members(ctx context.Context, role domain.Role) ([]domain.Identity, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT identity FROM governance_members WHERE role = ? ORDER BY added_at ASC, identity ASC
	`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, domain.Identity(id))
	}
	return out, rows.Err()
}

// AddMember grants a role. It reports false if the identity already held it.
func (db *DB) AddMember(ctx context.Context, role domain.Role, id domain.Identity, at time.Time) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO governance_members (role, identity, added_at) VALUES (?, ?, ?)
	`, string(role), string(id), toNanos(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RemoveMember revokes a role. It reports false if the identity did not hold it.
func (db *DB) RemoveMember(ctx context.Context, role domain.Role, id domain.Identity) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		DELETE FROM governance_members WHERE role = ? AND identity = ?
	`, string(role), string(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
