package sqlite

import (
	"context"
	"fmt"

	"github.com/zerolock-network/zerolock/internal/codec"
	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Target Journal ─────────────────────────────────────────────────────────

// SandboxMigrations returns the target journal's schema statements.
func SandboxMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sandbox_calls (
			target   TEXT NOT NULL,
			seq      INTEGER NOT NULL,
			function TEXT NOT NULL,
			args     BLOB,
			PRIMARY KEY (target, seq)
		)`,
	}
}

// AppendTargetCall adds call to the end of address's journal. Arguments are
// CBOR-encoded.
func (db *DB) AppendTargetCall(ctx context.Context, address string, call domain.TargetCall) error {
	args, err := codec.Marshal(call.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO sandbox_calls (target, seq, function, args)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sandbox_calls WHERE target = ?), ?, ?)
	`, address, address, call.Function, args)
	return err
}

// TargetCalls returns address's journal in the order it was written.
func (db *DB) TargetCalls(ctx context.Context, address string) ([]domain.TargetCall, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT seq, function, args FROM sandbox_calls WHERE target = ? ORDER BY seq ASC
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TargetCall
	for rows.Next() {
		var (
			c    domain.TargetCall
			seq  int64
			args []byte
		)
		if err := rows.Scan(&seq, &c.Function, &args); err != nil {
			return nil, err
		}
		if len(args) > 0 {
			if err := codec.Unmarshal(args, &c.Args); err != nil {
				return nil, fmt.Errorf("decode args of %s call %d: %w", address, seq, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteTargetCalls drops address's journal.
func (db *DB) DeleteTargetCalls(ctx context.Context, address string) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM sandbox_calls WHERE target = ?`, address)
	return err
}
