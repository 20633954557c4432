package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zerolock-network/zerolock/internal/codec"
	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Judge Schema ───────────────────────────────────────────────────────────

// JudgeMigrations returns the judge's schema statements.
func JudgeMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS judge_monitoring (
			challenge_id    INTEGER PRIMARY KEY,
			target          TEXT NOT NULL,
			initial_balance INTEGER NOT NULL,
			current_balance INTEGER NOT NULL,
			started_at      INTEGER NOT NULL,
			last_check      INTEGER NOT NULL,
			active          INTEGER NOT NULL DEFAULT 1,
			attack_detected INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judge_monitoring_due ON judge_monitoring(active, last_check)`,

		// Balance history, FIFO-trimmed per target on append.
		`CREATE TABLE IF NOT EXISTS judge_snapshots (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			target    TEXT NOT NULL,
			balance   INTEGER NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judge_snapshots_target ON judge_snapshots(target, id)`,

		`CREATE TABLE IF NOT EXISTS judge_evaluations (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id     INTEGER NOT NULL,
			attempt_id       INTEGER NOT NULL,
			hacker           TEXT NOT NULL,
			decision         TEXT NOT NULL,
			reasoning        TEXT NOT NULL,
			initial_balance  INTEGER NOT NULL,
			current_balance  INTEGER NOT NULL,
			decrease_percent REAL NOT NULL,
			timestamp        INTEGER NOT NULL,
			evaluator        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judge_evaluations_challenge ON judge_evaluations(challenge_id)`,

		`CREATE TABLE IF NOT EXISTS judge_settlements (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id  INTEGER NOT NULL,
			evaluation_id INTEGER NOT NULL,
			recipient     TEXT NOT NULL,
			status        TEXT NOT NULL,
			net           INTEGER NOT NULL DEFAULT 0,
			fee           INTEGER NOT NULL DEFAULT 0,
			error         TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			finished_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judge_settlements_challenge ON judge_settlements(challenge_id)`,

		`CREATE TABLE IF NOT EXISTS judge_disputes (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			challenge_id INTEGER NOT NULL,
			attempt_id   INTEGER NOT NULL,
			disputer     TEXT NOT NULL,
			reason       TEXT NOT NULL,
			evidence     BLOB,
			status       TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			resolved_at  INTEGER,
			resolution   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judge_disputes_status ON judge_disputes(status)`,
	}
}

// ─── Atomic Updates ─────────────────────────────────────────────────────────

// UpdateJudge runs fn inside one SQL transaction.
func (db *DB) UpdateJudge(ctx context.Context, fn func(tx domain.JudgeTx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&judgeTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// judgeTx implements domain.JudgeTx on a *sql.Tx.
type judgeTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (j *judgeTx) PutMonitoring(st *domain.MonitoringState) error {
	return putMonitoring(j.ctx, j.tx, st)
}

func (j *judgeTx) AppendSnapshot(snap *domain.BalanceSnapshot, limit int) error {
	return appendSnapshot(j.ctx, j.tx, snap, limit)
}

func (j *judgeTx) InsertEvaluation(e *domain.Evaluation) (uint64, error) {
	return insertEvaluation(j.ctx, j.tx, e)
}

// ─── Monitoring ─────────────────────────────────────────────────────────────

const monitoringColumns = `challenge_id, target, initial_balance, current_balance,
	started_at, last_check, active, attack_detected`

// GetMonitoring returns the monitoring state for a challenge, or nil.
func (db *DB) GetMonitoring(ctx context.Context, challengeID uint64) (*domain.MonitoringState, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT `+monitoringColumns+` FROM judge_monitoring WHERE challenge_id = ?
	`, int64(challengeID))
	st, err := scanMonitoring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PutMonitoring inserts or replaces a challenge's monitoring state.
func (db *DB) PutMonitoring(ctx context.Context, st *domain.MonitoringState) error {
	return putMonitoring(ctx, db.db, st)
}

func putMonitoring(ctx context.Context, e execer, st *domain.MonitoringState) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO judge_monitoring (`+monitoringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(challenge_id) DO UPDATE SET
			target          = excluded.target,
			initial_balance = excluded.initial_balance,
			current_balance = excluded.current_balance,
			started_at      = excluded.started_at,
			last_check      = excluded.last_check,
			active          = excluded.active,
			attack_detected = excluded.attack_detected
	`, int64(st.ChallengeID), st.Target, int64(st.InitialBalance), int64(st.CurrentBalance),
		toNanos(st.StartedAt), toNanos(st.LastCheck), boolInt(st.Active), boolInt(st.AttackDetected))
	return err
}

// DueMonitoring returns at most limit active states last checked at or before
// checkedBefore, stalest first.
func (db *DB) DueMonitoring(ctx context.Context, checkedBefore time.Time, limit int) ([]domain.MonitoringState, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+monitoringColumns+` FROM judge_monitoring
		WHERE active = 1 AND last_check <= ?
		ORDER BY last_check ASC, challenge_id ASC
		LIMIT ?
	`, toNanos(checkedBefore), limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MonitoringState
	for rows.Next() {
		st, err := scanMonitoring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanMonitoring(s rowScanner) (domain.MonitoringState, error) {
	var (
		st                                 domain.MonitoringState
		id, initial, current, started, chk int64
		active, detected                   int
	)
	if err := s.Scan(&id, &st.Target, &initial, &current, &started, &chk, &active, &detected); err != nil {
		return st, err
	}
	st.ChallengeID = uint64(id)
	st.InitialBalance = uint64(initial)
	st.CurrentBalance = uint64(current)
	st.StartedAt = fromNanos(started)
	st.LastCheck = fromNanos(chk)
	st.Active = active == 1
	st.AttackDetected = detected == 1
	return st, nil
}

// ─── Balance History ────────────────────────────────────────────────────────

// AppendSnapshot inserts a snapshot and drops the oldest entries for the same
// target so that at most limit remain.
func (db *DB) AppendSnapshot(ctx context.Context, snap *domain.BalanceSnapshot, limit int) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := appendSnapshot(ctx, tx, snap, limit); err != nil {
		return err
	}
	return tx.Commit()
}

func appendSnapshot(ctx context.Context, e execer, snap *domain.BalanceSnapshot, limit int) error {
	res, err := e.ExecContext(ctx, `
		INSERT INTO judge_snapshots (target, balance, timestamp) VALUES (?, ?, ?)
	`, snap.Target, int64(snap.Balance), toNanos(snap.Timestamp))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if limit > 0 {
		_, err = e.ExecContext(ctx, `
			DELETE FROM judge_snapshots
			WHERE target = ? AND id NOT IN (
				SELECT id FROM judge_snapshots WHERE target = ? ORDER BY id DESC LIMIT ?
			)
		`, snap.Target, snap.Target, limit)
		if err != nil {
			return err
		}
	}
	snap.ID = uint64(id)
	return nil
}

// Snapshots returns the most recent limit snapshots for target, oldest first.
func (db *DB) Snapshots(ctx context.Context, target string, limit int) ([]domain.BalanceSnapshot, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, target, balance, timestamp FROM (
			SELECT id, target, balance, timestamp FROM judge_snapshots
			WHERE target = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, target, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BalanceSnapshot
	for rows.Next() {
		var s domain.BalanceSnapshot
		var id, balance, ts int64
		if err := rows.Scan(&id, &s.Target, &balance, &ts); err != nil {
			return nil, err
		}
		s.ID = uint64(id)
		s.Balance = uint64(balance)
		s.Timestamp = fromNanos(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ─── Evaluations ────────────────────────────────────────────────────────────

// InsertEvaluation appends an evaluation to the audit trail.
func (db *DB) InsertEvaluation(ctx context.Context, e *domain.Evaluation) (uint64, error) {
	return insertEvaluation(ctx, db.db, e)
}

func insertEvaluation(ctx context.Context, x execer, e *domain.Evaluation) (uint64, error) {
	res, err := x.ExecContext(ctx, `
		INSERT INTO judge_evaluations
			(challenge_id, attempt_id, hacker, decision, reasoning, initial_balance,
			 current_balance, decrease_percent, timestamp, evaluator)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(e.ChallengeID), int64(e.AttemptID), string(e.Hacker), string(e.Decision), e.Reasoning,
		int64(e.InitialBalance), int64(e.CurrentBalance), e.DecreasePercent,
		toNanos(e.Timestamp), string(e.Evaluator))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// Evaluations returns a challenge's evaluations, newest first.
func (db *DB) Evaluations(ctx context.Context, challengeID uint64) ([]domain.Evaluation, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, challenge_id, attempt_id, hacker, decision, reasoning, initial_balance,
		       current_balance, decrease_percent, timestamp, evaluator
		FROM judge_evaluations WHERE challenge_id = ?
		ORDER BY timestamp DESC, id DESC
	`, int64(challengeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Evaluation
	for rows.Next() {
		var (
			e                                  domain.Evaluation
			id, cid, aid, initial, current, ts int64
			hacker, decision, evaluator        string
		)
		if err := rows.Scan(&id, &cid, &aid, &hacker, &decision, &e.Reasoning, &initial,
			&current, &e.DecreasePercent, &ts, &evaluator); err != nil {
			return nil, err
		}
		e.ID = uint64(id)
		e.ChallengeID = uint64(cid)
		e.AttemptID = uint64(aid)
		e.Hacker = domain.Identity(hacker)
		e.Decision = domain.Decision(decision)
		e.InitialBalance = uint64(initial)
		e.CurrentBalance = uint64(current)
		e.Timestamp = fromNanos(ts)
		e.Evaluator = domain.Identity(evaluator)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Settlements ────────────────────────────────────────────────────────────

// InsertSettlement records a requested payout.
func (db *DB) InsertSettlement(ctx context.Context, s *domain.SettlementRecord) (uint64, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO judge_settlements
			(challenge_id, evaluation_id, recipient, status, net, fee, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(s.ChallengeID), int64(s.EvaluationID), string(s.Recipient), string(s.Status),
		int64(s.Net), int64(s.Fee), s.Error, toNanos(s.CreatedAt), nullNanos(s.FinishedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// UpdateSettlement records the outcome of a payout.
func (db *DB) UpdateSettlement(ctx context.Context, s *domain.SettlementRecord) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE judge_settlements
		SET status = ?, net = ?, fee = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(s.Status), int64(s.Net), int64(s.Fee), s.Error, nullNanos(s.FinishedAt), int64(s.ID))
	return err
}

// Settlements returns a challenge's payout records, newest first.
func (db *DB) Settlements(ctx context.Context, challengeID uint64) ([]domain.SettlementRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM judge_settlements WHERE challenge_id = ?
		ORDER BY id DESC
	`, int64(challengeID))
	if err != nil {
		return nil, err
	}
	return scanSettlements(rows)
}

// PendingSettlements returns at most limit payouts that never finished,
// oldest first.
func (db *DB) PendingSettlements(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+settlementColumns+`
		FROM judge_settlements WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`, string(domain.SettlementPending), limitArg(limit))
	if err != nil {
		return nil, err
	}
	return scanSettlements(rows)
}

const settlementColumns = `id, challenge_id, evaluation_id, recipient, status, net, fee, error, created_at, finished_at`

func scanSettlements(rows *sql.Rows) ([]domain.SettlementRecord, error) {
	defer rows.Close()

	var out []domain.SettlementRecord
	for rows.Next() {
		var (
			s                               domain.SettlementRecord
			id, cid, eid, net, fee, created int64
			recipient, status               string
			finished                        sql.NullInt64
		)
		if err := rows.Scan(&id, &cid, &eid, &recipient, &status, &net, &fee, &s.Error, &created, &finished); err != nil {
			return nil, err
		}
		s.ID = uint64(id)
		s.ChallengeID = uint64(cid)
		s.EvaluationID = uint64(eid)
		s.Recipient = domain.Identity(recipient)
		s.Status = domain.SettlementStatus(status)
		s.Net = uint64(net)
		s.Fee = uint64(fee)
		s.CreatedAt = fromNanos(created)
		s.FinishedAt = fromNullNanos(finished)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ─── Disputes ───────────────────────────────────────────────────────────────

const disputeColumns = `id, challenge_id, attempt_id, disputer, reason, evidence,
	status, created_at, resolved_at, resolution`

// InsertDispute stores a new dispute. Evidence blobs are CBOR-encoded.
func (db *DB) InsertDispute(ctx context.Context, d *domain.DisputeCase) (uint64, error) {
	evidence, err := codec.Marshal(d.Evidence)
	if err != nil {
		return 0, fmt.Errorf("encode evidence: %w", err)
	}
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO judge_disputes
			(challenge_id, attempt_id, disputer, reason, evidence, status, created_at, resolved_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(d.ChallengeID), int64(d.AttemptID), string(d.Disputer), d.Reason, evidence,
		string(d.Status), toNanos(d.CreatedAt), nullNanos(d.ResolvedAt), d.Resolution)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// GetDispute returns a dispute, or nil if missing.
func (db *DB) GetDispute(ctx context.Context, id uint64) (*domain.DisputeCase, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM judge_disputes WHERE id = ?
	`, int64(id))
	d, err := scanDispute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDispute writes a dispute's status and resolution.
func (db *DB) UpdateDispute(ctx context.Context, d *domain.DisputeCase) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE judge_disputes SET status = ?, resolved_at = ?, resolution = ? WHERE id = ?
	`, string(d.Status), nullNanos(d.ResolvedAt), d.Resolution, int64(d.ID))
	return err
}

// ListDisputes returns disputes in any of the given statuses (all when none
// are given), newest first.
func (db *DB) ListDisputes(ctx context.Context, statuses ...domain.DisputeStatus) ([]domain.DisputeCase, error) {
	query := `SELECT ` + disputeColumns + ` FROM judge_disputes`
	var args []any
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, s := range statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += " WHERE status IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DisputeCase
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDispute(s rowScanner) (domain.DisputeCase, error) {
	var (
		d                     domain.DisputeCase
		id, cid, aid, created int64
		disputer, status      string
		evidence              []byte
		resolved              sql.NullInt64
	)
	if err := s.Scan(&id, &cid, &aid, &disputer, &d.Reason, &evidence, &status,
		&created, &resolved, &d.Resolution); err != nil {
		return d, err
	}
	if len(evidence) > 0 {
		if err := codec.Unmarshal(evidence, &d.Evidence); err != nil {
			return d, fmt.Errorf("decode evidence for dispute %d: %w", id, err)
		}
	}
	d.ID = uint64(id)
	d.ChallengeID = uint64(cid)
	d.AttemptID = uint64(aid)
	d.Disputer = domain.Identity(disputer)
	d.Status = domain.DisputeStatus(status)
	d.CreatedAt = fromNanos(created)
	d.ResolvedAt = fromNullNanos(resolved)
	return d, nil
}
