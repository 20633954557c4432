package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Store Tests
// ═══════════════════════════════════════════════════════════════════════════

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestOpen_CreatesTables(t *testing.T) {
	db := newTestDB(t)

	tables := []string{
		"registry_challenges",
		"vault_balances",
		"vault_locks",
		"vault_transactions",
		"vault_settings",
		"judge_monitoring",
		"judge_snapshots",
		"judge_evaluations",
		"judge_settlements",
		"judge_disputes",
		"governance_members",
		"sandbox_calls",
	}
	for _, table := range tables {
		var name string
		err := db.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := db.AddMember(context.Background(), domain.RoleAdmin, "root", t0); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db.Close()
	admins, err := db.Members(context.Background(), domain.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if len(admins) != 1 || admins[0] != "root" {
		t.Errorf("admins after reopen = %v, want [root]", admins)
	}
}

// ─── Challenges ─────────────────────────────────────────────────────────────

func insertChallenge(t *testing.T, db *DB, owner domain.Identity, created time.Time) uint64 {
	t.Helper()
	id, err := db.InsertChallenge(context.Background(), &domain.Challenge{
		Owner:       owner,
		Bounty:      2_000_000,
		Asset:       domain.AssetNative,
		StartTime:   created,
		EndTime:     created.Add(48 * time.Hour),
		Status:      domain.ChallengeCreated,
		Description: "vault contract",
		Difficulty:  3,
		Interface:   "service : {}",
		Payload:     []byte{0x00, 0x61, 0x73, 0x6d},
		CreatedAt:   created,
		UpdatedAt:   created,
	})
	if err != nil {
		t.Fatalf("InsertChallenge() error: %v", err)
	}
	return id
}

func TestChallenges_InsertGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id := insertChallenge(t, db, "acme", t0)
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}
	if next := insertChallenge(t, db, "acme", t0); next != 2 {
		t.Errorf("second id = %d, want 2", next)
	}

	c, err := db.GetChallenge(ctx, id)
	if err != nil {
		t.Fatalf("GetChallenge() error: %v", err)
	}
	if c == nil {
		t.Fatal("GetChallenge() = nil")
	}
	if c.Owner != "acme" || c.Bounty != 2_000_000 || c.Status != domain.ChallengeCreated {
		t.Errorf("challenge = %+v", c)
	}
	if !c.EndTime.Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("EndTime = %v, want %v", c.EndTime, t0.Add(48*time.Hour))
	}
	if len(c.Payload) != 4 {
		t.Errorf("payload len = %d, want 4", len(c.Payload))
	}

	missing, err := db.GetChallenge(ctx, 99)
	if err != nil || missing != nil {
		t.Errorf("GetChallenge(99) = %v, %v; want nil, nil", missing, err)
	}
}

func TestChallenges_ListNewestFirstAndPaginate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		insertChallenge(t, db, "acme", t0.Add(time.Duration(i)*time.Minute))
	}
	insertChallenge(t, db, "globex", t0.Add(10*time.Minute))

	all, err := db.ListChallenges(ctx, domain.ChallengeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("len = %d, want 6", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Errorf("listing not newest-first at %d", i)
		}
	}
	if all[0].Payload != nil {
		t.Error("listing should not load payloads")
	}

	page, _ := db.ListChallenges(ctx, domain.ChallengeFilter{Owner: "acme", Offset: 1, Limit: 2})
	if len(page) != 2 || page[0].ID != 4 || page[1].ID != 3 {
		t.Errorf("page = %v, want ids [4 3]", ids(page))
	}

	empty, _ := db.ListChallenges(ctx, domain.ChallengeFilter{Offset: 6})
	if len(empty) != 0 {
		t.Errorf("offset past end returned %d items", len(empty))
	}
}

func ids(cs []domain.Challenge) []uint64 {
	out := make([]uint64, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestChallenges_TransitionIsCompareAndSet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id := insertChallenge(t, db, "acme", t0)

	ok, err := db.ActivateChallenge(ctx, id, "target-1", t0.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("ActivateChallenge() = %v, %v", ok, err)
	}
	ok, _ = db.ActivateChallenge(ctx, id, "target-2", t0.Add(2*time.Minute))
	if ok {
		t.Error("second ActivateChallenge() should not match")
	}

	ok, _ = db.TransitionChallenge(ctx, id, domain.ChallengeCreated, domain.ChallengeCancelled, t0)
	if ok {
		t.Error("transition from stale status should not match")
	}
	ok, _ = db.TransitionChallenge(ctx, id, domain.ChallengeActive, domain.ChallengeExpired, t0.Add(time.Hour))
	if !ok {
		t.Error("Active → Expired should match")
	}

	c, _ := db.GetChallenge(ctx, id)
	if c.Status != domain.ChallengeExpired || c.TargetAddress != "target-1" {
		t.Errorf("challenge = %s/%s, want EXPIRED/target-1", c.Status, c.TargetAddress)
	}
}

func TestChallenges_ExpiredActiveAndStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := insertChallenge(t, db, "acme", t0)
		db.ActivateChallenge(ctx, id, "target", t0)
	}
	insertChallenge(t, db, "acme", t0)

	due, err := db.ExpiredActiveChallenges(ctx, t0.Add(49*time.Hour), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Errorf("len(due) = %d, want 2 (bounded)", len(due))
	}
	none, _ := db.ExpiredActiveChallenges(ctx, t0.Add(time.Hour), 10)
	if len(none) != 0 {
		t.Errorf("nothing should be due yet, got %d", len(none))
	}

	open, _ := db.CountOpenChallenges(ctx, "acme")
	if open != 4 {
		t.Errorf("open = %d, want 4", open)
	}

	stats, err := db.ChallengeStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 4 || stats.Active != 3 || stats.Created != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func TestLedger_UpdateCommitsAtomically(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		b, err := tx.Balance("acme", domain.AssetNative)
		if err != nil {
			return err
		}
		b.Available, b.Total = 100, 100
		if err := tx.PutBalance(b); err != nil {
			return err
		}
		_, err = tx.AppendTransaction(&domain.Transaction{
			Type: domain.TxLock, From: "acme", To: "vault", Amount: 100,
			Asset: domain.AssetNative, Timestamp: t0, Status: domain.TxCompleted,
		})
		return err
	})
	if err != nil {
		t.Fatalf("UpdateLedger() error: %v", err)
	}

	boom := errors.New("boom")
	err = db.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		b, _ := tx.Balance("acme", domain.AssetNative)
		b.Available, b.Total = 0, 0
		if err := tx.PutBalance(b); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateLedger() error = %v, want boom", err)
	}

	b, _ := db.GetBalance(ctx, "acme", domain.AssetNative)
	if b.Available != 100 || b.Total != 100 {
		t.Errorf("balance after rollback = %+v, want 100/100", b)
	}

	txs, _ := db.Transactions(ctx, "vault", 0, 10)
	if len(txs) != 1 || txs[0].Amount != 100 {
		t.Errorf("transactions = %+v", txs)
	}
}

func TestLedger_PutBalanceRejectsInconsistent(t *testing.T) {
	db := newTestDB(t)
	err := db.UpdateLedger(context.Background(), func(tx domain.LedgerTx) error {
		return tx.PutBalance(domain.Balance{Owner: "acme", Asset: domain.AssetNative, Available: 1, Locked: 1, Total: 3})
	})
	if err == nil {
		t.Error("inconsistent balance should be rejected")
	}
}

func TestLedger_SingleActiveLockPerChallenge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	lock := func() error {
		return db.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
			_, err := tx.InsertLock(&domain.LockInfo{
				ChallengeID: 7, Owner: "acme", Amount: 10, Asset: domain.AssetNative,
				LockedAt: t0, ExpiresAt: t0.Add(time.Hour), Status: domain.LockActive,
			})
			return err
		})
	}
	if err := lock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := lock(); err == nil {
		t.Fatal("second Active lock for the same challenge should violate the unique index")
	}

	// Releasing the first lock frees the slot.
	err := db.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		lk, err := tx.ActiveLock(7)
		if err != nil || lk == nil {
			t.Fatalf("ActiveLock() = %v, %v", lk, err)
		}
		released := t0.Add(time.Minute)
		lk.Status, lk.ReleasedAt = domain.LockReleased, &released
		return tx.UpdateLock(lk)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := lock(); err != nil {
		t.Errorf("lock after release: %v", err)
	}

	latest, _ := db.LatestLock(ctx, 7)
	if latest == nil || latest.ID != 2 || latest.Status != domain.LockActive {
		t.Errorf("LatestLock() = %+v, want id 2 ACTIVE", latest)
	}

	expired, _ := db.ExpiredLocks(ctx, t0.Add(2*time.Hour), 10)
	if len(expired) != 1 || expired[0].ID != 2 {
		t.Errorf("ExpiredLocks() = %+v, want lock 2", expired)
	}

	stats, _ := db.VaultStats(ctx)
	if stats.ActiveLocks != 1 || stats.TotalLocked != 10 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLedger_Settings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.Setting(ctx, "paused"); ok || err != nil {
		t.Errorf("missing setting: ok=%v err=%v", ok, err)
	}
	db.PutSetting(ctx, "paused", "true")
	db.PutSetting(ctx, "paused", "false")
	v, ok, _ := db.Setting(ctx, "paused")
	if !ok || v != "false" {
		t.Errorf("Setting(paused) = %q, %v", v, ok)
	}
}

// ─── Judge ──────────────────────────────────────────────────────────────────

func TestJudge_SnapshotHistoryIsFIFOBounded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		snap := &domain.BalanceSnapshot{Target: "target-a", Balance: uint64(i), Timestamp: t0.Add(time.Duration(i) * time.Second)}
		if err := db.AppendSnapshot(ctx, snap, 5); err != nil {
			t.Fatalf("AppendSnapshot(%d): %v", i, err)
		}
	}
	db.AppendSnapshot(ctx, &domain.BalanceSnapshot{Target: "target-b", Balance: 99, Timestamp: t0}, 5)

	snaps, err := db.Snapshots(ctx, "target-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 5 {
		t.Fatalf("len = %d, want 5", len(snaps))
	}
	if snaps[0].Balance != 3 || snaps[4].Balance != 7 {
		t.Errorf("history = %d..%d, want 3..7 (oldest evicted first)", snaps[0].Balance, snaps[4].Balance)
	}

	recent, _ := db.Snapshots(ctx, "target-a", 2)
	if len(recent) != 2 || recent[0].Balance != 6 || recent[1].Balance != 7 {
		t.Errorf("recent = %+v, want balances 6,7", recent)
	}

	other, _ := db.Snapshots(ctx, "target-b", 0)
	if len(other) != 1 {
		t.Errorf("target-b history = %d, want 1 (per-target trimming)", len(other))
	}
}

func TestJudge_MonitoringDue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.PutMonitoring(ctx, &domain.MonitoringState{ChallengeID: 1, Target: "a", InitialBalance: 10, CurrentBalance: 10, StartedAt: t0, LastCheck: t0, Active: true})
	db.PutMonitoring(ctx, &domain.MonitoringState{ChallengeID: 2, Target: "b", StartedAt: t0, LastCheck: t0.Add(time.Hour), Active: true})
	db.PutMonitoring(ctx, &domain.MonitoringState{ChallengeID: 3, Target: "c", StartedAt: t0, LastCheck: t0, Active: false})

	due, err := db.DueMonitoring(ctx, t0.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ChallengeID != 1 {
		t.Errorf("due = %+v, want challenge 1 only", due)
	}

	st, _ := db.GetMonitoring(ctx, 1)
	st.AttackDetected = true
	st.CurrentBalance = 5
	db.PutMonitoring(ctx, st)
	got, _ := db.GetMonitoring(ctx, 1)
	if !got.AttackDetected || got.CurrentBalance != 5 || got.InitialBalance != 10 {
		t.Errorf("monitoring = %+v", got)
	}
}

func TestJudge_UpdateRollsBackEveryWrite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	st := &domain.MonitoringState{ChallengeID: 1, Target: "a", InitialBalance: 10, CurrentBalance: 10, StartedAt: t0, LastCheck: t0, Active: true}
	if err := db.PutMonitoring(ctx, st); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := db.UpdateJudge(ctx, func(tx domain.JudgeTx) error {
		if err := tx.AppendSnapshot(&domain.BalanceSnapshot{Target: "a", Balance: 1, Timestamp: t0}, 10); err != nil {
			return err
		}
		if _, err := tx.InsertEvaluation(&domain.Evaluation{ChallengeID: 1, Hacker: "mallory", Decision: domain.DecisionValid, Timestamp: t0, Evaluator: "judge"}); err != nil {
			return err
		}
		changed := *st
		changed.CurrentBalance = 1
		if err := tx.PutMonitoring(&changed); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("UpdateJudge() error = %v, want boom", err)
	}

	if snaps, _ := db.Snapshots(ctx, "a", 0); len(snaps) != 0 {
		t.Errorf("snapshots after rollback = %+v, want none", snaps)
	}
	if evals, _ := db.Evaluations(ctx, 1); len(evals) != 0 {
		t.Errorf("evaluations after rollback = %+v, want none", evals)
	}
	if got, _ := db.GetMonitoring(ctx, 1); got.CurrentBalance != 10 {
		t.Errorf("current balance after rollback = %d, want 10", got.CurrentBalance)
	}

	err = db.UpdateJudge(ctx, func(tx domain.JudgeTx) error {
		return tx.AppendSnapshot(&domain.BalanceSnapshot{Target: "a", Balance: 7, Timestamp: t0}, 10)
	})
	if err != nil {
		t.Fatalf("UpdateJudge() error: %v", err)
	}
	if snaps, _ := db.Snapshots(ctx, "a", 0); len(snaps) != 1 || snaps[0].Balance != 7 {
		t.Errorf("snapshots = %+v, want one committed entry", snaps)
	}
}

func TestJudge_PendingSettlements(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		if _, err := db.InsertSettlement(ctx, &domain.SettlementRecord{
			ChallengeID: i, EvaluationID: i, Recipient: "mallory", Status: domain.SettlementPending, CreatedAt: t0,
		}); err != nil {
			t.Fatal(err)
		}
	}
	done := t0.Add(time.Minute)
	if err := db.UpdateSettlement(ctx, &domain.SettlementRecord{ID: 2, Status: domain.SettlementCompleted, Net: 9, Fee: 1, FinishedAt: &done}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingSettlements(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ChallengeID != 1 || pending[1].ChallengeID != 3 {
		t.Errorf("pending = %+v, want challenges 1 and 3 oldest first", pending)
	}
	if limited, _ := db.PendingSettlements(ctx, 1); len(limited) != 1 {
		t.Errorf("limited pending = %d, want 1", len(limited))
	}
}

func TestJudge_DisputeEvidenceRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.InsertDispute(ctx, &domain.DisputeCase{
		ChallengeID: 1, AttemptID: 2, Disputer: "acme", Reason: "balance oracle lagged",
		Evidence: [][]byte{[]byte("trace"), {0xde, 0xad}}, Status: domain.DisputeOpen, CreatedAt: t0,
	})
	if err != nil {
		t.Fatalf("InsertDispute() error: %v", err)
	}

	d, _ := db.GetDispute(ctx, id)
	if d == nil || len(d.Evidence) != 2 || string(d.Evidence[0]) != "trace" {
		t.Fatalf("dispute = %+v", d)
	}

	resolved := t0.Add(time.Hour)
	d.Status, d.ResolvedAt, d.Resolution = domain.DisputeRejected, &resolved, "no exploit"
	db.UpdateDispute(ctx, d)

	open, _ := db.ListDisputes(ctx, domain.DisputeOpen, domain.DisputeUnderReview)
	if len(open) != 0 {
		t.Errorf("open disputes = %d, want 0", len(open))
	}
	all, _ := db.ListDisputes(ctx)
	if len(all) != 1 || all[0].ResolvedAt == nil || !all[0].ResolvedAt.Equal(resolved) {
		t.Errorf("all = %+v", all)
	}
}

// ─── Governance ─────────────────────────────────────────────────────────────

func TestSandbox_JournalKeepsOrderPerTarget(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	calls := []domain.TargetCall{
		{Function: "zerolock_drain", Args: []uint64{5}},
		{Function: "reset"},
		{Function: "zerolock_drain", Args: []uint64{1 << 62, 7}},
	}
	for _, c := range calls {
		if err := db.AppendTargetCall(ctx, "target-a", c); err != nil {
			t.Fatalf("AppendTargetCall(%s): %v", c.Function, err)
		}
	}
	if err := db.AppendTargetCall(ctx, "target-b", domain.TargetCall{Function: "other"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.TargetCalls(ctx, "target-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("journal = %+v, want 3 calls", got)
	}
	for i := range calls {
		if got[i].Function != calls[i].Function || len(got[i].Args) != len(calls[i].Args) {
			t.Errorf("call %d = %+v, want %+v", i, got[i], calls[i])
		}
	}
	if got[2].Args[0] != 1<<62 || got[2].Args[1] != 7 {
		t.Errorf("args = %v, want [1<<62 7]", got[2].Args)
	}

	if err := db.DeleteTargetCalls(ctx, "target-a"); err != nil {
		t.Fatal(err)
	}
	if got, _ := db.TargetCalls(ctx, "target-a"); len(got) != 0 {
		t.Errorf("journal after delete = %+v", got)
	}
	if got, _ := db.TargetCalls(ctx, "target-b"); len(got) != 1 {
		t.Errorf("target-b journal = %+v, want untouched", got)
	}
}

func TestGovernance_Members(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	added, _ := db.AddMember(ctx, domain.RoleTrusted, "registry", t0)
	if !added {
		t.Error("first AddMember should insert")
	}
	added, _ = db.AddMember(ctx, domain.RoleTrusted, "registry", t0)
	if added {
		t.Error("duplicate AddMember should be ignored")
	}
	db.AddMember(ctx, domain.RoleAdmin, "registry", t0)

	trusted, _ := db.Members(ctx, domain.RoleTrusted)
	if len(trusted) != 1 {
		t.Errorf("trusted = %v", trusted)
	}

	removed, _ := db.RemoveMember(ctx, domain.RoleTrusted, "registry")
	if !removed {
		t.Error("RemoveMember should delete")
	}
	removed, _ = db.RemoveMember(ctx, domain.RoleTrusted, "registry")
	if removed {
		t.Error("second RemoveMember should report false")
	}
	admins, _ := db.Members(ctx, domain.RoleAdmin)
	if len(admins) != 1 {
		t.Errorf("admin role should be untouched, got %v", admins)
	}
}
