package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// bumpVersionBeforeUpdate advances the member's version right before the
// mutator's compare-and-swap UPDATE, as a concurrent writer would. It does so
// for the first n updates of the members table; n < 0 bumps every time.
func bumpVersionBeforeUpdate(t *testing.T, conn *gorm.DB, memberID uint64, n int) *int {
	t.Helper()
	calls := 0
	errRegister := conn.Callback().Update().Before("gorm:update").Register("test:bump_version", func(tx *gorm.DB) {
		if tx.Statement.Table != "members" {
			return
		}
		calls++
		if n >= 0 && calls > n {
			return
		}
		if errBump := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE members SET version = version + 1 WHERE id = ?", memberID).Error; errBump != nil {
			t.Errorf("bump version: %v", errBump)
		}
	})
	if errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}
	return &calls
}

func countRows(t *testing.T, conn *gorm.DB, model any, memberID uint64) int64 {
	t.Helper()
	var n int64
	if errCount := conn.Model(model).Where("member_id = ?", memberID).Count(&n).Error; errCount != nil {
		t.Fatalf("count rows: %v", errCount)
	}
	return n
}

func TestCreditRetriesLostCompareAndSwap(t *testing.T) {
	conn := setupLedgerDB(t)
	member := seedMember(t, conn, "cas-win", 10)
	calls := bumpVersionBeforeUpdate(t, conn, member.ID, 2)
	m := NewMutator(conn)

	out, err := m.Credit(context.Background(), Mutation{
		MemberID:       member.ID,
		Amount:         decimal.NewFromInt(5),
		Reason:         "bonus",
		IdempotencyKey: "cas-retry",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 update attempts, got %d", *calls)
	}
	if out.Replayed || !out.Balance.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	got := reloadMember(t, conn, member.ID)
	if !got.Balance.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected balance 15, got %s", got.Balance)
	}
	// Lost attempts roll back entirely, their bumps included.
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
	if n := countRows(t, conn, &models.LedgerEntry{}, member.ID); n != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", n)
	}
}

func TestCreditSurfacesConcurrentModificationAfterRetries(t *testing.T) {
	conn := setupLedgerDB(t)
	member := seedMember(t, conn, "cas-lose", 10)
	calls := bumpVersionBeforeUpdate(t, conn, member.ID, -1)
	m := NewMutator(conn, WithMaxRetries(2))

	_, err := m.Credit(context.Background(), Mutation{
		MemberID:       member.ID,
		Amount:         decimal.NewFromInt(5),
		IdempotencyKey: "cas-exhausted",
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected maxRetries+1 = 3 attempts, got %d", *calls)
	}
	got := reloadMember(t, conn, member.ID)
	if !got.Balance.Equal(decimal.NewFromInt(10)) || got.Version != 0 {
		t.Fatalf("expected untouched member, got balance=%s version=%d", got.Balance, got.Version)
	}
	if n := countRows(t, conn, &models.LedgerEntry{}, member.ID); n != 0 {
		t.Fatalf("expected no ledger entries, got %d", n)
	}
	if n := countRows(t, conn, &models.AppliedMutation{}, member.ID); n != 0 {
		t.Fatalf("expected no consumed keys, got %d", n)
	}
}

func TestDuplicateKeyInsertIsRetried(t *testing.T) {
	conn := setupLedgerDB(t)
	member := seedMember(t, conn, "dup-key", 0)
	inserts := 0
	errRegister := conn.Callback().Create().Before("gorm:create").Register("test:claim_key", func(tx *gorm.DB) {
		applied, ok := tx.Statement.Dest.(*models.AppliedMutation)
		if !ok {
			return
		}
		inserts++
		if inserts > 1 {
			return
		}
		// Another writer records the same key between the lookup and the insert.
		if errClaim := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO applied_mutations (idempotency_key, member_id, account, result, entry_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			applied.IdempotencyKey, applied.MemberID, string(applied.Account), "0", 0, time.Now().UTC(),
		).Error; errClaim != nil {
			t.Errorf("claim key: %v", errClaim)
		}
	})
	if errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}
	m := NewMutator(conn)

	out, err := m.Credit(context.Background(), Mutation{MemberID: member.ID, Amount: decimal.NewFromInt(4), IdempotencyKey: "dup"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if inserts != 2 {
		t.Fatalf("expected the key insert to be attempted twice, got %d", inserts)
	}
	if !out.Balance.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected balance 4, got %s", out.Balance)
	}
	if n := countRows(t, conn, &models.AppliedMutation{}, member.ID); n != 1 {
		t.Fatalf("expected one consumed key, got %d", n)
	}
	if n := countRows(t, conn, &models.LedgerEntry{}, member.ID); n != 1 {
		t.Fatalf("expected one ledger entry, got %d", n)
	}
}

func TestSameKeyCreditsRacingApplyOnce(t *testing.T) {
	conn := setupLedgerDB(t)
	member := seedMember(t, conn, "same-key", 0)
	m := NewMutator(conn)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Credit(ctx, Mutation{MemberID: member.ID, Amount: decimal.NewFromInt(25), IdempotencyKey: "payout-1"})
			if err != nil {
				errs <- err
				return
			}
			outcomes <- out
		}()
	}
	wg.Wait()
	close(errs)
	close(outcomes)
	for err := range errs {
		t.Fatalf("credit failed: %v", err)
	}
	applied := 0
	for out := range outcomes {
		if !out.Replayed {
			applied++
		}
		if !out.Balance.Equal(decimal.NewFromInt(25)) {
			t.Fatalf("expected every caller to see balance 25, got %s", out.Balance)
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applying caller, got %d", applied)
	}
	if got := reloadMember(t, conn, member.ID); !got.Balance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected balance 25, got %s", got.Balance)
	}
	if n := countRows(t, conn, &models.LedgerEntry{}, member.ID); n != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", n)
	}
}
