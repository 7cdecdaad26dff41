package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/referral"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupCommissionDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:commission_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func newEngine(conn *gorm.DB) *Engine {
	return NewEngine(ledger.NewMutator(conn), referral.NewStore(conn), Policy{MaxDepth: 10, CreditInactive: true})
}

func createMember(t *testing.T, conn *gorm.DB, handle, referrer string) models.Member {
	t.Helper()
	member := models.Member{Handle: handle, Status: models.MemberStatusActive}
	if referrer != "" {
		ref := referrer
		member.ReferredBy = &ref
	}
	if errCreate := conn.Create(&member).Error; errCreate != nil {
		t.Fatalf("create %s: %v", handle, errCreate)
	}
	return member
}

func createPackage(t *testing.T, conn *gorm.DB, direct, indirect int64) models.Package {
	t.Helper()
	pkg := models.Package{
		Name:               "starter",
		Amount:             decimal.NewFromInt(500),
		DirectCommission:   decimal.NewFromInt(direct),
		IndirectCommission: decimal.NewFromInt(indirect),
		IsEnabled:          true,
	}
	if errCreate := conn.Create(&pkg).Error; errCreate != nil {
		t.Fatalf("create package: %v", errCreate)
	}
	return pkg
}

func balanceOf(t *testing.T, conn *gorm.DB, id uint64) decimal.Decimal {
	t.Helper()
	var member models.Member
	if errFind := conn.First(&member, id).Error; errFind != nil {
		t.Fatalf("load member %d: %v", id, errFind)
	}
	return member.Balance
}

func countEarnings(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	if errCount := conn.Model(&models.Earning{}).Count(&n).Error; errCount != nil {
		t.Fatalf("count earnings: %v", errCount)
	}
	return n
}

func statuses(result *Result) string {
	out := ""
	for _, l := range result.Levels {
		out += fmt.Sprintf("%d:%s ", l.Level, l.Status)
	}
	return out
}

func TestApplyPurchaseCommissionTwoTierPlan(t *testing.T) {
	conn := setupCommissionDB(t)
	b := createMember(t, conn, "b", "")
	a := createMember(t, conn, "a", "b")
	c := createMember(t, conn, "c", "a")
	pkg := createPackage(t, conn, 50, 20)
	engine := newEngine(conn)

	result, err := engine.ApplyPurchaseCommission(context.Background(), c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %s", statuses(result))
	}
	if l := result.Levels[0]; l.BeneficiaryID != a.ID || l.Level != 1 || !l.Amount.Equal(decimal.NewFromInt(50)) || l.Status != StatusApplied {
		t.Fatalf("unexpected level 1: %+v", l)
	}
	if l := result.Levels[1]; l.BeneficiaryID != b.ID || l.Level != 2 || !l.Amount.Equal(decimal.NewFromInt(20)) || l.Status != StatusApplied {
		t.Fatalf("unexpected level 2: %+v", l)
	}
	if got := balanceOf(t, conn, a.ID); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected a balance 50, got %s", got)
	}
	if got := balanceOf(t, conn, b.ID); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected b balance 20, got %s", got)
	}

	var earnings []models.Earning
	if errFind := conn.Order("id ASC").Find(&earnings).Error; errFind != nil {
		t.Fatalf("list earnings: %v", errFind)
	}
	if len(earnings) != 2 || earnings[0].BeneficiaryMemberID != a.ID || earnings[1].BeneficiaryMemberID != b.ID {
		t.Fatalf("expected earnings nearest first, got %+v", earnings)
	}
	if earnings[0].SourceMemberID != c.ID || earnings[0].TriggeringRequestID != "req1" || !earnings[0].Credited {
		t.Fatalf("unexpected earning: %+v", earnings[0])
	}
}

func TestApplyPurchaseCommissionIsIdempotent(t *testing.T) {
	conn := setupCommissionDB(t)
	b := createMember(t, conn, "b", "")
	a := createMember(t, conn, "a", "b")
	c := createMember(t, conn, "c", "a")
	pkg := createPackage(t, conn, 50, 20)
	engine := newEngine(conn)
	ctx := context.Background()

	if _, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "req1"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	again, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	for _, l := range again.Levels {
		if l.Status != StatusReplayed {
			t.Fatalf("expected replay on retry, got %s", statuses(again))
		}
	}
	if n := countEarnings(t, conn); n != 2 {
		t.Fatalf("expected 2 earnings after retry, got %d", n)
	}
	if got := balanceOf(t, conn, a.ID); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected a balance 50 after retry, got %s", got)
	}
	if got := balanceOf(t, conn, b.ID); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected b balance 20 after retry, got %s", got)
	}

	other, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "req2")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if other.Levels[0].Status != StatusApplied {
		t.Fatalf("expected a new request to pay again, got %s", statuses(other))
	}
}

func TestInactiveAncestorCreditedByDefault(t *testing.T) {
	conn := setupCommissionDB(t)
	a := createMember(t, conn, "a", "")
	c := createMember(t, conn, "c", "a")
	conn.Model(&models.Member{}).Where("id = ?", a.ID).Update("status", models.MemberStatusInactive)
	pkg := createPackage(t, conn, 50, 20)

	result, err := newEngine(conn).ApplyPurchaseCommission(context.Background(), c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Levels[0].Status != StatusApplied {
		t.Fatalf("expected inactive ancestor credited, got %s", statuses(result))
	}
	if got := balanceOf(t, conn, a.ID); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected balance 50, got %s", got)
	}
}

func TestInactiveAncestorSuppressedBySetting(t *testing.T) {
	conn := setupCommissionDB(t)
	root := createMember(t, conn, "root", "")
	a := createMember(t, conn, "a", "root")
	c := createMember(t, conn, "c", "a")
	conn.Model(&models.Member{}).Where("id = ?", a.ID).Update("status", models.MemberStatusSuspended)
	pkg := createPackage(t, conn, 50, 20)

	internalsettings.Store(time.Now(), map[string]json.RawMessage{
		internalsettings.CommissionCreditInactiveKey: json.RawMessage(`false`),
	})
	t.Cleanup(func() { internalsettings.Store(time.Time{}, nil) })

	engine := newEngine(conn)
	result, err := engine.ApplyPurchaseCommission(context.Background(), c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Levels[0].Status != StatusSuppressed || result.Levels[1].Status != StatusApplied {
		t.Fatalf("unexpected statuses: %s", statuses(result))
	}
	if got := balanceOf(t, conn, a.ID); !got.IsZero() {
		t.Fatalf("expected suppressed credit, got balance %s", got)
	}
	if got := balanceOf(t, conn, root.ID); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected root balance 20, got %s", got)
	}

	var earning models.Earning
	if errFind := conn.Where("beneficiary_member_id = ?", a.ID).Take(&earning).Error; errFind != nil {
		t.Fatalf("expected suppressed earning row: %v", errFind)
	}
	if earning.Credited {
		t.Fatalf("expected earning marked not credited")
	}

	// Re-enabling the credit later must not pay a level already decided.
	internalsettings.Store(time.Now(), nil)
	again, err := engine.ApplyPurchaseCommission(context.Background(), c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if again.Levels[0].Status != StatusReplayed {
		t.Fatalf("expected replay for suppressed level, got %s", statuses(again))
	}
	if got := balanceOf(t, conn, a.ID); !got.IsZero() {
		t.Fatalf("expected balance to stay zero, got %s", got)
	}
}

func TestDepthCapAndSkippedLevels(t *testing.T) {
	conn := setupCommissionDB(t)
	prev := ""
	var last models.Member
	for i := 0; i < 13; i++ {
		handle := fmt.Sprintf("m%02d", i)
		last = createMember(t, conn, handle, prev)
		prev = handle
	}
	pkg := createPackage(t, conn, 50, 0)

	result, err := newEngine(conn).ApplyPurchaseCommission(context.Background(), last.ID, pkg.ID, "deep")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.Levels) != 10 {
		t.Fatalf("expected 10 levels, got %d", len(result.Levels))
	}
	if result.Levels[0].Status != StatusApplied {
		t.Fatalf("expected direct level applied, got %s", result.Levels[0].Status)
	}
	for _, l := range result.Levels[1:] {
		if l.Status != StatusSkipped {
			t.Fatalf("expected zero indirect levels skipped, got %s", statuses(result))
		}
	}
	if n := countEarnings(t, conn); n != 1 {
		t.Fatalf("expected 1 earning, got %d", n)
	}
}

func TestCycleInAncestorChainTerminates(t *testing.T) {
	conn := setupCommissionDB(t)
	createMember(t, conn, "x", "y")
	createMember(t, conn, "y", "x")
	buyer := createMember(t, conn, "buyer", "x")
	pkg := createPackage(t, conn, 10, 5)

	result, err := newEngine(conn).ApplyPurchaseCommission(context.Background(), buyer.ID, pkg.ID, "loop")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.Levels) != 2 {
		t.Fatalf("expected x and y once each, got %s", statuses(result))
	}
}

func TestPartialFailureCanBeRetried(t *testing.T) {
	conn := setupCommissionDB(t)
	root := createMember(t, conn, "root", "")
	mid := createMember(t, conn, "mid", "root")
	a := createMember(t, conn, "a", "mid")
	c := createMember(t, conn, "c", "a")
	pkg := createPackage(t, conn, 50, 20)

	const hook = "test:fail_level_2"
	errInjected := errors.New("injected earning failure")
	if errRegister := conn.Callback().Create().Before("gorm:create").Register(hook, func(tx *gorm.DB) {
		if earning, ok := tx.Statement.Dest.(*models.Earning); ok && earning.Level == 2 {
			_ = tx.AddError(errInjected)
		}
	}); errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}

	engine := newEngine(conn)
	ctx := context.Background()
	first, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := statuses(first); got != "1:applied 2:failed 3:applied " {
		t.Fatalf("unexpected statuses: %s", got)
	}
	if failed := first.Failed(); len(failed) != 1 || failed[0].BeneficiaryID != mid.ID {
		t.Fatalf("expected mid to fail, got %+v", failed)
	}
	if got := balanceOf(t, conn, mid.ID); !got.IsZero() {
		t.Fatalf("failed level must not credit, got %s", got)
	}

	if errRemove := conn.Callback().Create().Remove(hook); errRemove != nil {
		t.Fatalf("remove callback: %v", errRemove)
	}
	retry, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "req1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := statuses(retry); got != "1:replayed 2:applied 3:replayed " {
		t.Fatalf("unexpected retry statuses: %s", got)
	}
	for id, want := range map[uint64]int64{a.ID: 50, mid.ID: 20, root.ID: 20} {
		if got := balanceOf(t, conn, id); !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("member %d: expected %d, got %s", id, want, got)
		}
	}
}

func TestApplyPurchaseCommissionValidation(t *testing.T) {
	conn := setupCommissionDB(t)
	c := createMember(t, conn, "c", "")
	pkg := createPackage(t, conn, 50, 20)
	engine := newEngine(conn)
	ctx := context.Background()

	if _, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "  "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if _, err := engine.ApplyPurchaseCommission(ctx, 999, pkg.ID, "r"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected unknown purchaser, got %v", err)
	}
	if _, err := engine.ApplyPurchaseCommission(ctx, c.ID, 999, "r"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected unknown package, got %v", err)
	}
	result, err := engine.ApplyPurchaseCommission(ctx, c.ID, pkg.ID, "r")
	if err != nil || len(result.Levels) != 0 {
		t.Fatalf("expected root purchase to pay nobody, got %+v %v", result, err)
	}
}

func TestStoredDepthAbovePlanIsCapped(t *testing.T) {
	conn := setupCommissionDB(t)
	prev := ""
	var last models.Member
	for i := 0; i < 13; i++ {
		handle := fmt.Sprintf("n%02d", i)
		last = createMember(t, conn, handle, prev)
		prev = handle
	}
	pkg := createPackage(t, conn, 50, 5)

	// A value written before validation existed, or directly to the table.
	internalsettings.Store(time.Now(), map[string]json.RawMessage{
		internalsettings.CommissionMaxDepthKey: json.RawMessage(`1000000000000000`),
	})
	t.Cleanup(func() { internalsettings.Store(time.Time{}, nil) })

	engine := NewEngine(ledger.NewMutator(conn), referral.NewStore(conn), Policy{MaxDepth: 1 << 40, CreditInactive: true})
	result, err := engine.ApplyPurchaseCommission(context.Background(), last.ID, pkg.ID, "huge-depth")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(result.Levels) != referral.DefaultMaxDepth {
		t.Fatalf("expected %d levels, got %d", referral.DefaultMaxDepth, len(result.Levels))
	}
	if n := countEarnings(t, conn); n != int64(referral.DefaultMaxDepth) {
		t.Fatalf("expected %d earnings, got %d", referral.DefaultMaxDepth, n)
	}
}

func TestRacingSameRequestPaysOnce(t *testing.T) {
	conn := setupCommissionDB(t)
	sponsor := createMember(t, conn, "sponsor", "")
	buyer := createMember(t, conn, "buyer", "sponsor")
	pkg := createPackage(t, conn, 40, 0)
	engine := newEngine(conn)
	ctx := context.Background()

	const workers = 6
	var wg sync.WaitGroup
	results := make(chan *Result, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := engine.ApplyPurchaseCommission(ctx, buyer.ID, pkg.ID, "race-1")
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(errs)
	close(results)
	for err := range errs {
		t.Fatalf("apply: %v", err)
	}
	applied := 0
	for result := range results {
		if len(result.Levels) != 1 {
			t.Fatalf("expected 1 level, got %s", statuses(result))
		}
		switch result.Levels[0].Status {
		case StatusApplied:
			applied++
		case StatusReplayed:
		default:
			t.Fatalf("unexpected status %s", statuses(result))
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applying caller, got %d", applied)
	}
	if n := countEarnings(t, conn); n != 1 {
		t.Fatalf("expected 1 earning, got %d", n)
	}
	if got := balanceOf(t, conn, sponsor.ID); !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected sponsor balance 40, got %s", got)
	}
}
