package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	t.Cleanup(func() { Store(time.Time{}, nil) })
	return conn
}

func TestParseHelpers(t *testing.T) {
	if n, ok := ParseInt(json.RawMessage(`{"value":"12"}`)); !ok || n != 12 {
		t.Fatalf("expected wrapped string int 12, got %d %v", n, ok)
	}
	if _, ok := ParseInt(json.RawMessage(`1.5`)); ok {
		t.Fatalf("expected fractional int to be rejected")
	}
	if b, ok := ParseBool(json.RawMessage(`"false"`)); !ok || b {
		t.Fatalf("expected string false, got %v %v", b, ok)
	}
	if d, ok := ParseDecimal(json.RawMessage(`0.15`)); !ok || !d.Equal(decimal.RequireFromString("0.15")) {
		t.Fatalf("expected 0.15, got %s %v", d, ok)
	}
	if d, ok := ParseDecimal(json.RawMessage(`{"value":"0.2"}`)); !ok || !d.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("expected wrapped 0.2, got %s %v", d, ok)
	}
}

func TestPutRefreshesSnapshot(t *testing.T) {
	conn := setupSettingsDB(t)
	ctx := context.Background()

	if Bool(CommissionCreditInactiveKey, true) != true {
		t.Fatalf("expected fallback before any write")
	}
	if errPut := Put(ctx, conn, CommissionCreditInactiveKey, json.RawMessage(`false`), "admin"); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	if Bool(CommissionCreditInactiveKey, true) {
		t.Fatalf("expected stored false to override fallback")
	}
	if errPut := Put(ctx, conn, WithdrawalFeeRateKey, json.RawMessage(`"0.05"`), "admin"); errPut != nil {
		t.Fatalf("put fee: %v", errPut)
	}
	if got := Decimal(WithdrawalFeeRateKey, decimal.RequireFromString("0.1")); !got.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("expected fee 0.05, got %s", got)
	}
	if errPut := Put(ctx, conn, CommissionCreditInactiveKey, json.RawMessage(`true`), "admin"); errPut != nil {
		t.Fatalf("update: %v", errPut)
	}
	var count int64
	conn.Model(&models.Setting{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected upsert to keep 2 rows, got %d", count)
	}
	if !Bool(CommissionCreditInactiveKey, false) {
		t.Fatalf("expected updated value true")
	}
}

func TestPutRejectsInvalidValues(t *testing.T) {
	conn := setupSettingsDB(t)
	ctx := context.Background()
	cases := map[string]string{
		WithdrawalFeeRateKey:        `1.2`,
		CommissionMaxDepthKey:       `0`,
		SnapshotRefreshSecondsKey:   `1000000000000000`,
		CommissionCreditInactiveKey: `"maybe"`,
		"UNKNOWN_KEY":               `1`,
	}
	for key, raw := range cases {
		if errPut := Put(ctx, conn, key, json.RawMessage(raw), "admin"); errPut == nil {
			t.Fatalf("expected %s=%s to be rejected", key, raw)
		}
	}
}

func TestPutBoundsDepthAndIntervals(t *testing.T) {
	conn := setupSettingsDB(t)
	ctx := context.Background()

	for _, raw := range []string{`11`, `1000000000000000`} {
		if errPut := Put(ctx, conn, CommissionMaxDepthKey, json.RawMessage(raw), "admin"); !errors.Is(errPut, ErrInvalidSetting) {
			t.Fatalf("expected depth %s to be rejected, got %v", raw, errPut)
		}
	}
	if errPut := Put(ctx, conn, CommissionMaxDepthKey, json.RawMessage(`10`), "admin"); errPut != nil {
		t.Fatalf("put depth 10: %v", errPut)
	}
	if errPut := Put(ctx, conn, PackageExpirySweepSecondsKey, json.RawMessage(`604801`), "admin"); !errors.Is(errPut, ErrInvalidSetting) {
		t.Fatalf("expected interval above one week to be rejected, got %v", errPut)
	}
	if errPut := Put(ctx, conn, PackageExpirySweepSecondsKey, json.RawMessage(`604800`), "admin"); errPut != nil {
		t.Fatalf("put one week: %v", errPut)
	}
	if got := Seconds(PackageExpirySweepSecondsKey, time.Minute); got != 7*24*time.Hour {
		t.Fatalf("expected one week, got %s", got)
	}
}

func TestSecondsIgnoresOverflowingValues(t *testing.T) {
	Store(time.Now(), map[string]json.RawMessage{
		SnapshotRefreshSecondsKey: json.RawMessage(`1000000000000000`),
	})
	t.Cleanup(func() { Store(time.Time{}, nil) })

	if got := Seconds(SnapshotRefreshSecondsKey, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected fallback for an overflowing interval, got %s", got)
	}
}
