package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/router-for-me/MemberLedger/internal/config"
	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/security"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const testSecret = "app-test-secret"

func setupAppDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

func testConfig() *config.Config {
	return &config.Config{
		JWT:        config.JWTConfig{Secret: testSecret},
		Commission: config.CommissionConfig{MaxDepth: 10},
		Withdrawal: config.WithdrawalConfig{
			FeeRate:   decimal.RequireFromString("0.1"),
			MinAmount: decimal.NewFromInt(10),
		},
		Graph: config.GraphConfig{SnapshotTTL: time.Minute},
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if errEncode := json.NewEncoder(&payload).Encode(body); errEncode != nil {
			t.Fatalf("encode body: %v", errEncode)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPackagePurchaseEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := setupAppDB(t)
	svc, redisClient := BuildServices(testConfig(), conn)
	if redisClient != nil {
		t.Fatalf("expected no redis client without an address")
	}
	router := NewRouter(svc)

	referrer := models.Member{Handle: "sponsor", Status: models.MemberStatusActive}
	if errCreate := conn.Create(&referrer).Error; errCreate != nil {
		t.Fatalf("create referrer: %v", errCreate)
	}
	ref := referrer.Handle
	buyer := models.Member{Handle: "newcomer", Status: models.MemberStatusInactive, ReferredBy: &ref}
	if errCreate := conn.Create(&buyer).Error; errCreate != nil {
		t.Fatalf("create buyer: %v", errCreate)
	}
	pkg := models.Package{
		Name:               "starter",
		Amount:             decimal.NewFromInt(500),
		DirectCommission:   decimal.NewFromInt(50),
		IndirectCommission: decimal.NewFromInt(5),
		ValidDays:          30,
		IsEnabled:          true,
	}
	if errCreate := conn.Create(&pkg).Error; errCreate != nil {
		t.Fatalf("create package: %v", errCreate)
	}

	memberToken, errMember := security.GenerateMemberToken(testSecret, buyer.ID, buyer.Handle, time.Hour)
	if errMember != nil {
		t.Fatalf("member token: %v", errMember)
	}
	adminToken, errAdmin := security.GenerateAdminToken(testSecret, 1, "root", nil, true, time.Hour)
	if errAdmin != nil {
		t.Fatalf("admin token: %v", errAdmin)
	}

	rec := doJSON(t, router, http.MethodPost, "/v0/front/package-requests", memberToken, map[string]any{"package_id": pkg.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create request status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created models.PackageRequest
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode request: %v", errDecode)
	}

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v0/admin/package-requests/%d/approve", created.ID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/v0/admin/members/%d/earnings", referrer.ID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("earnings status = %d body=%s", rec.Code, rec.Body.String())
	}
	var earnings struct {
		Earnings []models.Earning `json:"earnings"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &earnings); errDecode != nil {
		t.Fatalf("decode earnings: %v", errDecode)
	}
	if len(earnings.Earnings) != 1 || !earnings.Earnings[0].Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected earnings: %+v", earnings.Earnings)
	}

	var reloaded models.Member
	if errLoad := conn.First(&reloaded, referrer.ID).Error; errLoad != nil {
		t.Fatalf("reload referrer: %v", errLoad)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("referrer balance = %s, want 50", reloaded.Balance)
	}

	rec = doJSON(t, router, http.MethodPut, fmt.Sprintf("/v0/admin/packages/%d", pkg.ID), adminToken, map[string]any{"direct_commission": "75"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("repricing a purchased package status = %d, want 409", rec.Code)
	}
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := setupAppDB(t)
	svc, _ := BuildServices(testConfig(), conn)
	router := NewRouter(svc)

	limited, errToken := security.GenerateAdminToken(testSecret, 2, "auditor", []string{"GET /v0/admin/integrity/report"}, false, time.Hour)
	if errToken != nil {
		t.Fatalf("admin token: %v", errToken)
	}

	rec := doJSON(t, router, http.MethodGet, "/v0/admin/withdrawals", limited, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("withdrawals status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/v0/admin/integrity/report", limited, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, router, http.MethodGet, "/v0/admin/withdrawals", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := setupAppDB(t)
	svc, _ := BuildServices(testConfig(), conn)
	router := NewRouter(svc)

	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", rec.Code)
	}
}

func TestAdminCreditKeyDoesNotReplayMemberTransfer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := setupAppDB(t)
	svc, _ := BuildServices(testConfig(), conn)
	router := NewRouter(svc)

	alice := models.Member{Handle: "alice", Status: models.MemberStatusActive, Balance: decimal.NewFromInt(100)}
	if errCreate := conn.Create(&alice).Error; errCreate != nil {
		t.Fatalf("create alice: %v", errCreate)
	}
	bob := models.Member{Handle: "bob", Status: models.MemberStatusActive}
	if errCreate := conn.Create(&bob).Error; errCreate != nil {
		t.Fatalf("create bob: %v", errCreate)
	}
	memberToken, errMember := security.GenerateMemberToken(testSecret, alice.ID, alice.Handle, time.Hour)
	if errMember != nil {
		t.Fatalf("member token: %v", errMember)
	}
	adminToken, errAdmin := security.GenerateAdminToken(testSecret, 1, "root", nil, true, time.Hour)
	if errAdmin != nil {
		t.Fatalf("admin token: %v", errAdmin)
	}

	rec := doJSON(t, router, http.MethodPost, "/v0/front/transfers", memberToken, map[string]any{
		"to_handle": "bob", "amount": "10", "type": "balance", "idempotency_key": "k1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("member transfer status = %d body=%s", rec.Code, rec.Body.String())
	}
	var memberTransfer models.Transfer
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &memberTransfer); errDecode != nil {
		t.Fatalf("decode member transfer: %v", errDecode)
	}

	rec = doJSON(t, router, http.MethodPost, "/v0/admin/transfers/credit", adminToken, map[string]any{
		"member_id": bob.ID, "amount": "25", "idempotency_key": "member:alice:k1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin credit status = %d body=%s", rec.Code, rec.Body.String())
	}
	var credit models.Transfer
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &credit); errDecode != nil {
		t.Fatalf("decode credit: %v", errDecode)
	}
	if credit.ID == memberTransfer.ID || credit.TransferType != models.TransferTypeAdminCredit {
		t.Fatalf("admin credit replayed member transfer: %+v", credit)
	}
	if credit.IdempotencyKey != "admin:root:member:alice:k1" {
		t.Fatalf("credit key = %q", credit.IdempotencyKey)
	}

	var reloaded models.Member
	if errLoad := conn.First(&reloaded, bob.ID).Error; errLoad != nil {
		t.Fatalf("reload bob: %v", errLoad)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("bob balance = %s, want 35", reloaded.Balance)
	}

	rec = doJSON(t, router, http.MethodPost, "/v0/admin/transfers/credit", adminToken, map[string]any{
		"member_id": bob.ID, "amount": "25",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("keyless credit status = %d, want 400", rec.Code)
	}
}
