package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/security"
	"github.com/router-for-me/MemberLedger/internal/withdrawal"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func setupAuthDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:httpauth_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Member{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func runRequestWithMiddleware(t *testing.T, middleware gin.HandlerFunc, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware)
	router.GET("/*path", func(c *gin.Context) {
		if MemberID(c) == 0 && AdminUsername(c) == "" {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusNoContent)
	})

	responseRecorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v0/front/profile", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(responseRecorder, req)

	return responseRecorder
}

func TestMemberAuthMiddleware(t *testing.T) {
	db := setupAuthDB(t)
	active := models.Member{Handle: "active", Status: models.MemberStatusActive}
	suspended := models.Member{Handle: "blocked", Status: models.MemberStatusSuspended}
	if errCreate := db.Create(&active).Error; errCreate != nil {
		t.Fatalf("create member: %v", errCreate)
	}
	if errCreate := db.Create(&suspended).Error; errCreate != nil {
		t.Fatalf("create member: %v", errCreate)
	}
	token := func(id uint64) string {
		signed, errSign := security.GenerateMemberToken(testSecret, id, "x", time.Hour)
		if errSign != nil {
			t.Fatalf("sign: %v", errSign)
		}
		return "Bearer " + signed
	}
	adminToken, _ := security.GenerateAdminToken(testSecret, 1, "root", nil, true, time.Hour)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"admin token", "Bearer " + adminToken, http.StatusUnauthorized},
		{"unknown member", token(999), http.StatusUnauthorized},
		{"suspended", token(suspended.ID), http.StatusForbidden},
		{"active", token(active.ID), http.StatusNoContent},
	}
	for _, tc := range cases {
		rec := runRequestWithMiddleware(t, MemberAuthMiddleware(db, testSecret), tc.header)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	expired, _ := security.GenerateAdminToken(testSecret, 1, "root", nil, true, -time.Minute)
	valid, _ := security.GenerateAdminToken(testSecret, 1, "root", []string{"GET /v0/admin/settings"}, false, time.Hour)

	if rec := runRequestWithMiddleware(t, AdminAuthMiddleware(testSecret), "Bearer "+expired); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for expired token, got %d", rec.Code)
	}
	if rec := runRequestWithMiddleware(t, AdminAuthMiddleware(testSecret), "Bearer "+valid); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		retryable bool
	}{
		{fmt.Errorf("wrap: %w", ledger.ErrNotFound), http.StatusNotFound, false},
		{ledger.ErrConcurrentModification, http.StatusConflict, true},
		{ledger.ErrInsufficientFunds, http.StatusConflict, false},
		{withdrawal.ErrInvalidTransition, http.StatusConflict, false},
		{withdrawal.ErrInvalidPIN, http.StatusForbidden, false},
		{ledger.ErrInvalidAmount, http.StatusBadRequest, false},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		status, retryable := ErrorStatus(tc.err)
		if status != tc.status || retryable != tc.retryable {
			t.Fatalf("%v: expected %d/%v, got %d/%v", tc.err, tc.status, tc.retryable, status, retryable)
		}
	}
}
