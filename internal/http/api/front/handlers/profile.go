package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/security"
	"gorm.io/gorm"
)

// ProfileHandler handles member profile endpoints.
type ProfileHandler struct {
	db *gorm.DB
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB) *ProfileHandler {
	return &ProfileHandler{db: db}
}

// Get returns the current member's profile and counters.
func (h *ProfileHandler) Get(c *gin.Context) {
	memberID := getMemberID(c)
	if memberID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var member models.Member
	if errFind := h.db.WithContext(c.Request.Context()).First(&member, memberID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                 member.ID,
		"handle":             member.Handle,
		"display_name":       member.DisplayName,
		"email":              member.Email,
		"status":             member.Status,
		"balance":            member.Balance,
		"shopping_amount":    member.ShoppingAmount,
		"points":             member.Points,
		"referred_by":        member.ReferrerHandle(),
		"current_package_id": member.CurrentPackageID,
		"package_expires_at": member.PackageExpiresAt,
		"has_pin":            member.TransactionPIN != "",
		"created_at":         member.CreatedAt,
		"updated_at":         member.UpdatedAt,
	})
}

// changePINRequest defines the request body for transaction PIN changes.
type changePINRequest struct {
	OldPIN string `json:"old_pin"`
	NewPIN string `json:"new_pin"`
}

// ChangePIN sets the transaction PIN. An existing PIN must be confirmed.
func (h *ProfileHandler) ChangePIN(c *gin.Context) {
	memberID := getMemberID(c)
	if memberID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body changePINRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	oldPIN := strings.TrimSpace(body.OldPIN)
	newPIN := strings.TrimSpace(body.NewPIN)
	if newPIN == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pin"})
		return
	}

	var member models.Member
	if errFind := h.db.WithContext(c.Request.Context()).First(&member, memberID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	if member.TransactionPIN != "" && !security.CheckPIN(member.TransactionPIN, oldPIN) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "old pin incorrect"})
		return
	}

	hash, errHash := security.HashPIN(newPIN)
	if errHash != nil {
		if errors.Is(errHash, security.ErrMalformedPIN) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errHash.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash pin failed"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Member{}).Where("id = ?", member.ID).Updates(map[string]any{
		"transaction_pin": hash,
		"updated_at":      time.Now().UTC(),
	}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "change pin failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
