package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"gorm.io/gorm"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Healthz checks database connectivity and reports the settings snapshot age.
func (h *HealthHandler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	body := gin.H{"ok": true}
	if updatedAt := internalsettings.UpdatedAt(); !updatedAt.IsZero() {
		body["settings_updated_at"] = updatedAt
	}
	c.JSON(http.StatusOK, body)
}
