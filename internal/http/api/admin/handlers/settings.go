package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"gorm.io/gorm"
)

// SettingsHandler reads and writes DB-backed policy overrides.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// Get returns the current settings snapshot and the known keys.
func (h *SettingsHandler) Get(c *gin.Context) {
	keys := append([]string(nil), internalsettings.KnownKeys...)
	sort.Strings(keys)
	c.JSON(http.StatusOK, gin.H{
		"settings":   internalsettings.All(),
		"known_keys": keys,
		"updated_at": internalsettings.UpdatedAt(),
	})
}

// Put upserts the given keys. Each value is validated before anything is saved.
func (h *SettingsHandler) Put(c *gin.Context) {
	var body map[string]json.RawMessage
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	keys := make([]string, 0, len(body))
	for key := range body {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if errPut := internalsettings.Put(c.Request.Context(), tx, key, body[key], actor(c)); errPut != nil {
				return errPut
			}
		}
		return nil
	})
	if errTx != nil {
		// A rolled back batch may have refreshed the snapshot mid-way.
		_ = internalsettings.Refresh(c.Request.Context(), h.db)
		internalhttp.WriteError(c, errTx)
		return
	}
	h.Get(c)
}
