package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	permissions "github.com/router-for-me/MemberLedger/internal/http/api/admin/permissions"
)

// PermissionHandler exposes permission definitions for admins.
type PermissionHandler struct{}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler() *PermissionHandler {
	return &PermissionHandler{}
}

// List returns all permission definitions, flagging the ones the caller holds.
func (h *PermissionHandler) List(c *gin.Context) {
	granted, _ := c.Get(internalhttp.AdminPermissionsKey)
	grantedList, _ := granted.([]string)
	superAdmin := c.GetBool(internalhttp.AdminIsSuperAdminKey)
	defs := permissions.Definitions()
	out := make([]gin.H, 0, len(defs))
	for _, def := range defs {
		out = append(out, gin.H{
			"key":    def.Key,
			"method": def.Method,
			"path":   def.Path,
			"label":  def.Label,
			"module": def.Module,
			"held":   superAdmin || permissions.HasPermission(grantedList, def.Key),
		})
	}
	c.JSON(http.StatusOK, gin.H{"permissions": out})
}
