package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
)

// parseIDParam reads a positive uint64 path parameter, writing 400 on failure.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0
	}
	n, errParse := strconv.Atoi(raw)
	if errParse != nil {
		return 0
	}
	return n
}

// actor names the authenticated admin for audit fields.
func actor(c *gin.Context) string {
	if username := internalhttp.AdminUsername(c); username != "" {
		return username
	}
	return "admin"
}
