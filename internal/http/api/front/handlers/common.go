package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
)

// getMemberID extracts the member ID from gin context.
func getMemberID(c *gin.Context) uint64 {
	return internalhttp.MemberID(c)
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string) int {
	n, errParse := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if errParse != nil {
		return 0
	}
	return n
}
