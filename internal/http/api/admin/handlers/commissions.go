package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MemberLedger/internal/commission"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
)

// CommissionHandler triggers and inspects commission distributions.
type CommissionHandler struct {
	engine *commission.Engine
}

// NewCommissionHandler constructs a CommissionHandler.
func NewCommissionHandler(engine *commission.Engine) *CommissionHandler {
	return &CommissionHandler{engine: engine}
}

type applyCommissionRequest struct {
	PurchaserID uint64 `json:"purchaser_id"`
	PackageID   uint64 `json:"package_id"`
	RequestID   string `json:"request_id"`
}

// Apply distributes the commission of one approved purchase. Retrying with the
// same request_id only applies levels that failed before. A partial failure
// answers 207 with per-level results.
func (h *CommissionHandler) Apply(c *gin.Context) {
	var body applyCommissionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.PurchaserID == 0 || body.PackageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing purchaser_id or package_id"})
		return
	}

	result, errApply := h.engine.ApplyPurchaseCommission(c.Request.Context(), body.PurchaserID, body.PackageID, strings.TrimSpace(body.RequestID))
	if errApply != nil {
		internalhttp.WriteError(c, errApply)
		return
	}
	status := http.StatusOK
	if len(result.Failed()) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

// Earnings lists the earnings of a member.
func (h *CommissionHandler) Earnings(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	earnings, errList := h.engine.Earnings(c.Request.Context(), id, queryInt(c, "limit"))
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"earnings": earnings})
}
