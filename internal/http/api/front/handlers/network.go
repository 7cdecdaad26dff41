package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MemberLedger/internal/commission"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/referral"
)

// NetworkHandler serves the member's downline, earnings and ledger history.
type NetworkHandler struct {
	downlines *referral.Downlines
	engine    *commission.Engine
	mutator   *ledger.Mutator
}

// NewNetworkHandler constructs a NetworkHandler.
func NewNetworkHandler(downlines *referral.Downlines, engine *commission.Engine, mutator *ledger.Mutator) *NetworkHandler {
	return &NetworkHandler{downlines: downlines, engine: engine, mutator: mutator}
}

// Downline returns the member's downline summary.
func (h *NetworkHandler) Downline(c *gin.Context) {
	downline, errDownline := h.downlines.Downline(c.Request.Context(), getMemberID(c), queryInt(c, "depth"))
	if errDownline != nil {
		internalhttp.WriteError(c, errDownline)
		return
	}
	c.JSON(http.StatusOK, downline)
}

// Earnings lists the member's commission earnings.
func (h *NetworkHandler) Earnings(c *gin.Context) {
	earnings, errList := h.engine.Earnings(c.Request.Context(), getMemberID(c), queryInt(c, "limit"))
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"earnings": earnings})
}

// Ledger lists the member's ledger entries.
func (h *NetworkHandler) Ledger(c *gin.Context) {
	account := models.LedgerAccount(strings.TrimSpace(c.Query("account")))
	entries, errEntries := h.mutator.Entries(c.Request.Context(), getMemberID(c), account, queryInt(c, "limit"))
	if errEntries != nil {
		internalhttp.WriteError(c, errEntries)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
