package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/logging"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/referral"
)

// MemberHandler exposes the referral graph and ledger of one member.
type MemberHandler struct {
	graph     *referral.Store
	downlines *referral.Downlines
	mutator   *ledger.Mutator
}

// NewMemberHandler constructs a MemberHandler.
func NewMemberHandler(graph *referral.Store, downlines *referral.Downlines, mutator *ledger.Mutator) *MemberHandler {
	return &MemberHandler{graph: graph, downlines: downlines, mutator: mutator}
}

// Ancestors returns the referral chain above a member, nearest first, read
// from the authoritative store.
func (h *MemberHandler) Ancestors(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	chain, errChain := h.graph.Ancestors(c.Request.Context(), id, queryInt(c, "depth"))
	if errChain != nil {
		internalhttp.WriteError(c, errChain)
		return
	}
	out := make([]gin.H, 0, len(chain))
	for i, member := range chain {
		out = append(out, gin.H{
			"level":        i + 1,
			"id":           member.ID,
			"handle":       member.Handle,
			"display_name": member.DisplayName,
			"status":       member.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"member_id": id, "ancestors": out})
}

// Downline returns the downline summary of a member from the graph snapshot.
func (h *MemberHandler) Downline(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	downline, errDownline := h.downlines.Downline(c.Request.Context(), id, queryInt(c, "depth"))
	if errDownline != nil {
		internalhttp.WriteError(c, errDownline)
		return
	}
	c.JSON(http.StatusOK, downline)
}

// Ledger lists the ledger entries of a member, newest first.
func (h *MemberHandler) Ledger(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	account := models.LedgerAccount(strings.TrimSpace(c.Query("account")))
	entries, errEntries := h.mutator.Entries(c.Request.Context(), id, account, queryInt(c, "limit"))
	if errEntries != nil {
		internalhttp.WriteError(c, errEntries)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type setReferrerRequest struct {
	ReferrerHandle string `json:"referrer_handle"`
}

// SetReferrer re-parents a member. An empty handle detaches the member.
func (h *MemberHandler) SetReferrer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body setReferrerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	member, errReparent := h.graph.Reparent(c.Request.Context(), id, body.ReferrerHandle)
	if errReparent != nil {
		internalhttp.WriteError(c, errReparent)
		return
	}
	if errInvalidate := h.downlines.Invalidate(c.Request.Context()); errInvalidate != nil {
		logging.FromContext(c).WithError(errInvalidate).Warn("downline cache invalidation failed")
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          member.ID,
		"handle":      member.Handle,
		"referred_by": member.ReferrerHandle(),
		"changed_by":  actor(c),
	})
}
