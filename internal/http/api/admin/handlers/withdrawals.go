package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/withdrawal"
)

// WithdrawalHandler reviews withdrawal requests.
type WithdrawalHandler struct {
	svc *withdrawal.Service
}

// NewWithdrawalHandler constructs a WithdrawalHandler.
func NewWithdrawalHandler(svc *withdrawal.Service) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc}
}

// List returns withdrawal requests filtered by status and member.
func (h *WithdrawalHandler) List(c *gin.Context) {
	filter := withdrawal.Filter{
		Status: models.WithdrawalStatus(strings.TrimSpace(c.Query("status"))),
		Limit:  queryInt(c, "limit"),
	}
	if memberID := queryInt(c, "member_id"); memberID > 0 {
		filter.MemberID = uint64(memberID)
	}
	list, errList := h.svc.List(c.Request.Context(), filter)
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}

// Approve debits the member and records fee and net amount.
func (h *WithdrawalHandler) Approve(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	req, errApprove := h.svc.Approve(c.Request.Context(), id, actor(c))
	if errApprove != nil {
		internalhttp.WriteError(c, errApprove)
		return
	}
	c.JSON(http.StatusOK, req)
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

// Reject rejects a request, refunding it when it was already approved.
func (h *WithdrawalHandler) Reject(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body rejectWithdrawalRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	req, errReject := h.svc.Reject(c.Request.Context(), id, actor(c), strings.TrimSpace(body.Reason))
	if errReject != nil {
		internalhttp.WriteError(c, errReject)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Processing marks a pending request as being processed.
func (h *WithdrawalHandler) Processing(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	req, errMark := h.svc.MarkProcessing(c.Request.Context(), id, actor(c))
	if errMark != nil {
		internalhttp.WriteError(c, errMark)
		return
	}
	c.JSON(http.StatusOK, req)
}
