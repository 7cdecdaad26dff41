package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
)

// TransferHandler issues administrator credits.
type TransferHandler struct {
	mutator *ledger.Mutator
}

// NewTransferHandler constructs a TransferHandler.
func NewTransferHandler(mutator *ledger.Mutator) *TransferHandler {
	return &TransferHandler{mutator: mutator}
}

type adminCreditRequest struct {
	MemberID       uint64          `json:"member_id"`
	Amount         decimal.Decimal `json:"amount"`
	Type           string          `json:"type"`
	Note           string          `json:"note"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Credit adds balance or shopping credit to a member. The idempotency key is
// read from the body or the Idempotency-Key header and scoped to the acting
// administrator so it never collides with member transfer keys.
func (h *TransferHandler) Credit(c *gin.Context) {
	var body adminCreditRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	transferType := models.TransferType(strings.TrimSpace(body.Type))
	if transferType == "" {
		transferType = models.TransferTypeAdminCredit
	}
	if transferType != models.TransferTypeAdminCredit && transferType != models.TransferTypeAdminShoppingCredit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be admin_credit or admin_shopping_credit"})
		return
	}
	key := strings.TrimSpace(body.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	if key == "" {
		internalhttp.WriteError(c, ledger.ErrMissingIdempotencyKey)
		return
	}
	issuedBy := actor(c)

	transfer, errTransfer := h.mutator.Transfer(c.Request.Context(), ledger.TransferRequest{
		ToMemberID:     body.MemberID,
		Amount:         body.Amount,
		Type:           transferType,
		Note:           strings.TrimSpace(body.Note),
		IssuedBy:       issuedBy,
		IdempotencyKey: "admin:" + issuedBy + ":" + key,
	})
	if errTransfer != nil {
		internalhttp.WriteError(c, errTransfer)
		return
	}
	c.JSON(http.StatusOK, transfer)
}
