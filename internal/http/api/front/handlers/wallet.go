package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/purchase"
	"github.com/router-for-me/MemberLedger/internal/referral"
	"github.com/router-for-me/MemberLedger/internal/withdrawal"
	"github.com/shopspring/decimal"
)

// WalletHandler files withdrawals, transfers and package requests for the member.
type WalletHandler struct {
	withdrawals *withdrawal.Service
	mutator     *ledger.Mutator
	graph       *referral.Store
	purchases   *purchase.Flow
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(withdrawals *withdrawal.Service, mutator *ledger.Mutator, graph *referral.Store, purchases *purchase.Flow) *WalletHandler {
	return &WalletHandler{withdrawals: withdrawals, mutator: mutator, graph: graph, purchases: purchases}
}

type createWithdrawalRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID *uint64         `json:"payment_method_id"`
	PIN             string          `json:"pin"`
}

// CreateWithdrawal files a withdrawal request.
func (h *WalletHandler) CreateWithdrawal(c *gin.Context) {
	var body createWithdrawalRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req, errCreate := h.withdrawals.Create(c.Request.Context(), withdrawal.CreateRequest{
		MemberID:        getMemberID(c),
		Amount:          body.Amount,
		PaymentMethodID: body.PaymentMethodID,
		PIN:             strings.TrimSpace(body.PIN),
	})
	if errCreate != nil {
		internalhttp.WriteError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// ListWithdrawals lists the member's withdrawal requests.
func (h *WalletHandler) ListWithdrawals(c *gin.Context) {
	list, errList := h.withdrawals.List(c.Request.Context(), withdrawal.Filter{
		MemberID: getMemberID(c),
		Status:   models.WithdrawalStatus(strings.TrimSpace(c.Query("status"))),
		Limit:    queryInt(c, "limit"),
	})
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}

type createTransferRequest struct {
	ToHandle       string          `json:"to_handle"`
	Amount         decimal.Decimal `json:"amount"`
	Type           string          `json:"type"`
	Note           string          `json:"note"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// CreateTransfer moves balance or shopping credit to another member by handle.
func (h *WalletHandler) CreateTransfer(c *gin.Context) {
	var body createTransferRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	transferType := models.TransferType(strings.TrimSpace(body.Type))
	if transferType == "" {
		transferType = models.TransferTypeBalance
	}
	if transferType != models.TransferTypeBalance && transferType != models.TransferTypeShopping {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be balance or shopping"})
		return
	}
	receiver, errReceiver := h.graph.MemberByHandle(c.Request.Context(), strings.TrimSpace(body.ToHandle))
	if errReceiver != nil {
		internalhttp.WriteError(c, errReceiver)
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

	senderID := getMemberID(c)
	transfer, errTransfer := h.mutator.Transfer(c.Request.Context(), ledger.TransferRequest{
		FromMemberID: &senderID,
		ToMemberID:   receiver.ID,
		Amount:       body.Amount,
		Type:         transferType,
		Note:         strings.TrimSpace(body.Note),
		IssuedBy:     c.GetString(internalhttp.MemberHandleKey),
		// Keys are scoped to the sender so members cannot collide.
		IdempotencyKey: "member:" + c.GetString(internalhttp.MemberHandleKey) + ":" + key,
	})
	if errTransfer != nil {
		internalhttp.WriteError(c, errTransfer)
		return
	}
	c.JSON(http.StatusOK, transfer)
}

type createPackageRequest struct {
	PackageID uint64 `json:"package_id"`
}

// CreatePackageRequest files a purchase request for a package.
func (h *WalletHandler) CreatePackageRequest(c *gin.Context) {
	var body createPackageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.PackageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req, errCreate := h.purchases.CreateRequest(c.Request.Context(), getMemberID(c), body.PackageID)
	if errCreate != nil {
		if errors.Is(errCreate, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
			return
		}
		internalhttp.WriteError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// ListPackageRequests lists the member's package requests.
func (h *WalletHandler) ListPackageRequests(c *gin.Context) {
	list, errList := h.purchases.List(c.Request.Context(), models.PackageRequestStatus(strings.TrimSpace(c.Query("status"))), getMemberID(c), queryInt(c, "limit"))
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_requests": list})
}
