package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MemberLedger/internal/commission"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/logging"
	"github.com/router-for-me/MemberLedger/internal/purchase"
	"github.com/router-for-me/MemberLedger/internal/referral"
	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	"github.com/router-for-me/MemberLedger/internal/withdrawal"
)

// ErrorStatus maps a domain error to an HTTP status. retryable is set for
// conflicts a client may resubmit with the same idempotency key.
func ErrorStatus(err error) (status int, retryable bool) {
	switch {
	case err == nil:
		return http.StatusOK, false
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict, true
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrAlreadyApplied),
		errors.Is(err, withdrawal.ErrInvalidTransition),
		errors.Is(err, purchase.ErrInvalidTransition),
		errors.Is(err, purchase.ErrPackageReferenced):
		return http.StatusConflict, false
	case errors.Is(err, withdrawal.ErrInvalidPIN):
		return http.StatusForbidden, false
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingIdempotencyKey),
		errors.Is(err, ledger.ErrInvalidTransfer),
		errors.Is(err, commission.ErrInvalidRequest),
		errors.Is(err, withdrawal.ErrBelowMinimum),
		errors.Is(err, withdrawal.ErrInvalidPaymentMethod),
		errors.Is(err, purchase.ErrPackageDisabled),
		errors.Is(err, purchase.ErrInvalidPackage),
		errors.Is(err, referral.ErrCycle),
		errors.Is(err, internalsettings.ErrInvalidSetting):
		return http.StatusBadRequest, false
	default:
		return http.StatusInternalServerError, false
	}
}

// WriteError writes err as a JSON error body. Internal errors are logged and
// replaced by a generic message.
func WriteError(c *gin.Context, err error) {
	status, retryable := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(c).WithError(err).Error("request failed")
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if retryable {
		body["retryable"] = true
	}
	c.JSON(status, body)
}
