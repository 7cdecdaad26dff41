package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/purchase"
)

// PackageRequestHandler reviews package purchase requests.
type PackageRequestHandler struct {
	flow *purchase.Flow
}

// NewPackageRequestHandler constructs a PackageRequestHandler.
func NewPackageRequestHandler(flow *purchase.Flow) *PackageRequestHandler {
	return &PackageRequestHandler{flow: flow}
}

// List returns package requests filtered by status and member.
func (h *PackageRequestHandler) List(c *gin.Context) {
	status := models.PackageRequestStatus(strings.TrimSpace(c.Query("status")))
	var memberID uint64
	if id := queryInt(c, "member_id"); id > 0 {
		memberID = uint64(id)
	}
	list, errList := h.flow.List(c.Request.Context(), status, memberID, queryInt(c, "limit"))
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_requests": list})
}

// Approve approves a request, granting the package and paying commissions.
// Approving an approved request retries only the effects that failed.
func (h *PackageRequestHandler) Approve(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	approval, errApprove := h.flow.Approve(c.Request.Context(), id)
	if errApprove != nil {
		internalhttp.WriteError(c, errApprove)
		return
	}
	status := http.StatusOK
	if len(approval.Commission.Failed()) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, approval)
}

// Reject rejects a pending request.
func (h *PackageRequestHandler) Reject(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	req, errReject := h.flow.Reject(c.Request.Context(), id)
	if errReject != nil {
		internalhttp.WriteError(c, errReject)
		return
	}
	c.JSON(http.StatusOK, req)
}
