package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/purchase"
	"github.com/shopspring/decimal"
)

// PackageHandler manages the package catalog.
type PackageHandler struct {
	flow *purchase.Flow
}

// NewPackageHandler constructs a PackageHandler.
func NewPackageHandler(flow *purchase.Flow) *PackageHandler {
	return &PackageHandler{flow: flow}
}

type createPackageRequest struct {
	Name               string          `json:"name"`
	Rank               *string         `json:"rank"`
	Amount             decimal.Decimal `json:"amount"`
	DirectCommission   decimal.Decimal `json:"direct_commission"`
	IndirectCommission decimal.Decimal `json:"indirect_commission"`
	ShoppingAmount     decimal.Decimal `json:"shopping_amount"`
	Points             int64           `json:"points"`
	ValidDays          int             `json:"valid_days"`
	IsEnabled          *bool           `json:"is_enabled"`
}

// List returns packages; ?enabled=1 hides disabled ones.
func (h *PackageHandler) List(c *gin.Context) {
	list, errList := h.flow.ListPackages(c.Request.Context(), c.Query("enabled") == "1")
	if errList != nil {
		internalhttp.WriteError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": list})
}

// Create adds a package. Packages are enabled unless is_enabled is false.
func (h *PackageHandler) Create(c *gin.Context) {
	var body createPackageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pkg := models.Package{
		Name:               body.Name,
		Rank:               body.Rank,
		Amount:             body.Amount,
		DirectCommission:   body.DirectCommission,
		IndirectCommission: body.IndirectCommission,
		ShoppingAmount:     body.ShoppingAmount,
		Points:             body.Points,
		ValidDays:          body.ValidDays,
		IsEnabled:          body.IsEnabled == nil || *body.IsEnabled,
	}
	if errCreate := h.flow.CreatePackage(c.Request.Context(), &pkg); errCreate != nil {
		internalhttp.WriteError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, pkg)
}

// Update changes a package. Money fields are refused once the package has
// been purchased.
func (h *PackageHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body purchase.PackageUpdate
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pkg, errUpdate := h.flow.UpdatePackage(c.Request.Context(), id, body)
	if errUpdate != nil {
		internalhttp.WriteError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, pkg)
}
