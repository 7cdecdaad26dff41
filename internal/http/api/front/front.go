// Package front registers the member-facing API.
package front

import (
	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/http/api/front/handlers"
)

// RegisterFrontRoutes registers the authenticated member routes under /v0/front.
func RegisterFrontRoutes(r *gin.Engine, svc internalhttp.Services) {
	if r == nil || svc.DB == nil {
		return
	}

	front := r.Group("/v0/front")

	authed := front.Group("")
	authed.Use(internalhttp.MemberAuthMiddleware(svc.DB, svc.JWT.Secret))

	profileHandler := handlers.NewProfileHandler(svc.DB)
	authed.GET("/profile", profileHandler.Get)
	authed.PUT("/profile/pin", profileHandler.ChangePIN)

	networkHandler := handlers.NewNetworkHandler(svc.Downlines, svc.Commission, svc.Mutator)
	authed.GET("/downline", networkHandler.Downline)
	authed.GET("/earnings", networkHandler.Earnings)
	authed.GET("/ledger", networkHandler.Ledger)

	walletHandler := handlers.NewWalletHandler(svc.Withdrawals, svc.Mutator, svc.Graph, svc.Purchases)
	authed.POST("/withdrawals", walletHandler.CreateWithdrawal)
	authed.GET("/withdrawals", walletHandler.ListWithdrawals)
	authed.POST("/transfers", walletHandler.CreateTransfer)
	authed.POST("/package-requests", walletHandler.CreatePackageRequest)
	authed.GET("/package-requests", walletHandler.ListPackageRequests)
}
