// Package admin registers the back-office API.
package admin

import (
	"github.com/gin-gonic/gin"
	internalhttp "github.com/router-for-me/MemberLedger/internal/http"
	"github.com/router-for-me/MemberLedger/internal/http/api/admin/handlers"
)

// RegisterAdminRoutes registers the admin routes under /v0/admin. Every route
// requires an admin JWT and the matching permission.
func RegisterAdminRoutes(r *gin.Engine, svc internalhttp.Services) {
	if r == nil || svc.DB == nil {
		return
	}

	admin := r.Group("/v0/admin")
	admin.Use(internalhttp.AdminAuthMiddleware(svc.JWT.Secret), adminPermissionMiddleware())

	permissionHandler := handlers.NewPermissionHandler()
	admin.GET("/permissions", permissionHandler.List)

	commissionHandler := handlers.NewCommissionHandler(svc.Commission)
	admin.POST("/commissions/apply", commissionHandler.Apply)
	admin.GET("/members/:id/earnings", commissionHandler.Earnings)

	integrityHandler := handlers.NewIntegrityHandler(svc.Integrity, svc.Scans)
	admin.GET("/integrity/report", integrityHandler.Report)
	admin.GET("/integrity/report.csv", integrityHandler.ReportCSV)
	admin.POST("/integrity/scans", integrityHandler.CreateScan)
	admin.GET("/integrity/scans/:task_id", integrityHandler.GetScan)

	memberHandler := handlers.NewMemberHandler(svc.Graph, svc.Downlines, svc.Mutator)
	admin.GET("/members/:id/ancestors", memberHandler.Ancestors)
	admin.GET("/members/:id/downline", memberHandler.Downline)
	admin.GET("/members/:id/ledger", memberHandler.Ledger)
	admin.PUT("/members/:id/referrer", memberHandler.SetReferrer)

	withdrawalHandler := handlers.NewWithdrawalHandler(svc.Withdrawals)
	admin.GET("/withdrawals", withdrawalHandler.List)
	admin.POST("/withdrawals/:id/approve", withdrawalHandler.Approve)
	admin.POST("/withdrawals/:id/reject", withdrawalHandler.Reject)
	admin.POST("/withdrawals/:id/processing", withdrawalHandler.Processing)

	transferHandler := handlers.NewTransferHandler(svc.Mutator)
	admin.POST("/transfers/credit", transferHandler.Credit)

	packageHandler := handlers.NewPackageHandler(svc.Purchases)
	admin.GET("/packages", packageHandler.List)
	admin.POST("/packages", packageHandler.Create)
	admin.PUT("/packages/:id", packageHandler.Update)

	packageRequestHandler := handlers.NewPackageRequestHandler(svc.Purchases)
	admin.GET("/package-requests", packageRequestHandler.List)
	admin.POST("/package-requests/:id/approve", packageRequestHandler.Approve)
	admin.POST("/package-requests/:id/reject", packageRequestHandler.Reject)

	settingsHandler := handlers.NewSettingsHandler(svc.DB)
	admin.GET("/settings", settingsHandler.Get)
	admin.PUT("/settings", settingsHandler.Put)
}
