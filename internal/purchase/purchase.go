// Package purchase turns an approved package request into member credits and
// commissions.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/MemberLedger/internal/commission"
	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrInvalidTransition is returned when a request is not in a reviewable state.
	ErrInvalidTransition = errors.New("purchase: invalid status transition")
	// ErrPackageDisabled is returned when requesting a disabled package.
	ErrPackageDisabled = errors.New("purchase: package is disabled")
)

// Approval is the effect of approving one package request.
type Approval struct {
	Request    models.PackageRequest `json:"request"`
	Commission *commission.Result    `json:"commission"`
}

// Flow manages package requests.
type Flow struct {
	db       *gorm.DB
	mutator  *ledger.Mutator
	engine   *commission.Engine
	onChange func(ctx context.Context)
	now      func() time.Time
}

// NewFlow constructs a Flow. onChange, when set, runs after approvals change
// member state that cached views depend on.
func NewFlow(mutator *ledger.Mutator, engine *commission.Engine, onChange func(ctx context.Context)) *Flow {
	return &Flow{
		db:       mutator.DB(),
		mutator:  mutator,
		engine:   engine,
		onChange: onChange,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CommissionRequestID is the triggering request id used for a package request.
func CommissionRequestID(requestID uint64) string {
	return fmt.Sprintf("package-request:%d", requestID)
}

// CreateRequest files a pending request for an enabled package.
func (f *Flow) CreateRequest(ctx context.Context, memberID, packageID uint64) (*models.PackageRequest, error) {
	conn := f.db.WithContext(ctx)
	var member models.Member
	if errFind := conn.Where("id = ?", memberID).Take(&member).Error; errFind != nil {
		return nil, notFound(errFind, "member", memberID)
	}
	var pkg models.Package
	if errFind := conn.Where("id = ?", packageID).Take(&pkg).Error; errFind != nil {
		return nil, notFound(errFind, "package", packageID)
	}
	if !pkg.IsEnabled {
		return nil, ErrPackageDisabled
	}
	req := models.PackageRequest{MemberID: memberID, PackageID: packageID, Status: models.PackageRequestStatusPending}
	if errCreate := conn.Create(&req).Error; errCreate != nil {
		return nil, fmt.Errorf("purchase: create request: %w", errCreate)
	}
	return &req, nil
}

// Approve marks a request approved and applies its effects. It is safe to call
// again for an approved request: every effect is keyed by the request id, so
// only effects that failed earlier are applied.
func (f *Flow) Approve(ctx context.Context, requestID uint64) (*Approval, error) {
	var req models.PackageRequest
	var pkg models.Package
	errTx := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(db.ForUpdate()).Where("id = ?", requestID).Take(&req).Error; errFind != nil {
			return notFound(errFind, "package request", requestID)
		}
		if errFind := tx.Where("id = ?", req.PackageID).Take(&pkg).Error; errFind != nil {
			return notFound(errFind, "package", req.PackageID)
		}
		switch req.Status {
		case models.PackageRequestStatusApproved:
			return nil
		case models.PackageRequestStatusPending:
		default:
			return fmt.Errorf("%w: request %d is %s", ErrInvalidTransition, req.ID, req.Status)
		}

		now := f.now()
		var expiresAt *time.Time
		if pkg.ValidDays > 0 {
			exp := now.AddDate(0, 0, pkg.ValidDays)
			expiresAt = &exp
		}
		if errUpdate := tx.Model(&models.PackageRequest{}).Where("id = ?", req.ID).Updates(map[string]any{
			"status":      models.PackageRequestStatusApproved,
			"reviewed_at": now,
		}).Error; errUpdate != nil {
			return fmt.Errorf("purchase: approve request: %w", errUpdate)
		}
		if errMember := tx.Model(&models.Member{}).Where("id = ?", req.MemberID).Updates(map[string]any{
			"current_package_id": pkg.ID,
			"package_expires_at": expiresAt,
			"status":             models.MemberStatusActive,
		}).Error; errMember != nil {
			return fmt.Errorf("purchase: activate member: %w", errMember)
		}
		req.Status = models.PackageRequestStatusApproved
		req.ReviewedAt = &now
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	if errGrant := f.grant(ctx, &req, &pkg); errGrant != nil {
		return nil, errGrant
	}
	result, errCommission := f.engine.ApplyPurchaseCommission(ctx, req.MemberID, pkg.ID, CommissionRequestID(req.ID))
	if errCommission != nil {
		return nil, errCommission
	}
	if f.onChange != nil {
		f.onChange(ctx)
	}
	log.WithFields(log.Fields{"request": req.ID, "member": req.MemberID, "package": pkg.ID}).Info("purchase: package request approved")
	return &Approval{Request: req, Commission: result}, nil
}

// grant credits the package shopping amount and points to the purchaser.
func (f *Flow) grant(ctx context.Context, req *models.PackageRequest, pkg *models.Package) error {
	grants := []struct {
		account models.LedgerAccount
		amount  decimal.Decimal
		suffix  string
	}{
		{models.LedgerAccountShopping, pkg.ShoppingAmount, "shopping"},
		{models.LedgerAccountPoints, decimal.NewFromInt(pkg.Points), "points"},
	}
	for _, g := range grants {
		if !g.amount.IsPositive() {
			continue
		}
		if _, err := f.mutator.Credit(ctx, ledger.Mutation{
			MemberID:       req.MemberID,
			Account:        g.account,
			Amount:         g.amount,
			Reason:         "package-" + g.suffix,
			IdempotencyKey: fmt.Sprintf("package:%d:%s", req.ID, g.suffix),
			Metadata:       map[string]any{"package_id": pkg.ID, "request_id": req.ID},
		}); err != nil {
			return fmt.Errorf("purchase: grant %s: %w", g.suffix, err)
		}
	}
	return nil
}

// Reject closes a pending request without effects.
func (f *Flow) Reject(ctx context.Context, requestID uint64) (*models.PackageRequest, error) {
	var req models.PackageRequest
	errTx := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(db.ForUpdate()).Where("id = ?", requestID).Take(&req).Error; errFind != nil {
			return notFound(errFind, "package request", requestID)
		}
		if req.Status != models.PackageRequestStatusPending {
			return fmt.Errorf("%w: request %d is %s", ErrInvalidTransition, req.ID, req.Status)
		}
		now := f.now()
		res := tx.Model(&models.PackageRequest{}).
			Where("id = ? AND status = ?", req.ID, models.PackageRequestStatusPending).
			Updates(map[string]any{"status": models.PackageRequestStatusRejected, "reviewed_at": now})
		if res.Error != nil {
			return fmt.Errorf("purchase: reject request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: request %d changed concurrently", ErrInvalidTransition, req.ID)
		}
		req.Status = models.PackageRequestStatusRejected
		req.ReviewedAt = &now
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &req, nil
}

// List returns package requests, newest first, optionally filtered by status or member.
func (f *Flow) List(ctx context.Context, status models.PackageRequestStatus, memberID uint64, limit int) ([]models.PackageRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := f.db.WithContext(ctx).Model(&models.PackageRequest{}).Preload("Package")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if memberID != 0 {
		q = q.Where("member_id = ?", memberID)
	}
	var out []models.PackageRequest
	if errFind := q.Order("id DESC").Limit(limit).Find(&out).Error; errFind != nil {
		return nil, fmt.Errorf("purchase: list requests: %w", errFind)
	}
	return out, nil
}

func notFound(err error, what string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ledger.ErrNotFound, what, id)
	}
	return fmt.Errorf("purchase: load %s %d: %w", what, id, err)
}
