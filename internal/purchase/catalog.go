package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/MemberLedger/internal/db"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInvalidPackage is returned for a package with a missing name or negative amounts.
	ErrInvalidPackage = errors.New("purchase: invalid package")
	// ErrPackageReferenced is returned when changing the money fields of a
	// package that earnings or approved requests already point at.
	ErrPackageReferenced = errors.New("purchase: package is referenced by approved purchases")
)

// PackageUpdate carries optional package changes; nil fields are left alone.
type PackageUpdate struct {
	Name               *string          `json:"name"`
	Rank               *string          `json:"rank"`
	Amount             *decimal.Decimal `json:"amount"`
	DirectCommission   *decimal.Decimal `json:"direct_commission"`
	IndirectCommission *decimal.Decimal `json:"indirect_commission"`
	ShoppingAmount     *decimal.Decimal `json:"shopping_amount"`
	Points             *int64           `json:"points"`
	ValidDays          *int             `json:"valid_days"`
	IsEnabled          *bool            `json:"is_enabled"`
}

func (u PackageUpdate) touchesMoney() bool {
	return u.Amount != nil || u.DirectCommission != nil || u.IndirectCommission != nil ||
		u.ShoppingAmount != nil || u.Points != nil
}

// ListPackages returns packages ordered by price.
func (f *Flow) ListPackages(ctx context.Context, enabledOnly bool) ([]models.Package, error) {
	q := f.db.WithContext(ctx).Model(&models.Package{})
	if enabledOnly {
		q = q.Where("is_enabled = ?", true)
	}
	var list []models.Package
	if errFind := q.Order("amount ASC, id ASC").Find(&list).Error; errFind != nil {
		return nil, fmt.Errorf("purchase: list packages: %w", errFind)
	}
	return list, nil
}

// CreatePackage inserts a package after validating its amounts.
func (f *Flow) CreatePackage(ctx context.Context, pkg *models.Package) error {
	if pkg == nil {
		return ErrInvalidPackage
	}
	pkg.ID = 0
	pkg.Name = strings.TrimSpace(pkg.Name)
	if errValidate := validatePackage(pkg); errValidate != nil {
		return errValidate
	}
	if errCreate := f.db.WithContext(ctx).Create(pkg).Error; errCreate != nil {
		return fmt.Errorf("purchase: create package: %w", errCreate)
	}
	return nil
}

// UpdatePackage applies upd to a package. Money fields are frozen once the
// package has paid out; publish a new package to change prices.
func (f *Flow) UpdatePackage(ctx context.Context, id uint64, upd PackageUpdate) (*models.Package, error) {
	var pkg models.Package
	errTx := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := tx.Clauses(db.ForUpdate()).Where("id = ?", id).Take(&pkg).Error; errFind != nil {
			return notFound(errFind, "package", id)
		}
		if upd.touchesMoney() {
			referenced, errRef := packageReferenced(tx, id)
			if errRef != nil {
				return errRef
			}
			if referenced {
				return fmt.Errorf("%w: package %d", ErrPackageReferenced, id)
			}
		}
		applyUpdate(&pkg, upd)
		if errValidate := validatePackage(&pkg); errValidate != nil {
			return errValidate
		}
		if errSave := tx.Save(&pkg).Error; errSave != nil {
			return fmt.Errorf("purchase: update package: %w", errSave)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &pkg, nil
}

func packageReferenced(tx *gorm.DB, id uint64) (bool, error) {
	var earnings int64
	if errCount := tx.Model(&models.Earning{}).Where("package_id = ?", id).Count(&earnings).Error; errCount != nil {
		return false, fmt.Errorf("purchase: count earnings: %w", errCount)
	}
	if earnings > 0 {
		return true, nil
	}
	var approved int64
	if errCount := tx.Model(&models.PackageRequest{}).
		Where("package_id = ? AND status = ?", id, models.PackageRequestStatusApproved).
		Count(&approved).Error; errCount != nil {
		return false, fmt.Errorf("purchase: count requests: %w", errCount)
	}
	return approved > 0, nil
}

func applyUpdate(pkg *models.Package, upd PackageUpdate) {
	if upd.Name != nil {
		pkg.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Rank != nil {
		rank := strings.TrimSpace(*upd.Rank)
		if rank == "" {
			pkg.Rank = nil
		} else {
			pkg.Rank = &rank
		}
	}
	if upd.Amount != nil {
		pkg.Amount = *upd.Amount
	}
	if upd.DirectCommission != nil {
		pkg.DirectCommission = *upd.DirectCommission
	}
	if upd.IndirectCommission != nil {
		pkg.IndirectCommission = *upd.IndirectCommission
	}
	if upd.ShoppingAmount != nil {
		pkg.ShoppingAmount = *upd.ShoppingAmount
	}
	if upd.Points != nil {
		pkg.Points = *upd.Points
	}
	if upd.ValidDays != nil {
		pkg.ValidDays = *upd.ValidDays
	}
	if upd.IsEnabled != nil {
		pkg.IsEnabled = *upd.IsEnabled
	}
}

func validatePackage(pkg *models.Package) error {
	switch {
	case pkg.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPackage)
	case !pkg.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPackage)
	case pkg.DirectCommission.IsNegative(), pkg.IndirectCommission.IsNegative(), pkg.ShoppingAmount.IsNegative():
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidPackage)
	case pkg.Points < 0 || pkg.ValidDays < 0:
		return fmt.Errorf("%w: points and valid days must not be negative", ErrInvalidPackage)
	}
	return nil
}
