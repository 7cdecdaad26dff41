package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package is a purchasable membership tier with its commission table.
// Rows referenced by earnings are treated as immutable; new prices are new rows.
type Package struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string  `gorm:"type:text;not null"` // Display name.
	Rank *string `gorm:"type:text"`          // Optional rank granted by the package.

	Amount             decimal.Decimal `gorm:"type:decimal(20,4);not null"`           // Price.
	DirectCommission   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"` // Level 1 commission.
	IndirectCommission decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"` // Level 2+ commission.
	ShoppingAmount     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0"` // Shopping credit granted.
	Points             int64           `gorm:"not null;default:0"`                    // Points granted.

	ValidDays int  `gorm:"not null;default:0"` // Validity in days, 0 means no expiry.
	IsEnabled bool `gorm:"not null"`           // Whether the package can be requested.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PackageRequestStatus tracks the review state of a package purchase.
type PackageRequestStatus string

// PackageRequestStatus values.
const (
	PackageRequestStatusPending  PackageRequestStatus = "pending"
	PackageRequestStatusApproved PackageRequestStatus = "approved"
	PackageRequestStatusRejected PackageRequestStatus = "rejected"
)

// PackageRequest is a member's purchase of a package awaiting payment review.
type PackageRequest struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	MemberID  uint64               `gorm:"not null;index"`                              // Purchaser.
	PackageID uint64               `gorm:"not null;index"`                              // Requested package.
	Status    PackageRequestStatus `gorm:"type:varchar(16);not null;default:'pending'"` // Review state.

	Member  *Member  `gorm:"foreignKey:MemberID"`  // Purchaser record.
	Package *Package `gorm:"foreignKey:PackageID"` // Package record.

	ReviewedAt *time.Time // Approval or rejection time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
