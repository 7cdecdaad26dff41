package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

// WithdrawalStatus values.
const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
)

// WithdrawalRequest is a member's request to take balance out of the system.
// FeeAmount and NetAmount stay nil until the request is approved.
type WithdrawalRequest struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	MemberID uint64  `gorm:"not null;index"` // Requesting member.
	Member   *Member `gorm:"foreignKey:MemberID"`

	Amount    decimal.Decimal  `gorm:"type:decimal(20,4);not null"` // Gross requested amount.
	FeeAmount *decimal.Decimal `gorm:"type:decimal(20,4)"`          // Processing fee, set on approval.
	NetAmount *decimal.Decimal `gorm:"type:decimal(20,4)"`          // Amount paid out, set on approval.

	Status          WithdrawalStatus `gorm:"type:varchar(16);not null;default:'pending';index"` // Lifecycle state.
	PaymentMethodID *uint64          `gorm:"index"`                                             // Payout destination.
	RejectionReason string           `gorm:"type:text;not null;default:''"`                     // Reason given on rejection.
	ProcessedBy     string           `gorm:"type:text;not null;default:''"`                     // Admin that made the last transition.
	ProcessedAt     *time.Time       // Set on terminal transitions.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PaymentMethod is a payout destination registered by a member.
type PaymentMethod struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	MemberID  uint64         `gorm:"not null;index"`            // Owner.
	Kind      string         `gorm:"type:varchar(32);not null"` // bank, mobile_wallet, ...
	Label     string         `gorm:"type:text;not null;default:''"`
	Details   datatypes.JSON `gorm:"type:jsonb"` // Account details as JSON.
	IsEnabled bool           `gorm:"not null"`   // Whether payouts may target it.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
