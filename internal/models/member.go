package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberStatus describes whether a member participates in the plan.
type MemberStatus string

// MemberStatus values.
const (
	// MemberStatusActive marks a member in good standing.
	MemberStatusActive MemberStatus = "active"
	// MemberStatusInactive marks a member whose package lapsed or who was deactivated.
	MemberStatusInactive MemberStatus = "inactive"
	// MemberStatusSuspended marks a member blocked by an administrator.
	MemberStatusSuspended MemberStatus = "suspended"
)

// Valid reports whether the status is one of the known values.
func (s MemberStatus) Valid() bool {
	switch s {
	case MemberStatusActive, MemberStatusInactive, MemberStatusSuspended:
		return true
	default:
		return false
	}
}

// Member is a participant of the referral network.
//
// Balance, ShoppingAmount and Points are owned by the ledger mutator and must
// never be written directly. ReferredBy holds the referrer's handle and is not
// enforced by a foreign key.
type Member struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Handle      string       `gorm:"type:varchar(64);not null;uniqueIndex"`      // Stable public handle.
	DisplayName string       `gorm:"type:text;not null;default:''"`              // Display name.
	Email       string       `gorm:"type:text;not null;default:''"`              // Contact email.
	Status      MemberStatus `gorm:"type:varchar(16);not null;default:'active'"` // Membership status.

	Balance        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0;check:chk_members_balance,balance >= 0"`                 // Withdrawable balance.
	ShoppingAmount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0;check:chk_members_shopping_amount,shopping_amount >= 0"` // Shopping credit.
	Points         int64           `gorm:"not null;default:0;check:chk_members_points,points >= 0"`                                      // Reward points.

	ReferredBy *string `gorm:"type:varchar(64);index"` // Referrer handle, if any.

	CurrentPackageID *uint64    `gorm:"index"` // Active package.
	PackageExpiresAt *time.Time // Package expiry.

	TransactionPIN string `gorm:"type:text;not null;default:''"` // Bcrypt hash of the transaction PIN.

	Version int64 `gorm:"not null;default:0"` // Compare-and-swap counter for balance writes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsActive reports whether the member is active.
func (m *Member) IsActive() bool {
	return m != nil && m.Status == MemberStatusActive
}

// ReferrerHandle returns the referrer handle or an empty string.
func (m *Member) ReferrerHandle() string {
	if m == nil || m.ReferredBy == nil {
		return ""
	}
	return *m.ReferredBy
}
