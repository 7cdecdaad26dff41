package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferType identifies which account a transfer moves.
type TransferType string

// TransferType values.
const (
	TransferTypeBalance             TransferType = "balance"
	TransferTypeShopping            TransferType = "shopping"
	TransferTypeAdminCredit         TransferType = "admin_credit"
	TransferTypeAdminShoppingCredit TransferType = "admin_shopping_credit"
)

// TransferStatusCompleted is the only transfer status; transfers are synchronous.
const TransferStatusCompleted = "completed"

// Transfer is an immutable movement of balance or shopping credit.
type Transfer struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	FromMemberID *uint64 `gorm:"index"`          // Sender, nil when issued by an administrator.
	ToMemberID   uint64  `gorm:"not null;index"` // Receiver.

	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null"`            // Amount moved.
	TransferType   TransferType    `gorm:"type:varchar(32);not null"`              // Account moved.
	Status         string          `gorm:"type:varchar(16);not null"`              // Always completed.
	Note           string          `gorm:"type:text;not null;default:''"`          // Free-form note.
	IssuedBy       string          `gorm:"type:text;not null;default:''"`          // Admin or member handle.
	IdempotencyKey string          `gorm:"type:varchar(191);not null;uniqueIndex"` // Caller supplied key.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
