package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LedgerAccount names a mutable member counter.
type LedgerAccount string

// LedgerAccount values.
const (
	LedgerAccountBalance  LedgerAccount = "balance"
	LedgerAccountShopping LedgerAccount = "shopping"
	LedgerAccountPoints   LedgerAccount = "points"
)

// LedgerEntry is the audit row written for every member counter mutation.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	MemberID uint64        `gorm:"not null;index"`            // Mutated member.
	Account  LedgerAccount `gorm:"type:varchar(16);not null"` // Mutated counter.

	Change       decimal.Decimal `gorm:"type:decimal(20,4);not null"` // Signed change.
	BalanceAfter decimal.Decimal `gorm:"type:decimal(20,4);not null"` // Counter value after the change.

	Reason         string         `gorm:"type:varchar(64);not null;index"` // Mutation reason.
	IdempotencyKey string         `gorm:"type:varchar(191);not null;index"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"` // Reason specific details.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

// AppliedMutation is the durable idempotency record of a mutation.
type AppliedMutation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	IdempotencyKey string        `gorm:"type:varchar(191);not null;uniqueIndex"` // Consumed key.
	MemberID       uint64        `gorm:"not null;index"`                         // Mutated member.
	Account        LedgerAccount `gorm:"type:varchar(16);not null"`              // Mutated counter.

	Result  decimal.Decimal `gorm:"type:decimal(20,4);not null"` // Counter value right after the original application.
	EntryID uint64          `gorm:"not null;default:0"`          // Ledger entry written by the original application.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
