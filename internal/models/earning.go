package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Earning is an append-only record of one commission application.
type Earning struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BeneficiaryMemberID uint64 `gorm:"not null;index;uniqueIndex:idx_earning_application,priority:2"` // Member receiving the commission.
	SourceMemberID      uint64 `gorm:"not null;index"`                                                // Purchaser that triggered it.
	Level               int    `gorm:"not null;uniqueIndex:idx_earning_application,priority:3"`       // 1 = direct, >1 = indirect.

	Amount              decimal.Decimal `gorm:"type:decimal(20,4);not null"`                                               // Commission amount.
	TriggeringRequestID string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_earning_application,priority:1"` // Purchase event id.
	PackageID           uint64          `gorm:"not null;index"`                                                            // Package whose table was applied.

	Credited bool `gorm:"not null"` // False when the balance credit was suppressed by policy.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
