package db

import (
	"fmt"

	"github.com/router-for-me/MemberLedger/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every ledger table.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Member{},
		&models.Package{},
		&models.PackageRequest{},
		&models.Earning{},
		&models.Transfer{},
		&models.PaymentMethod{},
		&models.WithdrawalRequest{},
		&models.LedgerEntry{},
		&models.AppliedMutation{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
