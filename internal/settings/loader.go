package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/MemberLedger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSetting is returned by Put for unknown keys or malformed values.
var ErrInvalidSetting = errors.New("settings: invalid setting")

// Refresh reloads all settings from the database into the in-memory snapshot.
// It must run at startup; until then every getter returns its fallback.
func Refresh(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := conn.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	latest := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if row.UpdatedAt.UTC().After(latest) {
			latest = row.UpdatedAt.UTC()
		}
	}

	Store(latest, values)
	return nil
}

// Put upserts one setting and refreshes the snapshot.
func Put(ctx context.Context, conn *gorm.DB, key string, value json.RawMessage, actor string) error {
	key = strings.TrimSpace(key)
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: %s is not valid json", ErrInvalidSetting, key)
	}
	if errValidate := validate(key, value); errValidate != nil {
		return errValidate
	}

	row := models.Setting{Key: key, Value: value, UpdatedBy: actor, UpdatedAt: time.Now().UTC()}
	if errUpsert := conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("settings: save %s: %w", key, errUpsert)
	}
	return Refresh(ctx, conn)
}

func validate(key string, value json.RawMessage) error {
	switch key {
	case CommissionCreditInactiveKey:
		if _, ok := ParseBool(value); !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidSetting, key)
		}
	case CommissionMaxDepthKey:
		if n, ok := ParseInt(value); !ok || n <= 0 || n > MaxCommissionDepth {
			return fmt.Errorf("%w: %s must be between 1 and %d", ErrInvalidSetting, key, MaxCommissionDepth)
		}
	case SnapshotRefreshSecondsKey, PackageExpirySweepSecondsKey:
		if n, ok := ParseInt(value); !ok || n <= 0 || n > MaxIntervalSeconds {
			return fmt.Errorf("%w: %s must be between 1 and %d seconds", ErrInvalidSetting, key, MaxIntervalSeconds)
		}
	case WithdrawalFeeRateKey:
		d, ok := ParseDecimal(value)
		if !ok || d.IsNegative() || d.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: %s must be in [0,1)", ErrInvalidSetting, key)
		}
	case WithdrawalMinAmountKey:
		if d, ok := ParseDecimal(value); !ok || d.IsNegative() {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidSetting, key)
		}
	}
	return nil
}
