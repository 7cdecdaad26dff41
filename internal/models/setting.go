package models

import (
	"encoding/json"
	"time"
)

// Setting stores a runtime policy override as a JSON value keyed by name.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`                      // Setting key.
	Value     json.RawMessage `gorm:"type:jsonb"`                                        // JSON-encoded value.
	UpdatedBy string          `gorm:"type:text;not null;default:''"`                     // Admin that wrote the value.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"` // Last update timestamp.
}
