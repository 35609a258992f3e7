// Package models defines the audit rows persisted by the recorder.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// BanEvent records one observed 429/418 response from an exchange.
type BanEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Exchange   string `gorm:"type:text;not null;index"` // Exchange name.
	IP         string `gorm:"type:text;not null;index"` // Affected source IP.
	StatusCode int    `gorm:"not null"`                 // 429 or 418.

	RetryAfterSeconds int `gorm:"not null;default:0"` // Parsed Retry-After, 0 when absent.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Extra context, free-form.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Observation timestamp.
}

// PermitSample records one sampled permit decision for offline analysis.
type PermitSample struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ClientID string `gorm:"type:text;not null;index"` // Requesting client id.
	Exchange string `gorm:"type:text;not null;index"` // Exchange name.
	CallKind string `gorm:"type:text;not null"`       // request/order/stream.
	Endpoint string `gorm:"type:text"`                // Endpoint path, may be empty.

	Weight    int    `gorm:"not null"`               // Computed weight.
	Granted   bool   `gorm:"not null"`               // Decision outcome.
	Reason    string `gorm:"type:text"`              // Decision reason.
	Mode      string `gorm:"type:text;not null"`     // distributed/fallback/error.
	IPAddress string `gorm:"type:text"`              // Chosen IP when IP-aware.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Extra context, free-form.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Decision timestamp.
}
