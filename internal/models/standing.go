package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallerStanding persists one caller's rank state on one endpoint.
type CallerStanding struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key string `gorm:"type:text;not null;uniqueIndex"` // Storage key (endpoint, group, unique id).

	EndpointKey string `gorm:"type:text;not null;index"` // Protected operation key.
	CallerGroup string `gorm:"type:text;not null"`       // Caller classification group.
	CallerID    string `gorm:"type:text;not null;index"` // Stable caller unique id.

	RankIndex    int            `gorm:"not null;default:0"` // Current escalation ladder index.
	BlockedUntil *time.Time     `gorm:"index"`              // End of the active block window.
	BlockedBy    datatypes.JSON `gorm:"type:json"`          // Snapshot of the rule that blocked.

	IgnoreTimes int        `gorm:"not null;default:0"` // Remaining exempted requests.
	IgnoreUntil *time.Time ``                          // Exemption deadline.

	ExpiresAt *time.Time `gorm:"index"` // Advisory cleanup deadline.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
