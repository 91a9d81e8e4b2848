package models

import (
	"time"

	"gorm.io/datatypes"
)

// BlockEvent records one breach verdict for auditing repeat offenders.
type BlockEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EndpointKey string `gorm:"type:text;not null;index"` // Protected operation key.
	CallerGroup string `gorm:"type:text;not null"`       // Caller classification group.
	CallerID    string `gorm:"type:text;not null;index"` // Stable caller unique id.

	RankIndex   int            `gorm:"not null;default:0"` // Rank the breach happened at.
	Mode        string         `gorm:"type:text;not null"` // Breaching rule mode (count or delay).
	Reason      string         `gorm:"type:text"`          // Reason reported to the client.
	BlockMillis int64          `gorm:"not null;default:0"` // Applied block duration in milliseconds.
	Rule        datatypes.JSON `gorm:"type:json"`          // Snapshot of the breaching rule.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Breach timestamp.
}
