// Package audit records breach verdicts to the database so operators can
// review repeat offenders.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormSink persists block events via GORM.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink constructs a GormSink.
func NewGormSink(db *gorm.DB) *GormSink { return &GormSink{db: db} }

// RecordBlock implements engine.Sink. Failures are logged, never surfaced:
// auditing must not turn an admission verdict into an error.
func (s *GormSink) RecordBlock(_ context.Context, record engine.BlockRecord) {
	if s == nil || s.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := models.BlockEvent{
		EndpointKey: record.Key.Endpoint,
		CallerGroup: record.Key.Group,
		CallerID:    record.Key.CallerID,
		RankIndex:   record.RankIndex,
		Mode:        string(record.Rule.Mode),
		Reason:      record.Rule.Reason,
		BlockMillis: record.Rule.BlockTime.Milliseconds(),
		CreatedAt:   record.At.UTC(),
	}
	if payload, errMarshal := json.Marshal(record.Rule); errMarshal == nil {
		row.Rule = datatypes.JSON(payload)
	}

	if errCreate := s.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("audit: record block event failed")
	}
}
