package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rankgate/rankgate/internal/models"
	"github.com/rankgate/rankgate/internal/rule"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRankStore persists caller standings to the application database, so
// escalation survives restarts of every gate process without Redis.
type GormRankStore struct {
	db *gorm.DB
}

// NewGormRankStore constructs a GormRankStore.
func NewGormRankStore(db *gorm.DB) *GormRankStore {
	return &GormRankStore{db: db}
}

// Standing implements RankStore. Rows past their advisory expiry behave as
// absent without being deleted inline.
func (s *GormRankStore) Standing(ctx context.Context, key Key) (Standing, bool, error) {
	if s == nil || s.db == nil {
		return Standing{}, false, fmt.Errorf("%w: gorm rank store not initialized", ErrUnavailable)
	}

	var row models.CallerStanding
	errFind := s.db.WithContext(ctx).Where("key = ?", key.String()).Take(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return Standing{}, false, nil
	}
	if errFind != nil {
		return Standing{}, false, fmt.Errorf("%w: standing: %v", ErrUnavailable, errFind)
	}
	if row.ExpiresAt != nil && !time.Now().Before(*row.ExpiresAt) {
		return Standing{}, false, nil
	}

	standing := Standing{
		Rank:        row.RankIndex,
		IgnoreTimes: row.IgnoreTimes,
	}
	if row.BlockedUntil != nil {
		standing.BlockedUntil = *row.BlockedUntil
	}
	if row.IgnoreUntil != nil {
		standing.IgnoreUntil = *row.IgnoreUntil
	}
	if len(row.BlockedBy) > 0 {
		var snap rule.Snapshot
		if errUnmarshal := json.Unmarshal(row.BlockedBy, &snap); errUnmarshal == nil {
			standing.BlockedBy = &snap
		}
	}
	return standing, true, nil
}

// SaveStanding implements RankStore via an upsert keyed on the standing key.
func (s *GormRankStore) SaveStanding(ctx context.Context, key Key, standing Standing, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: gorm rank store not initialized", ErrUnavailable)
	}

	now := time.Now().UTC()
	row := models.CallerStanding{
		Key:         key.String(),
		EndpointKey: key.Endpoint,
		CallerGroup: key.Group,
		CallerID:    key.CallerID,
		RankIndex:   standing.Rank,
		IgnoreTimes: standing.IgnoreTimes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !standing.BlockedUntil.IsZero() {
		until := standing.BlockedUntil
		row.BlockedUntil = &until
	}
	if !standing.IgnoreUntil.IsZero() {
		until := standing.IgnoreUntil
		row.IgnoreUntil = &until
	}
	if standing.BlockedBy != nil {
		payload, errMarshal := json.Marshal(standing.BlockedBy)
		if errMarshal != nil {
			return fmt.Errorf("store: encode blocked-by snapshot: %w", errMarshal)
		}
		row.BlockedBy = datatypes.JSON(payload)
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		row.ExpiresAt = &expires
	}

	if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rank_index", "blocked_until", "blocked_by",
			"ignore_times", "ignore_until", "expires_at", "updated_at",
		}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("%w: save standing: %v", ErrUnavailable, errUpsert)
	}
	return nil
}

// DeleteStanding implements RankStore.
func (s *GormRankStore) DeleteStanding(ctx context.Context, key Key) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: gorm rank store not initialized", ErrUnavailable)
	}
	if errDelete := s.db.WithContext(ctx).
		Where("key = ?", key.String()).
		Delete(&models.CallerStanding{}).Error; errDelete != nil {
		return fmt.Errorf("%w: delete standing: %v", ErrUnavailable, errDelete)
	}
	return nil
}

// SweepExpired deletes rows whose advisory expiry has passed. Intended for
// periodic host-driven cleanup; correctness never depends on it.
func (s *GormRankStore) SweepExpired(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("%w: gorm rank store not initialized", ErrUnavailable)
	}
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now().UTC()).
		Delete(&models.CallerStanding{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: sweep standings: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}
