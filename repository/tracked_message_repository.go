package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"gorm.io/gorm"
)

// TrackedMessageRepositoryImpl implements TrackedMessageRepository
type TrackedMessageRepositoryImpl struct {
	*BaseRepository[models.TrackedMessage, models.TrackedMessageFilter]
}

func NewTrackedMessageRepository(db *gorm.DB) TrackedMessageRepository {
	return &TrackedMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TrackedMessage, models.TrackedMessageFilter](db),
	}
}

func (r *TrackedMessageRepositoryImpl) applyFilter(db *gorm.DB, f models.TrackedMessageFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.Recipient != nil {
		db = db.Where("recipient = ?", *f.Recipient)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Source != nil {
		db = db.Where("source = ?", *f.Source)
	}
	if f.MinHeatScore != nil {
		db = db.Where("heat_score >= ?", *f.MinHeatScore)
	}
	if f.Opened != nil {
		if *f.Opened {
			db = db.Where("opened_at IS NOT NULL")
		} else {
			db = db.Where("opened_at IS NULL")
		}
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *TrackedMessageRepositoryImpl) ByID(ctx context.Context, id string) (*models.TrackedMessage, error) {
	row, err := findOne[models.TrackedMessage](r.getDB(ctx).Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to find tracked message %s: %w", id, err)
	}
	return row, nil
}

func (r *TrackedMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.TrackedMessageFilter, orderBy string, limit, offset int) ([]*models.TrackedMessage, error) {
	query := paginate(r.applyFilter(r.getDB(ctx).Model(&models.TrackedMessage{}), filter), orderBy, limit, offset)
	var rows []*models.TrackedMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracked messages: %w", err)
	}
	return rows, nil
}

func (r *TrackedMessageRepositoryImpl) Count(ctx context.Context, filter models.TrackedMessageFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.TrackedMessage{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count tracked messages: %w", err)
	}
	return count, nil
}

func (r *TrackedMessageRepositoryImpl) ApplyOpen(ctx context.Context, id string, heat int64, openedAt *time.Time) error {
	updates := map[string]any{
		"open_count": gorm.Expr("open_count + ?", 1),
		"heat_score": gorm.Expr("heat_score + ?", heat),
		"updated_at": utils.UTCNow(),
	}
	if openedAt != nil {
		// beacon work is applied out of order; keep the latest real hit
		updates["opened_at"] = gorm.Expr("GREATEST(COALESCE(opened_at, ?), ?)", *openedAt, *openedAt)
	}
	if err := r.getDB(ctx).Model(&models.TrackedMessage{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to apply open to %s: %w", id, err)
	}
	return nil
}

func (r *TrackedMessageRepositoryImpl) AddHeat(ctx context.Context, id string, heat int64) error {
	err := r.getDB(ctx).Model(&models.TrackedMessage{}).Where("id = ?", id).
		Updates(map[string]any{
			"heat_score": gorm.Expr("heat_score + ?", heat),
			"updated_at": utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to add heat to %s: %w", id, err)
	}
	return nil
}

func (r *TrackedMessageRepositoryImpl) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.TrackedMessage, error) {
	var rows []*models.TrackedMessage
	err := r.getDB(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.MessageStatusPending, now).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled messages: %w", err)
	}
	return rows, nil
}

func (r *TrackedMessageRepositoryImpl) ClaimScheduled(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	res := r.getDB(ctx).Model(&models.TrackedMessage{}).
		Where("id = ? AND status = ? AND scheduled_at <= ?", id, models.MessageStatusPending, now).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Update("claimed_until", leaseUntil)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim scheduled message %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *TrackedMessageRepositoryImpl) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	err := r.getDB(ctx).Model(&models.TrackedMessage{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":         models.MessageStatusSent,
			"sent_at":        sentAt,
			"failure_reason": nil,
			"claimed_until":  nil,
			"updated_at":     utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark %s sent: %w", id, err)
	}
	return nil
}

func (r *TrackedMessageRepositoryImpl) MarkFailed(ctx context.Context, id string, reason string) error {
	err := r.getDB(ctx).Model(&models.TrackedMessage{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":         models.MessageStatusFailed,
			"failure_reason": reason,
			"claimed_until":  nil,
			"updated_at":     utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", id, err)
	}
	return nil
}
