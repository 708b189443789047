package repository

import (
	"context"
	"fmt"

	"github.com/jaecopzm/trakpilot/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func applyEngagementFilter(db *gorm.DB, f models.EngagementEventFilter) *gorm.DB {
	if f.MessageID != nil {
		db = db.Where("message_id = ?", *f.MessageID)
	}
	if f.IsProxy != nil {
		db = db.Where("is_proxy = ?", *f.IsProxy)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

// OpenEventRepositoryImpl implements OpenEventRepository
type OpenEventRepositoryImpl struct {
	*BaseRepository[models.OpenEvent, models.EngagementEventFilter]
}

func NewOpenEventRepository(db *gorm.DB) OpenEventRepository {
	return &OpenEventRepositoryImpl{BaseRepository: NewBaseRepository[models.OpenEvent, models.EngagementEventFilter](db)}
}

func (r *OpenEventRepositoryImpl) ListByMessage(ctx context.Context, messageID string, limit int) ([]*models.OpenEvent, error) {
	var rows []*models.OpenEvent
	err := paginate(r.getDB(ctx).Where("message_id = ?", messageID), "created_at DESC", limit, 0).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open events: %w", err)
	}
	return rows, nil
}

func (r *OpenEventRepositoryImpl) Count(ctx context.Context, filter models.EngagementEventFilter) (int64, error) {
	var count int64
	if err := applyEngagementFilter(r.getDB(ctx).Model(&models.OpenEvent{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count open events: %w", err)
	}
	return count, nil
}

// LinkClickEventRepositoryImpl implements LinkClickEventRepository
type LinkClickEventRepositoryImpl struct {
	*BaseRepository[models.LinkClickEvent, models.EngagementEventFilter]
}

func NewLinkClickEventRepository(db *gorm.DB) LinkClickEventRepository {
	return &LinkClickEventRepositoryImpl{BaseRepository: NewBaseRepository[models.LinkClickEvent, models.EngagementEventFilter](db)}
}

func (r *LinkClickEventRepositoryImpl) ListByMessage(ctx context.Context, messageID string, limit int) ([]*models.LinkClickEvent, error) {
	var rows []*models.LinkClickEvent
	err := paginate(r.getDB(ctx).Where("message_id = ?", messageID), "created_at DESC", limit, 0).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list click events: %w", err)
	}
	return rows, nil
}

func (r *LinkClickEventRepositoryImpl) Count(ctx context.Context, filter models.EngagementEventFilter) (int64, error) {
	var count int64
	if err := applyEngagementFilter(r.getDB(ctx).Model(&models.LinkClickEvent{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count click events: %w", err)
	}
	return count, nil
}

func (r *LinkClickEventRepositoryImpl) CountByMessageIDs(ctx context.Context, messageIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		MessageID string
		Total     int64
	}
	err := r.getDB(ctx).Model(&models.LinkClickEvent{}).
		Select("message_id, COUNT(*) AS total").
		Where("message_id = ANY(?)", pq.Array(messageIDs)).
		Group("message_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count clicks by message: %w", err)
	}
	for _, row := range rows {
		out[row.MessageID] = row.Total
	}
	return out, nil
}
