package repository

import (
	"context"
	"fmt"

	"github.com/jaecopzm/trakpilot/models"
	"gorm.io/gorm"
)

// TrackedLinkRepositoryImpl implements TrackedLinkRepository
type TrackedLinkRepositoryImpl struct {
	*BaseRepository[models.TrackedLink, models.TrackedLinkFilter]
}

func NewTrackedLinkRepository(db *gorm.DB) TrackedLinkRepository {
	return &TrackedLinkRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TrackedLink, models.TrackedLinkFilter](db),
	}
}

func (r *TrackedLinkRepositoryImpl) applyFilter(db *gorm.DB, f models.TrackedLinkFilter) *gorm.DB {
	if f.Code != nil {
		db = db.Where("code = ?", *f.Code)
	}
	if f.MessageID != nil {
		db = db.Where("message_id = ?", *f.MessageID)
	}
	return db
}

func (r *TrackedLinkRepositoryImpl) ByFilter(ctx context.Context, filter models.TrackedLinkFilter, orderBy string, limit, offset int) ([]*models.TrackedLink, error) {
	query := paginate(r.applyFilter(r.getDB(ctx).Model(&models.TrackedLink{}), filter), orderBy, limit, offset)
	var rows []*models.TrackedLink
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracked links: %w", err)
	}
	return rows, nil
}

func (r *TrackedLinkRepositoryImpl) Count(ctx context.Context, filter models.TrackedLinkFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.TrackedLink{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count tracked links: %w", err)
	}
	return count, nil
}

func (r *TrackedLinkRepositoryImpl) Exists(ctx context.Context, filter models.TrackedLinkFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *TrackedLinkRepositoryImpl) ByCode(ctx context.Context, code string) (*models.TrackedLink, error) {
	row, err := findOne[models.TrackedLink](r.getDB(ctx).Where("code = ?", code))
	if err != nil {
		return nil, fmt.Errorf("failed to find tracked link %s: %w", code, err)
	}
	return row, nil
}

func (r *TrackedLinkRepositoryImpl) ListByMessage(ctx context.Context, messageID string) ([]*models.TrackedLink, error) {
	return r.ByFilter(ctx, models.TrackedLinkFilter{MessageID: &messageID}, "id ASC", 0, 0)
}
