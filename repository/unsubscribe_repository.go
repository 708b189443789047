package repository

import (
	"context"
	"fmt"

	"github.com/jaecopzm/trakpilot/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UnsubscribeRepositoryImpl implements UnsubscribeRepository
type UnsubscribeRepositoryImpl struct {
	*BaseRepository[models.Unsubscribe, struct{}]
}

func NewUnsubscribeRepository(db *gorm.DB) UnsubscribeRepository {
	return &UnsubscribeRepositoryImpl{BaseRepository: NewBaseRepository[models.Unsubscribe, struct{}](db)}
}

func (r *UnsubscribeRepositoryImpl) IsUnsubscribed(ctx context.Context, ownerID uint, email string) (bool, error) {
	var count int64
	err := r.getDB(ctx).Model(&models.Unsubscribe{}).
		Where("owner_id = ? AND email = ?", ownerID, email).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check unsubscribe: %w", err)
	}
	return count > 0, nil
}

func (r *UnsubscribeRepositoryImpl) Record(ctx context.Context, entry *models.Unsubscribe) error {
	err := r.getDB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "email"}},
			DoNothing: true,
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to record unsubscribe: %w", err)
	}
	return nil
}
