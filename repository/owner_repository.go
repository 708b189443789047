package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"gorm.io/gorm"
)

// OwnerRepositoryImpl implements OwnerRepository
type OwnerRepositoryImpl struct {
	*BaseRepository[models.Owner, models.OwnerFilter]
}

func NewOwnerRepository(db *gorm.DB) OwnerRepository {
	return &OwnerRepositoryImpl{BaseRepository: NewBaseRepository[models.Owner, models.OwnerFilter](db)}
}

func (r *OwnerRepositoryImpl) applyFilter(db *gorm.DB, f models.OwnerFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.Email != nil {
		db = db.Where("email = ?", *f.Email)
	}
	return db
}

func (r *OwnerRepositoryImpl) ByFilter(ctx context.Context, filter models.OwnerFilter, orderBy string, limit, offset int) ([]*models.Owner, error) {
	query := paginate(r.applyFilter(r.getDB(ctx).Model(&models.Owner{}), filter), orderBy, limit, offset)
	var rows []*models.Owner
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return rows, nil
}

func (r *OwnerRepositoryImpl) Count(ctx context.Context, filter models.OwnerFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Owner{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return count, nil
}

func (r *OwnerRepositoryImpl) Exists(ctx context.Context, filter models.OwnerFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *OwnerRepositoryImpl) ByUUID(ctx context.Context, id string) (*models.Owner, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	row, err := findOne[models.Owner](r.getDB(ctx).Where("uuid = ?", parsed))
	if err != nil {
		return nil, fmt.Errorf("failed to find owner by uuid: %w", err)
	}
	return row, nil
}

func (r *OwnerRepositoryImpl) ClaimMonthlySend(ctx context.Context, ownerID uint, period string, limit int64) (bool, error) {
	query := r.getDB(ctx).Model(&models.Owner{}).Where("id = ?", ownerID)
	if limit > 0 {
		query = query.Where("is_premium OR quota_period <> ? OR monthly_send_count < ?", period, limit)
	}
	// SET expressions read the pre-update row, so the CASE sees the old period
	res := query.Updates(map[string]any{
		"monthly_send_count": gorm.Expr("CASE WHEN quota_period = ? THEN monthly_send_count + 1 ELSE 1 END", period),
		"quota_period":       period,
		"updated_at":         utils.UTCNow(),
	})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim monthly send: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *OwnerRepositoryImpl) ReleaseMonthlySend(ctx context.Context, ownerID uint, period string) error {
	err := r.getDB(ctx).Model(&models.Owner{}).
		Where("id = ? AND quota_period = ? AND monthly_send_count > 0", ownerID, period).
		Updates(map[string]any{
			"monthly_send_count": gorm.Expr("monthly_send_count - 1"),
			"updated_at":         utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release monthly send: %w", err)
	}
	return nil
}

func (r *OwnerRepositoryImpl) UpdateSettings(ctx context.Context, ownerID uint, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = utils.UTCNow()
	if err := r.getDB(ctx).Model(&models.Owner{}).Where("id = ?", ownerID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update owner settings: %w", err)
	}
	return nil
}
