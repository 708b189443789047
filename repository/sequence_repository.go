package repository

import (
	"context"
	"fmt"

	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"gorm.io/gorm"
)

// SequenceRepositoryImpl implements SequenceRepository
type SequenceRepositoryImpl struct {
	*BaseRepository[models.Sequence, models.SequenceFilter]
}

func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &SequenceRepositoryImpl{BaseRepository: NewBaseRepository[models.Sequence, models.SequenceFilter](db)}
}

func (r *SequenceRepositoryImpl) applyFilter(db *gorm.DB, f models.SequenceFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.OwnerID != nil {
		db = db.Where("owner_id = ?", *f.OwnerID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	return db
}

func (r *SequenceRepositoryImpl) ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	query := paginate(r.applyFilter(r.getDB(ctx).Model(&models.Sequence{}), filter), orderBy, limit, offset)
	var rows []*models.Sequence
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	return rows, nil
}

func (r *SequenceRepositoryImpl) Count(ctx context.Context, filter models.SequenceFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Sequence{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count sequences: %w", err)
	}
	return count, nil
}

func (r *SequenceRepositoryImpl) Exists(ctx context.Context, filter models.SequenceFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *SequenceRepositoryImpl) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	row, err := findOne[models.Sequence](r.getDB(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence %d: %w", id, err)
	}
	return row, nil
}

func (r *SequenceRepositoryImpl) UpdateStatus(ctx context.Context, id uint, status models.SequenceStatus) error {
	err := r.getDB(ctx).Model(&models.Sequence{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": utils.UTCNow()}).Error
	if err != nil {
		return fmt.Errorf("failed to update sequence status: %w", err)
	}
	return nil
}

// SequenceStepRepositoryImpl implements SequenceStepRepository
type SequenceStepRepositoryImpl struct {
	*BaseRepository[models.SequenceStep, struct{}]
}

func NewSequenceStepRepository(db *gorm.DB) SequenceStepRepository {
	return &SequenceStepRepositoryImpl{BaseRepository: NewBaseRepository[models.SequenceStep, struct{}](db)}
}

func (r *SequenceStepRepositoryImpl) ByOrder(ctx context.Context, sequenceID uint, order int) (*models.SequenceStep, error) {
	row, err := findOne[models.SequenceStep](r.getDB(ctx).Where("sequence_id = ? AND step_order = ?", sequenceID, order))
	if err != nil {
		return nil, fmt.Errorf("failed to find step %d of sequence %d: %w", order, sequenceID, err)
	}
	return row, nil
}

func (r *SequenceStepRepositoryImpl) ListBySequence(ctx context.Context, sequenceID uint) ([]*models.SequenceStep, error) {
	var rows []*models.SequenceStep
	if err := r.getDB(ctx).Where("sequence_id = ?", sequenceID).Order("step_order ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	return rows, nil
}
