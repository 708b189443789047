package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"gorm.io/gorm"
)

// SequenceEnrollmentRepositoryImpl implements SequenceEnrollmentRepository
type SequenceEnrollmentRepositoryImpl struct {
	*BaseRepository[models.SequenceEnrollment, models.SequenceEnrollmentFilter]
}

func NewSequenceEnrollmentRepository(db *gorm.DB) SequenceEnrollmentRepository {
	return &SequenceEnrollmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SequenceEnrollment, models.SequenceEnrollmentFilter](db),
	}
}

func (r *SequenceEnrollmentRepositoryImpl) applyFilter(db *gorm.DB, f models.SequenceEnrollmentFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.SequenceID != nil {
		db = db.Where("sequence_id = ?", *f.SequenceID)
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
	return db
}

func (r *SequenceEnrollmentRepositoryImpl) ByFilter(ctx context.Context, filter models.SequenceEnrollmentFilter, orderBy string, limit, offset int) ([]*models.SequenceEnrollment, error) {
	query := paginate(r.applyFilter(r.getDB(ctx).Model(&models.SequenceEnrollment{}), filter), orderBy, limit, offset)
	var rows []*models.SequenceEnrollment
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return rows, nil
}

func (r *SequenceEnrollmentRepositoryImpl) Count(ctx context.Context, filter models.SequenceEnrollmentFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.SequenceEnrollment{}), filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return count, nil
}

func (r *SequenceEnrollmentRepositoryImpl) Exists(ctx context.Context, filter models.SequenceEnrollmentFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// ListDue returns active, unclaimed enrollments of active sequences whose
// next step exists and is due, joined with that step.
func (r *SequenceEnrollmentRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DueEnrollment, error) {
	var enrollments []*models.SequenceEnrollment
	err := r.getDB(ctx).
		Table("sequence_enrollments AS e").
		Select("e.*").
		Joins("JOIN sequences s ON s.id = e.sequence_id AND s.status = ?", models.SequenceStatusActive).
		Joins("JOIN sequence_steps ss ON ss.sequence_id = e.sequence_id AND ss.step_order = e.current_step + 1").
		Where("e.status = ? AND e.next_step_due IS NOT NULL AND e.next_step_due <= ?", models.EnrollmentStatusActive, now).
		Where("e.claimed_until IS NULL OR e.claimed_until < ?", now).
		Order("e.next_step_due ASC").
		Limit(limit).
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return nil, nil
	}

	pairs := make([][]any, 0, len(enrollments))
	for _, e := range enrollments {
		pairs = append(pairs, []any{e.SequenceID, e.CurrentStep + 1})
	}
	var steps []models.SequenceStep
	if err := r.getDB(ctx).Where("(sequence_id, step_order) IN ?", pairs).Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to load due steps: %w", err)
	}
	type stepKey struct {
		seq   uint
		order int
	}
	byKey := make(map[stepKey]models.SequenceStep, len(steps))
	for _, s := range steps {
		byKey[stepKey{s.SequenceID, s.StepOrder}] = s
	}

	due := make([]*models.DueEnrollment, 0, len(enrollments))
	for _, e := range enrollments {
		step, ok := byKey[stepKey{e.SequenceID, e.CurrentStep + 1}]
		if !ok {
			continue
		}
		due = append(due, &models.DueEnrollment{Enrollment: *e, Step: step})
	}
	return due, nil
}

func (r *SequenceEnrollmentRepositoryImpl) Claim(ctx context.Context, id uint, expectedStep int, now, leaseUntil time.Time) (bool, error) {
	res := r.getDB(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_step = ?", id, models.EnrollmentStatusActive, expectedStep).
		Where("claimed_until IS NULL OR claimed_until < ?", now).
		Update("claimed_until", leaseUntil)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim enrollment %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *SequenceEnrollmentRepositoryImpl) Release(ctx context.Context, id uint, lastError string) error {
	updates := map[string]any{"claimed_until": nil, "updated_at": utils.UTCNow()}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	if err := r.getDB(ctx).Model(&models.SequenceEnrollment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to release enrollment %d: %w", id, err)
	}
	return nil
}

func (r *SequenceEnrollmentRepositoryImpl) Advance(ctx context.Context, id uint, expectedStep int, nextDue time.Time) (bool, error) {
	res := r.getDB(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_step = ?", id, models.EnrollmentStatusActive, expectedStep).
		Updates(map[string]any{
			"current_step":  expectedStep + 1,
			"next_step_due": nextDue,
			"claimed_until": nil,
			"last_error":    nil,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance enrollment %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *SequenceEnrollmentRepositoryImpl) Complete(ctx context.Context, id uint, expectedStep int, at time.Time) (bool, error) {
	res := r.getDB(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_step = ?", id, models.EnrollmentStatusActive, expectedStep).
		Updates(map[string]any{
			"status":        models.EnrollmentStatusCompleted,
			"current_step":  expectedStep + 1,
			"next_step_due": nil,
			"completed_at":  at,
			"claimed_until": nil,
			"last_error":    nil,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete enrollment %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *SequenceEnrollmentRepositoryImpl) Cancel(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.getDB(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ?", id, models.EnrollmentStatusActive).
		Updates(map[string]any{
			"status":        models.EnrollmentStatusCancelled,
			"next_step_due": nil,
			"cancelled_at":  at,
			"claimed_until": nil,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to cancel enrollment %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *SequenceEnrollmentRepositoryImpl) CancelActiveForRecipient(ctx context.Context, ownerID uint, email string, at time.Time) (int64, error) {
	res := r.getDB(ctx).Model(&models.SequenceEnrollment{}).
		Where("owner_id = ? AND recipient = ? AND status = ?", ownerID, email, models.EnrollmentStatusActive).
		Updates(map[string]any{
			"status":        models.EnrollmentStatusCancelled,
			"next_step_due": nil,
			"cancelled_at":  at,
			"claimed_until": nil,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel enrollments for recipient: %w", res.Error)
	}
	return res.RowsAffected, nil
}
