package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
)

const DefaultSequenceBatch = 50

// SequenceEngine advances due enrollments one step per sweep
type SequenceEngine interface {
	Sweep(ctx context.Context) (*dto.SweepResult, error)
}

type SequenceEngineImpl struct {
	enrollmentRepo repository.SequenceEnrollmentRepository
	stepRepo       repository.SequenceStepRepository
	sender         SendFlow
	cfg            SweepConfig
}

func NewSequenceEngine(
	enrollmentRepo repository.SequenceEnrollmentRepository,
	stepRepo repository.SequenceStepRepository,
	sender SendFlow,
	cfg SweepConfig,
) SequenceEngine {
	return &SequenceEngineImpl{
		enrollmentRepo: enrollmentRepo,
		stepRepo:       stepRepo,
		sender:         sender,
		cfg:            cfg.withDefaults(DefaultSequenceBatch),
	}
}

// Sweep dispatches each due step before touching its enrollment. A failed dispatch leaves the
// enrollment due, so a step can be sent more than once if the provider accepted it but the
// call still failed. The per-step idempotency header is the only guard against that.
func (e *SequenceEngineImpl) Sweep(ctx context.Context) (*dto.SweepResult, error) {
	now := e.cfg.Now()
	due, err := e.enrollmentRepo.ListDue(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_SWEEP_FAILED", "Failed to list due enrollments", err)
	}

	result := &dto.SweepResult{Found: len(due)}
	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		switch e.process(ctx, item, now) {
		case sweepProcessed:
			result.Processed++
		case sweepSkipped:
			result.Skipped++
		default:
			result.Errored++
		}
	}

	services.ObserveSweep("sequence", "processed", result.Processed)
	services.ObserveSweep("sequence", "errored", result.Errored)
	services.ObserveSweep("sequence", "skipped", result.Skipped)
	utils.LogEvent("sequence_sweep", map[string]any{
		"found": result.Found, "processed": result.Processed, "errored": result.Errored, "skipped": result.Skipped,
	})
	return result, nil
}

type sweepOutcome int

const (
	sweepProcessed sweepOutcome = iota
	sweepSkipped
	sweepErrored
)

func (e *SequenceEngineImpl) process(ctx context.Context, item *models.DueEnrollment, now time.Time) sweepOutcome {
	enrollment := item.Enrollment
	step := item.Step
	fields := map[string]any{"enrollment_id": enrollment.ID, "sequence_id": enrollment.SequenceID, "step": step.StepOrder}

	claimed, err := e.enrollmentRepo.Claim(ctx, enrollment.ID, enrollment.CurrentStep, now, now.Add(e.cfg.ClaimLease))
	if err != nil {
		utils.LogError("sequence_claim", err, fields)
		return sweepErrored
	}
	if !claimed {
		return sweepSkipped
	}

	_, err = e.sender.Send(ctx, &SendRequest{
		OwnerID:        enrollment.OwnerID,
		Recipient:      enrollment.Recipient,
		Subject:        step.Subject,
		Body:           step.Body,
		Track:          true,
		Source:         models.MessageSourceSequence,
		IdempotencyKey: fmt.Sprintf("seq-%d-%d", enrollment.ID, step.StepOrder),
	})
	if err != nil {
		utils.LogError("sequence_step_send", err, fields)
		if IsRecipientUnsubscribed(err) {
			if _, cancelErr := e.enrollmentRepo.Cancel(ctx, enrollment.ID, e.cfg.Now()); cancelErr != nil {
				utils.LogError("sequence_cancel", cancelErr, fields)
				e.release(ctx, enrollment.ID, err, fields)
			}
			return sweepErrored
		}
		e.release(ctx, enrollment.ID, err, fields)
		return sweepErrored
	}

	next, err := e.stepRepo.ByOrder(ctx, enrollment.SequenceID, enrollment.CurrentStep+2)
	if err != nil {
		// sent but not advanced; the lease expires and the step is retried
		utils.LogError("sequence_next_step", err, fields)
		return sweepErrored
	}

	var moved bool
	if next != nil {
		moved, err = e.enrollmentRepo.Advance(ctx, enrollment.ID, enrollment.CurrentStep, e.cfg.Now().Add(utils.Days(next.DelayDays)))
	} else {
		moved, err = e.enrollmentRepo.Complete(ctx, enrollment.ID, enrollment.CurrentStep, e.cfg.Now())
	}
	if err != nil {
		utils.LogError("sequence_transition", err, fields)
		return sweepErrored
	}
	if !moved {
		utils.LogEvent("sequence_transition_lost", fields)
		return sweepSkipped
	}
	return sweepProcessed
}

func (e *SequenceEngineImpl) release(ctx context.Context, id uint, cause error, fields map[string]any) {
	if err := e.enrollmentRepo.Release(ctx, id, cause.Error()); err != nil {
		utils.LogError("sequence_release", err, fields)
	}
}

// SequenceFlow manages sequences and their enrollments for an owner
type SequenceFlow interface {
	CreateSequence(ctx context.Context, req *dto.CreateSequenceRequest) (*dto.SequenceDTO, error)
	ListSequences(ctx context.Context, ownerID uint) ([]dto.SequenceDTO, error)
	GetSequence(ctx context.Context, ownerID, sequenceID uint) (*dto.SequenceDTO, error)
	UpdateStatus(ctx context.Context, req *dto.UpdateSequenceStatusRequest) (*dto.SequenceDTO, error)
	Enroll(ctx context.Context, req *dto.EnrollRequest) (*dto.EnrollResponse, error)
	CancelEnrollment(ctx context.Context, ownerID, enrollmentID uint) error
	ListEnrollments(ctx context.Context, ownerID, sequenceID uint, page, pageSize int) (*dto.ListEnrollmentsResponse, error)
}

type SequenceFlowImpl struct {
	sequenceRepo   repository.SequenceRepository
	stepRepo       repository.SequenceStepRepository
	enrollmentRepo repository.SequenceEnrollmentRepository
	unsubRepo      repository.UnsubscribeRepository
	tx             repository.TxRunner
	now            func() time.Time
}

func NewSequenceFlow(
	sequenceRepo repository.SequenceRepository,
	stepRepo repository.SequenceStepRepository,
	enrollmentRepo repository.SequenceEnrollmentRepository,
	unsubRepo repository.UnsubscribeRepository,
	tx repository.TxRunner,
	now func() time.Time,
) SequenceFlow {
	if now == nil {
		now = utils.UTCNow
	}
	return &SequenceFlowImpl{
		sequenceRepo:   sequenceRepo,
		stepRepo:       stepRepo,
		enrollmentRepo: enrollmentRepo,
		unsubRepo:      unsubRepo,
		tx:             tx,
		now:            now,
	}
}

func (f *SequenceFlowImpl) CreateSequence(ctx context.Context, req *dto.CreateSequenceRequest) (*dto.SequenceDTO, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewBusinessError("MISSING_FIELDS", "Sequence name is required", ErrMissingFields)
	}
	if len(req.Steps) == 0 {
		return nil, NewBusinessError("SEQUENCE_HAS_NO_STEPS", "A sequence needs at least one step", ErrSequenceHasNoSteps)
	}

	seq := &models.Sequence{
		OwnerID: req.OwnerID,
		Name:    strings.TrimSpace(req.Name),
		Status:  models.SequenceStatusActive,
	}
	steps := make([]*models.SequenceStep, 0, len(req.Steps))

	err := f.tx.InTx(ctx, func(ctx context.Context) error {
		if err := f.sequenceRepo.Save(ctx, seq); err != nil {
			return err
		}
		for i, s := range req.Steps {
			steps = append(steps, &models.SequenceStep{
				SequenceID: seq.ID,
				StepOrder:  i + 1,
				DelayDays:  max(0, s.DelayDays),
				Subject:    s.Subject,
				Body:       s.Body,
			})
		}
		return f.stepRepo.SaveBatch(ctx, steps)
	})
	if err != nil {
		return nil, NewBusinessError("CREATE_SEQUENCE_FAILED", "Failed to create sequence", err)
	}

	seq.Steps = make([]models.SequenceStep, 0, len(steps))
	for _, s := range steps {
		seq.Steps = append(seq.Steps, *s)
	}
	out := ToSequenceDTO(seq)
	utils.LogEvent("sequence_created", map[string]any{"owner_id": seq.OwnerID, "sequence_id": seq.ID, "steps": len(steps)})
	return &out, nil
}

func (f *SequenceFlowImpl) ListSequences(ctx context.Context, ownerID uint) ([]dto.SequenceDTO, error) {
	rows, err := f.sequenceRepo.ByFilter(ctx, models.SequenceFilter{OwnerID: &ownerID}, "created_at DESC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("LIST_SEQUENCES_FAILED", "Failed to list sequences", err)
	}
	out := make([]dto.SequenceDTO, 0, len(rows))
	for _, s := range rows {
		steps, err := f.stepRepo.ListBySequence(ctx, s.ID)
		if err != nil {
			return nil, NewBusinessError("LIST_SEQUENCES_FAILED", "Failed to list sequence steps", err)
		}
		s.Steps = make([]models.SequenceStep, 0, len(steps))
		for _, st := range steps {
			s.Steps = append(s.Steps, *st)
		}
		out = append(out, ToSequenceDTO(s))
	}
	return out, nil
}

func (f *SequenceFlowImpl) GetSequence(ctx context.Context, ownerID, sequenceID uint) (*dto.SequenceDTO, error) {
	seq, err := f.ownedSequence(ctx, ownerID, sequenceID)
	if err != nil {
		return nil, err
	}
	out := ToSequenceDTO(seq)
	return &out, nil
}

func (f *SequenceFlowImpl) UpdateStatus(ctx context.Context, req *dto.UpdateSequenceStatusRequest) (*dto.SequenceDTO, error) {
	status := models.SequenceStatus(req.Status)
	if !status.Valid() {
		return nil, NewBusinessError("INVALID_SEQUENCE_STATUS", "Status must be active, paused or archived", ErrInvalidSequenceStatus)
	}
	seq, err := f.ownedSequence(ctx, req.OwnerID, req.SequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status != status {
		if err := f.sequenceRepo.UpdateStatus(ctx, seq.ID, status); err != nil {
			return nil, NewBusinessError("UPDATE_SEQUENCE_FAILED", "Failed to update sequence status", err)
		}
		seq.Status = status
	}
	out := ToSequenceDTO(seq)
	return &out, nil
}

// Enroll adds each recipient at step 0, due after the first step's delay.
// Recipients already active in the sequence or unsubscribed are skipped.
func (f *SequenceFlowImpl) Enroll(ctx context.Context, req *dto.EnrollRequest) (*dto.EnrollResponse, error) {
	seq, err := f.ownedSequence(ctx, req.OwnerID, req.SequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status != models.SequenceStatusActive {
		return nil, NewBusinessError("SEQUENCE_NOT_ACTIVE", "Sequence is not active", ErrSequenceNotActive)
	}
	if len(seq.Steps) == 0 {
		return nil, NewBusinessError("SEQUENCE_HAS_NO_STEPS", "Sequence has no steps", ErrSequenceHasNoSteps)
	}
	first := seq.Steps[0]
	for _, s := range seq.Steps {
		if s.StepOrder == 1 {
			first = s
			break
		}
	}

	now := f.now()
	resp := &dto.EnrollResponse{Enrolled: make([]dto.EnrollmentDTO, 0, len(req.Recipients))}
	seen := make(map[string]struct{}, len(req.Recipients))
	active := models.EnrollmentStatusActive

	for _, raw := range req.Recipients {
		recipient := utils.NormalizeEmail(raw)
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}

		exists, err := f.enrollmentRepo.Exists(ctx, models.SequenceEnrollmentFilter{
			SequenceID: &seq.ID,
			Recipient:  &recipient,
			Status:     &active,
		})
		if err != nil {
			return nil, NewBusinessError("ENROLL_FAILED", "Failed to check enrollments", err)
		}
		if exists {
			resp.Skipped = append(resp.Skipped, dto.EnrollSkipInfo{Recipient: recipient, Reason: "already_enrolled"})
			continue
		}

		unsubscribed, err := f.unsubRepo.IsUnsubscribed(ctx, seq.OwnerID, recipient)
		if err != nil {
			return nil, NewBusinessError("ENROLL_FAILED", "Failed to check unsubscribe list", err)
		}
		if unsubscribed {
			resp.Skipped = append(resp.Skipped, dto.EnrollSkipInfo{Recipient: recipient, Reason: "unsubscribed"})
			continue
		}

		enrollment := &models.SequenceEnrollment{
			SequenceID:  seq.ID,
			OwnerID:     seq.OwnerID,
			Recipient:   recipient,
			Status:      models.EnrollmentStatusActive,
			CurrentStep: 0,
			NextStepDue: utils.ToPtr(now.Add(utils.Days(first.DelayDays))),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := f.enrollmentRepo.Save(ctx, enrollment); err != nil {
			return nil, NewBusinessError("ENROLL_FAILED", "Failed to enroll recipient", err)
		}
		resp.Enrolled = append(resp.Enrolled, ToEnrollmentDTO(enrollment))
	}

	utils.LogEvent("sequence_enrolled", map[string]any{
		"owner_id": seq.OwnerID, "sequence_id": seq.ID, "enrolled": len(resp.Enrolled), "skipped": len(resp.Skipped),
	})
	return resp, nil
}

func (f *SequenceFlowImpl) CancelEnrollment(ctx context.Context, ownerID, enrollmentID uint) error {
	enrollment, err := f.enrollmentRepo.ByID(ctx, enrollmentID)
	if err != nil {
		return NewBusinessError("CANCEL_ENROLLMENT_FAILED", "Failed to lookup enrollment", err)
	}
	if enrollment == nil {
		return NewBusinessError("ENROLLMENT_NOT_FOUND", "Enrollment not found", ErrEnrollmentNotFound)
	}
	if enrollment.OwnerID != ownerID {
		return NewBusinessError("ACCESS_DENIED", "Enrollment belongs to another owner", ErrAccessDenied)
	}
	cancelled, err := f.enrollmentRepo.Cancel(ctx, enrollmentID, f.now())
	if err != nil {
		return NewBusinessError("CANCEL_ENROLLMENT_FAILED", "Failed to cancel enrollment", err)
	}
	if !cancelled {
		return NewBusinessError("ENROLLMENT_NOT_ACTIVE", "Enrollment is already finished", ErrEnrollmentNotActive)
	}
	return nil
}

func (f *SequenceFlowImpl) ListEnrollments(ctx context.Context, ownerID, sequenceID uint, page, pageSize int) (*dto.ListEnrollmentsResponse, error) {
	if _, err := f.ownedSequence(ctx, ownerID, sequenceID); err != nil {
		return nil, err
	}
	page, pageSize = normalizePaging(page, pageSize)
	filter := models.SequenceEnrollmentFilter{SequenceID: &sequenceID, OwnerID: &ownerID}

	total, err := f.enrollmentRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_ENROLLMENTS_FAILED", "Failed to count enrollments", err)
	}
	rows, err := f.enrollmentRepo.ByFilter(ctx, filter, "id ASC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_ENROLLMENTS_FAILED", "Failed to list enrollments", err)
	}

	items := make([]dto.EnrollmentDTO, 0, len(rows))
	for _, r := range rows {
		items = append(items, ToEnrollmentDTO(r))
	}
	return &dto.ListEnrollmentsResponse{
		Items:      items,
		Pagination: paginationInfo(total, page, pageSize),
	}, nil
}

func (f *SequenceFlowImpl) ownedSequence(ctx context.Context, ownerID, sequenceID uint) (*models.Sequence, error) {
	seq, err := f.sequenceRepo.ByIDWithSteps(ctx, sequenceID)
	if err != nil {
		return nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	if seq == nil {
		return nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", ErrSequenceNotFound)
	}
	if seq.OwnerID != ownerID {
		return nil, NewBusinessError("ACCESS_DENIED", "Sequence belongs to another owner", ErrAccessDenied)
	}
	return seq, nil
}
