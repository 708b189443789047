package businessflow

import (
	"context"
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
)

const (
	DefaultScheduledBatch = 10
	DefaultClaimLease     = 5 * time.Minute
)

// SweepConfig bounds one sweep pass
type SweepConfig struct {
	BatchSize  int
	ClaimLease time.Duration
	Now        func() time.Time
}

func (c SweepConfig) withDefaults(batch int) SweepConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = batch
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = DefaultClaimLease
	}
	if c.Now == nil {
		c.Now = utils.UTCNow
	}
	return c
}

// ScheduledSendFlow dispatches pending messages whose schedule time has passed
type ScheduledSendFlow interface {
	Sweep(ctx context.Context) (*dto.SweepResult, error)
}

type ScheduledSendFlowImpl struct {
	messageRepo repository.TrackedMessageRepository
	sender      SendFlow
	cfg         SweepConfig
}

func NewScheduledSendFlow(messageRepo repository.TrackedMessageRepository, sender SendFlow, cfg SweepConfig) ScheduledSendFlow {
	return &ScheduledSendFlowImpl{
		messageRepo: messageRepo,
		sender:      sender,
		cfg:         cfg.withDefaults(DefaultScheduledBatch),
	}
}

// Sweep handles each due message independently. Only a failure to list the batch aborts the pass.
func (f *ScheduledSendFlowImpl) Sweep(ctx context.Context) (*dto.SweepResult, error) {
	now := f.cfg.Now()
	due, err := f.messageRepo.ListDueScheduled(ctx, now, f.cfg.BatchSize)
	if err != nil {
		return nil, NewBusinessError("SCHEDULED_SWEEP_FAILED", "Failed to list due scheduled messages", err)
	}

	result := &dto.SweepResult{Found: len(due)}
	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}

		claimed, err := f.messageRepo.ClaimScheduled(ctx, msg.ID, now, now.Add(f.cfg.ClaimLease))
		if err != nil {
			result.Errored++
			utils.LogError("scheduled_claim", err, map[string]any{"tracking_id": msg.ID})
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		if err := f.sender.Deliver(ctx, msg); err != nil {
			result.Errored++
			utils.LogError("scheduled_deliver", err, map[string]any{"tracking_id": msg.ID, "owner_id": msg.OwnerID})
			if markErr := f.messageRepo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				utils.LogError("scheduled_mark_failed", markErr, map[string]any{"tracking_id": msg.ID})
			}
			continue
		}

		if err := f.messageRepo.MarkSent(ctx, msg.ID, f.cfg.Now()); err != nil {
			// delivered but not recorded; the lease keeps other sweeps off it until it expires
			result.Errored++
			utils.LogError("scheduled_mark_sent", err, map[string]any{"tracking_id": msg.ID})
			continue
		}
		result.Processed++
	}

	services.ObserveSweep("scheduled", "processed", result.Processed)
	services.ObserveSweep("scheduled", "errored", result.Errored)
	services.ObserveSweep("scheduled", "skipped", result.Skipped)
	utils.LogEvent("scheduled_sweep", map[string]any{
		"found": result.Found, "processed": result.Processed, "errored": result.Errored, "skipped": result.Skipped,
	})
	return result, nil
}
