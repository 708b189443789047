package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/utils"
)

// Sweeper is one periodic batch job
type Sweeper interface {
	Sweep(ctx context.Context) (*dto.SweepResult, error)
}

// CronHandler exposes the sweeps to an external scheduler
type CronHandler struct {
	scheduled Sweeper
	sequences Sweeper
	timeout   time.Duration
}

func NewCronHandler(scheduled, sequences Sweeper, timeout time.Duration) *CronHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CronHandler{scheduled: scheduled, sequences: sequences, timeout: timeout}
}

// SweepScheduled handles GET /api/v1/cron/scheduled
func (h *CronHandler) SweepScheduled(c fiber.Ctx) error {
	return h.run(c, "scheduled", h.scheduled)
}

// SweepSequences handles GET /api/v1/cron/sequences
func (h *CronHandler) SweepSequences(c fiber.Ctx) error {
	return h.run(c, "sequences", h.sequences)
}

func (h *CronHandler) run(c fiber.Ctx, name string, s Sweeper) error {
	ctx, cancel := createRequestContext(c, "/api/v1/cron/"+name, h.timeout)
	defer cancel()

	res, err := s.Sweep(ctx)
	if err != nil {
		utils.LogError("cron_sweep", err, map[string]any{"sweep": name})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Sweep failed", "SWEEP_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Sweep completed", res)
}
