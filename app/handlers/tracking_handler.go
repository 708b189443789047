package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/services"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/utils"
)

// TaskRunner runs detached ingestion work
type TaskRunner interface {
	// Go queues the task or runs it inline when saturated
	Go(task services.BackgroundTask)
	// TrySubmit queues the task; false means it was dropped
	TrySubmit(task services.BackgroundTask) bool
}

// TrackingHandlerInterface defines the public recipient-facing endpoints
type TrackingHandlerInterface interface {
	Beacon(c fiber.Ctx) error
	Redirect(c fiber.Ctx) error
}

// TrackingHandler serves the open beacon and link redirects. Neither ever reports an error to the recipient.
type TrackingHandler struct {
	flow  businessflow.TrackingFlow
	tasks TaskRunner
}

func NewTrackingHandler(flow businessflow.TrackingFlow, tasks TaskRunner) *TrackingHandler {
	return &TrackingHandler{flow: flow, tasks: tasks}
}

// Beacon answers GET /track?id=, /track/:id and /t/:id.gif with a transparent GIF
func (h *TrackingHandler) Beacon(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		id = c.Query("id")
	}
	id = strings.Clone(strings.TrimSpace(id))

	if id != "" {
		metadata := clientMetadata(c)
		h.tasks.Go(func(ctx context.Context) {
			if err := h.flow.RecordOpen(ctx, id, metadata); err != nil {
				utils.LogError("beacon_record_open", err, map[string]any{"tracking_id": id})
			}
		})
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	return c.Status(fiber.StatusOK).Send(utils.TransparentGIF)
}

// Redirect answers GET /l/:code and /redirect/:code with a 302; the click is logged afterwards
func (h *TrackingHandler) Redirect(c fiber.Ctx) error {
	code := strings.Clone(c.Params("code"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	target, link := h.flow.Resolve(ctx, code)
	cancel()

	if link != nil {
		metadata := clientMetadata(c)
		if !h.tasks.TrySubmit(func(ctx context.Context) {
			if err := h.flow.RecordClick(ctx, link, metadata); err != nil {
				utils.LogError("redirect_record_click", err, map[string]any{"code": link.Code})
			}
		}) {
			utils.LogEvent("click_dropped", map[string]any{"code": link.Code, "reason": "pool_saturated"})
		}
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect().Status(fiber.StatusFound).To(target)
}
