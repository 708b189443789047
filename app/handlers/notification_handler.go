package handlers

import (
	"bufio"
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/utils"
)

// NotificationHandler holds one server-sent event stream per owner
type NotificationHandler struct {
	hub *services.NotificationHub
	// base ends every open stream on shutdown
	base context.Context
}

func NewNotificationHandler(base context.Context, hub *services.NotificationHub) *NotificationHandler {
	if base == nil {
		base = context.Background()
	}
	return &NotificationHandler{hub: hub, base: base}
}

// Stream answers GET /api/v1/notifications/stream. A new stream for the same owner replaces this one.
func (h *NotificationHandler) Stream(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}

	sub := h.hub.Subscribe(owner)
	utils.LogEvent("push_connected", map[string]any{"owner_id": owner})

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		err := h.hub.Stream(h.base, sub, w)
		if err != nil && !errors.Is(err, context.Canceled) {
			utils.LogEvent("push_disconnected", map[string]any{"owner_id": owner, "reason": err.Error()})
		}
	})
}
