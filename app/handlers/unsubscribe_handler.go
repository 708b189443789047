package handlers

import (
	"fmt"
	"html"
	"strings"

	"github.com/gofiber/fiber/v3"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/utils"
)

const unsubscribePage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"><title>%s</title></head>
<body style="font-family:sans-serif;max-width:480px;margin:64px auto;padding:0 16px;color:#222">
<h1 style="font-size:20px">%s</h1>
<p>%s</p>
</body>
</html>`

// UnsubscribeHandler serves the footer opt-out link
type UnsubscribeHandler struct {
	flow businessflow.UnsubscribeFlow
}

func NewUnsubscribeHandler(flow businessflow.UnsubscribeFlow) *UnsubscribeHandler {
	return &UnsubscribeHandler{flow: flow}
}

// Unsubscribe handles GET and POST /unsubscribe?token=. It always answers with a small HTML page.
func (h *UnsubscribeHandler) Unsubscribe(c fiber.Ctx) error {
	token := strings.Clone(strings.TrimSpace(c.Query("token")))

	ctx, cancel := createRequestContext(c, "/unsubscribe", utils.DefaultRequestTimeout)
	defer cancel()

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-store")

	res, err := h.flow.Unsubscribe(ctx, token, clientMetadata(c))
	if err != nil {
		if businessflow.IsInvalidUnsubscribeLink(err) {
			return c.Status(fiber.StatusBadRequest).SendString(renderUnsubscribePage(
				"Link expired",
				"This unsubscribe link is invalid or has expired. Reply to the sender to be removed.",
			))
		}
		utils.LogError("unsubscribe", err, nil)
		return c.Status(fiber.StatusInternalServerError).SendString(renderUnsubscribePage(
			"Something went wrong",
			"We could not process your request. Please try the link again later.",
		))
	}

	return c.Status(fiber.StatusOK).SendString(renderUnsubscribePage(
		"You have been unsubscribed",
		fmt.Sprintf("%s will no longer receive these emails.", html.EscapeString(res.Email)),
	))
}

func renderUnsubscribePage(title, message string) string {
	return fmt.Sprintf(unsubscribePage, html.EscapeString(title), html.EscapeString(title), message)
}
