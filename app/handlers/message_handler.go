package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/dto"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// MessageHandlerInterface defines the owner-facing message endpoints
type MessageHandlerInterface interface {
	Send(c fiber.Ctx) error
	ListMessages(c fiber.Ctx) error
	GetMessage(c fiber.Ctx) error
	ExportMessages(c fiber.Ctx) error
	Score(c fiber.Ctx) error
}

// MessageHandler handles sending and engagement reads
type MessageHandler struct {
	sendFlow    businessflow.SendFlow
	messageFlow businessflow.MessageFlow
	validator   *validator.Validate
}

func NewMessageHandler(sendFlow businessflow.SendFlow, messageFlow businessflow.MessageFlow) *MessageHandler {
	return &MessageHandler{
		sendFlow:    sendFlow,
		messageFlow: messageFlow,
		validator:   newValidator(),
	}
}

// Send handles POST /api/v1/messages
func (h *MessageHandler) Send(c fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	req.OwnerID = owner

	// blank fields are reported with the pipeline's own codes
	if strings.TrimSpace(req.Recipient) == "" || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return ErrorResponse(c, fiber.StatusBadRequest, "Recipient, subject and body are required", businessflow.CodeMissingFields, nil)
	}

	source := req.Source
	if source == "" {
		source = models.MessageSourceManual
	}
	if source != models.MessageSourceManual && source != models.MessageSourceExtension {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", []string{"Source must be one of: manual extension"})
	}

	ctx, cancel := createRequestContext(c, "/api/v1/messages", 30*time.Second)
	defer cancel()

	result, err := h.sendFlow.Send(ctx, &businessflow.SendRequest{
		OwnerID:    req.OwnerID,
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Body:       req.Body,
		Track:      req.Track == nil || *req.Track,
		ScheduleAt: req.ScheduleAt,
		Source:     source,
	})
	if err != nil {
		if handled, werr := writeSendError(c, err); handled {
			return werr
		}
		if handled, werr := writeLookupError(c, err); handled {
			return werr
		}
		utils.LogError("send_message", err, map[string]any{"owner_id": owner})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to send message", "SEND_MESSAGE_FAILED", nil)
	}

	resp := dto.SendMessageResponse{
		TrackingID: result.TrackingID,
		Status:     result.Status.String(),
		Scheduled:  result.Scheduled,
	}
	if result.ScheduleAt != nil {
		resp.ScheduleAt = utils.ToPtr(result.ScheduleAt.UTC().Format(time.RFC3339))
	}
	if result.Scheduled {
		return SuccessResponse(c, fiber.StatusAccepted, "Message scheduled", resp)
	}
	return SuccessResponse(c, fiber.StatusCreated, "Message sent", resp)
}

// ListMessages handles GET /api/v1/messages
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	req, err := h.listRequest(c)
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUERY", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/messages", 30*time.Second)
	defer cancel()

	result, err := h.messageFlow.ListMessages(ctx, req)
	if err != nil {
		if businessflow.IsStartDateAfterEndDate(err) {
			return ErrorResponse(c, fiber.StatusBadRequest, "start_date must be before end_date", "INVALID_DATE_RANGE", nil)
		}
		utils.LogError("list_messages", err, map[string]any{"owner_id": req.OwnerID})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list messages", "LIST_MESSAGES_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Messages retrieved successfully", result)
}

// GetMessage handles GET /api/v1/messages/:id
func (h *MessageHandler) GetMessage(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	id := strings.Clone(c.Params("id"))

	ctx, cancel := createRequestContext(c, "/api/v1/messages/"+id, 30*time.Second)
	defer cancel()

	result, err := h.messageFlow.GetMessage(ctx, owner, id)
	if err != nil {
		if handled, werr := writeLookupError(c, err); handled {
			return werr
		}
		utils.LogError("get_message", err, map[string]any{"owner_id": owner, "tracking_id": id})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get message", "GET_MESSAGE_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Message retrieved successfully", result)
}

// ExportMessages handles GET /api/v1/messages/export and returns an xlsx attachment
func (h *MessageHandler) ExportMessages(c fiber.Ctx) error {
	req, err := h.listRequest(c)
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUERY", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/messages/export", 2*time.Minute)
	defer cancel()

	filename, data, err := h.messageFlow.ExportMessages(ctx, req)
	if err != nil {
		if businessflow.IsStartDateAfterEndDate(err) {
			return ErrorResponse(c, fiber.StatusBadRequest, "start_date must be before end_date", "INVALID_DATE_RANGE", nil)
		}
		utils.LogError("export_messages", err, map[string]any{"owner_id": req.OwnerID})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to export messages", "EXPORT_MESSAGES_FAILED", nil)
	}

	c.Attachment(filename)
	c.Set(fiber.HeaderContentType, xlsxContentType)
	return c.Status(fiber.StatusOK).Send(data)
}

// Score handles POST /api/v1/messages/score
func (h *MessageHandler) Score(c fiber.Ctx) error {
	var req dto.ScoreRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := validate(c, h.validator, &req); !ok {
		return err
	}
	return SuccessResponse(c, fiber.StatusOK, "Content scored", businessflow.ScoreContent(&req))
}

type queryError string

func (e queryError) Error() string { return string(e) }

func (h *MessageHandler) listRequest(c fiber.Ctx) (*dto.ListMessagesRequest, error) {
	owner, ok := ownerID(c)
	if !ok {
		return nil, queryError("owner ID not found in context")
	}
	req := &dto.ListMessagesRequest{
		OwnerID:  owner,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 0),
	}
	if v := c.Query("status"); v != "" {
		status := models.MessageStatus(v)
		if !status.Valid() {
			return nil, queryError("status must be one of: pending sent failed")
		}
		req.Status = utils.ToPtr(strings.Clone(v))
	}
	if v := c.Query("recipient"); v != "" {
		req.Recipient = utils.ToPtr(strings.Clone(v))
	}
	if v := c.Query("min_heat_score"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, queryError("min_heat_score must be an integer")
		}
		req.MinHeatScore = &n
	}
	if v := c.Query("opened"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, queryError("opened must be true or false")
		}
		req.Opened = &b
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start_date", &req.StartDate}, {"end_date", &req.EndDate}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, queryError(p.name + " must be an RFC3339 timestamp")
		}
		*p.dst = &t
	}
	return req, nil
}
