package handlers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/dto"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/utils"
)

// SequenceHandlerInterface defines drip sequence management endpoints
type SequenceHandlerInterface interface {
	CreateSequence(c fiber.Ctx) error
	ListSequences(c fiber.Ctx) error
	GetSequence(c fiber.Ctx) error
	UpdateStatus(c fiber.Ctx) error
	Enroll(c fiber.Ctx) error
	ListEnrollments(c fiber.Ctx) error
	CancelEnrollment(c fiber.Ctx) error
}

type SequenceHandler struct {
	flow      businessflow.SequenceFlow
	validator *validator.Validate
}

func NewSequenceHandler(flow businessflow.SequenceFlow) *SequenceHandler {
	return &SequenceHandler{flow: flow, validator: newValidator()}
}

// CreateSequence handles POST /api/v1/sequences
func (h *SequenceHandler) CreateSequence(c fiber.Ctx) error {
	var req dto.CreateSequenceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := validate(c, h.validator, &req); !ok {
		return err
	}
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	req.OwnerID = owner

	ctx, cancel := createRequestContext(c, "/api/v1/sequences", 30*time.Second)
	defer cancel()

	seq, err := h.flow.CreateSequence(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "create_sequence", "Failed to create sequence", "CREATE_SEQUENCE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusCreated, "Sequence created successfully", seq)
}

// ListSequences handles GET /api/v1/sequences
func (h *SequenceHandler) ListSequences(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/sequences", 30*time.Second)
	defer cancel()

	items, err := h.flow.ListSequences(ctx, owner)
	if err != nil {
		return h.flowError(c, err, "list_sequences", "Failed to list sequences", "LIST_SEQUENCES_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Sequences retrieved successfully", fiber.Map{"items": items})
}

// GetSequence handles GET /api/v1/sequences/:id
func (h *SequenceHandler) GetSequence(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", "INVALID_SEQUENCE_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/sequences/:id", 30*time.Second)
	defer cancel()

	seq, err := h.flow.GetSequence(ctx, owner, id)
	if err != nil {
		return h.flowError(c, err, "get_sequence", "Failed to get sequence", "GET_SEQUENCE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Sequence retrieved successfully", seq)
}

// UpdateStatus handles PATCH /api/v1/sequences/:id/status
func (h *SequenceHandler) UpdateStatus(c fiber.Ctx) error {
	var req dto.UpdateSequenceStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := validate(c, h.validator, &req); !ok {
		return err
	}
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", "INVALID_SEQUENCE_ID", nil)
	}
	req.OwnerID = owner
	req.SequenceID = id

	ctx, cancel := createRequestContext(c, "/api/v1/sequences/:id/status", 30*time.Second)
	defer cancel()

	seq, err := h.flow.UpdateStatus(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "update_sequence_status", "Failed to update sequence", "UPDATE_SEQUENCE_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Sequence updated successfully", seq)
}

// Enroll handles POST /api/v1/sequences/:id/enrollments
func (h *SequenceHandler) Enroll(c fiber.Ctx) error {
	var req dto.EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := validate(c, h.validator, &req); !ok {
		return err
	}
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", "INVALID_SEQUENCE_ID", nil)
	}
	req.OwnerID = owner
	req.SequenceID = id

	ctx, cancel := createRequestContext(c, "/api/v1/sequences/:id/enrollments", 30*time.Second)
	defer cancel()

	res, err := h.flow.Enroll(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "enroll", "Failed to enroll recipients", "ENROLL_FAILED")
	}
	return SuccessResponse(c, fiber.StatusCreated, "Recipients enrolled", res)
}

// ListEnrollments handles GET /api/v1/sequences/:id/enrollments
func (h *SequenceHandler) ListEnrollments(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", "INVALID_SEQUENCE_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/sequences/:id/enrollments", 30*time.Second)
	defer cancel()

	res, err := h.flow.ListEnrollments(ctx, owner, id, queryInt(c, "page", 1), queryInt(c, "page_size", 0))
	if err != nil {
		return h.flowError(c, err, "list_enrollments", "Failed to list enrollments", "LIST_ENROLLMENTS_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Enrollments retrieved successfully", res)
}

// CancelEnrollment handles DELETE /api/v1/enrollments/:id
func (h *SequenceHandler) CancelEnrollment(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}
	id, ok := paramUint(c, "id")
	if !ok {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid enrollment ID", "INVALID_ENROLLMENT_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/enrollments/:id", 30*time.Second)
	defer cancel()

	if err := h.flow.CancelEnrollment(ctx, owner, id); err != nil {
		return h.flowError(c, err, "cancel_enrollment", "Failed to cancel enrollment", "CANCEL_ENROLLMENT_FAILED")
	}
	return SuccessResponse(c, fiber.StatusOK, "Enrollment cancelled", nil)
}

func (h *SequenceHandler) flowError(c fiber.Ctx, err error, logType, message, code string) error {
	if handled, werr := writeLookupError(c, err); handled {
		return werr
	}
	switch {
	case businessflow.IsMissingFields(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Missing required fields", businessflow.CodeMissingFields, nil)
	case businessflow.IsSequenceHasNoSteps(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Sequence needs at least one step", "SEQUENCE_HAS_NO_STEPS", nil)
	case businessflow.IsInvalidSequenceStatus(err):
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence status", "INVALID_SEQUENCE_STATUS", nil)
	case businessflow.IsSequenceNotActive(err):
		return ErrorResponse(c, fiber.StatusConflict, "Sequence is not active", "SEQUENCE_NOT_ACTIVE", nil)
	case businessflow.IsEnrollmentNotActive(err):
		return ErrorResponse(c, fiber.StatusConflict, "Enrollment is not active", "ENROLLMENT_NOT_ACTIVE", nil)
	}
	utils.LogError(logType, err, nil)
	return ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}
