package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/dto"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/utils"
)

// OwnerHandler reads and updates the owner's sending settings
type OwnerHandler struct {
	flow      businessflow.OwnerSettingsFlow
	validator *validator.Validate
}

func NewOwnerHandler(flow businessflow.OwnerSettingsFlow) *OwnerHandler {
	return &OwnerHandler{flow: flow, validator: newValidator()}
}

// GetSettings handles GET /api/v1/owner/settings
func (h *OwnerHandler) GetSettings(c fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return ErrorResponse(c, fiber.StatusUnauthorized, "Owner ID not found in context", "MISSING_OWNER_ID", nil)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/owner/settings", utils.DefaultRequestTimeout)
	defer cancel()

	res, err := h.flow.GetSettings(ctx, owner)
	if err != nil {
		if handled, werr := writeLookupError(c, err); handled {
			return werr
		}
		utils.LogError("get_owner_settings", err, map[string]any{"owner_id": owner})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load settings", "GET_SETTINGS_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Settings retrieved successfully", res)
}

// UpdateSettings handles PUT /api/v1/owner/settings. Empty strings clear a field.
func (h *OwnerHandler) UpdateSettings(c fiber.Ctx) error {
	var req dto.UpdateOwnerSettingsRequest
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

	ctx, cancel := createRequestContext(c, "/api/v1/owner/settings", utils.DefaultRequestTimeout)
	defer cancel()

	res, err := h.flow.UpdateSettings(ctx, &req)
	if err != nil {
		if handled, werr := writeLookupError(c, err); handled {
			return werr
		}
		if businessflow.IsTransportNotConfigured(err) {
			return ErrorResponse(c, fiber.StatusPreconditionFailed, "Relay secrets cannot be stored on this server", businessflow.CodeMissingConfig, nil)
		}
		utils.LogError("update_owner_settings", err, map[string]any{"owner_id": owner})
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update settings", "UPDATE_SETTINGS_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Settings updated successfully", res)
}
