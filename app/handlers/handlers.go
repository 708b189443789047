// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/dto"
	businessflow "github.com/jaecopzm/trakpilot/business_flow"
	"github.com/jaecopzm/trakpilot/utils"
)

// OwnerIDLocal is the fiber local set by the owner authentication middleware
const OwnerIDLocal = "owner_id"

// ErrorResponse writes a failed APIResponse envelope
func ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// SuccessResponse writes a successful APIResponse envelope
func SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func newValidator() *validator.Validate {
	return validator.New()
}

// validate runs struct validation and writes a 400 when it fails. ok is false when a response was written.
func validate(c fiber.Ctx, v *validator.Validate, req any) (bool, error) {
	err := v.Struct(req)
	if err == nil {
		return true, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false, ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "url":
		return err.Field() + " must be a valid URL"
	case "hostname|ip":
		return err.Field() + " must be a hostname or IP address"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

// ownerID reads the authenticated owner; a missing value means the route was mounted without auth
func ownerID(c fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(OwnerIDLocal).(uint)
	return id, ok && id > 0
}

// createRequestContext derives a detached context with request-scoped values for logging
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, strings.Clone(c.Get("X-Request-ID")))
	ctx = context.WithValue(ctx, utils.UserAgentKey, strings.Clone(c.Get("User-Agent")))
	ctx = context.WithValue(ctx, utils.IPAddressKey, clientIP(c))
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	if id, ok := ownerID(c); ok {
		ctx = context.WithValue(ctx, utils.OwnerIDKey, id)
	}
	return ctx, cancel
}

// clientIP returns a copy safe to use after the handler returns
func clientIP(c fiber.Ctx) string {
	return strings.Clone(utils.ClientIP(func(k string) string { return c.Get(k) }, c.IP()))
}

func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	return businessflow.NewClientMetadata(clientIP(c), strings.Clone(c.Get("User-Agent")))
}

func paramUint(c fiber.Ctx, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func queryInt(c fiber.Ctx, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return def
}

// sendErrorStatus maps a public send code to its HTTP status
func sendErrorStatus(code string) int {
	switch code {
	case businessflow.CodeRateLimit:
		return fiber.StatusTooManyRequests
	case businessflow.CodeLimitReached:
		return fiber.StatusPaymentRequired
	case businessflow.CodeUnsubscribed:
		return fiber.StatusForbidden
	case businessflow.CodeMissingConfig:
		return fiber.StatusPreconditionFailed
	case businessflow.CodeSendFailed:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusBadRequest
	}
}

// writeSendError renders a send pipeline rejection; false when err is not one
func writeSendError(c fiber.Ctx, err error) (bool, error) {
	se, ok := businessflow.AsSendError(err)
	if !ok {
		return false, nil
	}
	if se.RetryAfterSeconds > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(se.RetryAfterSeconds))
	}
	var details any
	if se.RetryAfterSeconds > 0 || se.Category != "" {
		details = dto.SendErrorDetails{RetryAfterSeconds: se.RetryAfterSeconds, Category: se.Category}
	}
	return true, ErrorResponse(c, sendErrorStatus(se.Code), se.Message, se.Code, details)
}

// writeLookupError maps the shared not-found and ownership errors; false when err is neither
func writeLookupError(c fiber.Ctx, err error) (bool, error) {
	switch {
	case businessflow.IsMessageNotFound(err):
		return true, ErrorResponse(c, fiber.StatusNotFound, "Message not found", "MESSAGE_NOT_FOUND", nil)
	case businessflow.IsSequenceNotFound(err):
		return true, ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", "SEQUENCE_NOT_FOUND", nil)
	case businessflow.IsEnrollmentNotFound(err):
		return true, ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", "ENROLLMENT_NOT_FOUND", nil)
	case businessflow.IsOwnerNotFound(err):
		return true, ErrorResponse(c, fiber.StatusUnauthorized, "Owner not found", "OWNER_NOT_FOUND", nil)
	case businessflow.IsAccessDenied(err):
		return true, ErrorResponse(c, fiber.StatusForbidden, "Access denied", "ACCESS_DENIED", nil)
	}
	return false, nil
}
