// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/app/handlers"
	"github.com/jaecopzm/trakpilot/app/services"
)

// AuthMiddleware handles JWT token validation for owner endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate validates the owner access token from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return m.authenticate(false)
}

// AuthenticateStream also accepts the token in the access_token query parameter,
// since EventSource clients cannot set headers
func (m *AuthMiddleware) AuthenticateStream() fiber.Handler {
	return m.authenticate(true)
}

func (m *AuthMiddleware) authenticate(allowQuery bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, code, message := bearerToken(c.Get("Authorization"))
		if token == "" && allowQuery {
			if q := c.Query("access_token"); q != "" {
				token, code = q, ""
			}
		}
		if token == "" {
			return unauthorized(c, code, message)
		}

		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				return unauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
			case errors.Is(err, services.ErrTokenInvalid):
				return unauthorized(c, "TOKEN_INVALID", "Invalid access token")
			default:
				return unauthorized(c, "TOKEN_VALIDATION_FAILED", "Token validation failed")
			}
		}

		// Store owner information in context for downstream handlers
		c.Locals(handlers.OwnerIDLocal, claims.OwnerID)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals("request_id", requestID)
		}

		return c.Next()
	}
}

// CronAuth guards the sweep endpoints with a shared secret sent as a bearer token or the key query parameter
func CronAuth(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
				Success: false,
				Message: "Sweep endpoints are disabled",
				Error:   dto.ErrorDetail{Code: "CRON_DISABLED"},
			})
		}

		provided, _, _ := bearerToken(c.Get("Authorization"))
		if provided == "" {
			provided = c.Query("key")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return unauthorized(c, "INVALID_CRON_SECRET", "Invalid sweep credentials")
		}
		return c.Next()
	}
}

// GetOwnerIDFromContext extracts the owner ID from the request context
func GetOwnerIDFromContext(c fiber.Ctx) (uint, bool) {
	ownerID, ok := c.Locals(handlers.OwnerIDLocal).(uint)
	return ownerID, ok
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.TokenClaims, bool) {
	claims, ok := c.Locals("token_claims").(*services.TokenClaims)
	return claims, ok
}

func bearerToken(header string) (token, code, message string) {
	if header == "" {
		return "", "MISSING_AUTHORIZATION_HEADER", "Authorization header is required"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "INVALID_AUTHORIZATION_FORMAT", "Invalid authorization header format. Expected 'Bearer <token>'"
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", "MISSING_ACCESS_TOKEN", "Access token is required"
	}
	return token, "", ""
}

func unauthorized(c fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: code,
		},
	})
}
