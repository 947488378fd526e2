package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/services"
)

const (
	userContextKey  = "currentUserID"
	roleContextKey  = "currentUserRole"
	tokenContextKey = "currentToken"
)

// AuthMiddleware validates JWT tokens and loads the authenticated user into context.
func AuthMiddleware(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := BearerToken(c)
		if err != nil {
			return err
		}

		identity, err := auth.VerifyToken(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.Locals(userContextKey, identity.UserID)
		c.Locals(roleContextKey, identity.Role)
		c.Locals(tokenContextKey, identity.Token)
		return c.Next()
	}
}

// BearerToken returns the token of the Authorization header without verifying it.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// RequireRole rejects callers whose role is not one of roles. It must run after AuthMiddleware.
func RequireRole(roles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := services.Authorize(GetCurrentRole(c), roles...); err != nil {
			return err
		}
		return c.Next()
	}
}

// GetCurrentUserID extracts the authenticated user ID from context.
func GetCurrentUserID(c *fiber.Ctx) (uuid.UUID, bool) {
	value := c.Locals(userContextKey)
	if value == nil {
		return uuid.Nil, false
	}

	if id, ok := value.(uuid.UUID); ok {
		return id, true
	}

	return uuid.Nil, false
}

// GetCurrentRole returns the role of the authenticated user, or "" when there is none.
func GetCurrentRole(c *fiber.Ctx) models.Role {
	role, _ := c.Locals(roleContextKey).(models.Role)
	return role
}

// GetCurrentToken returns the raw bearer token of the request.
func GetCurrentToken(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenContextKey).(string)
	return token
}
