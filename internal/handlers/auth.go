package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/autocatalog/internal/middleware"
	"github.com/example/autocatalog/internal/services"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	auth *services.AuthService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Register creates a new user account.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req services.RegisterInput
	if err := parseBody(c, &req); err != nil {
		return err
	}

	token, err := h.auth.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, "user registered", token)
}

// Login authenticates an existing user.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req services.LoginInput
	if err := parseBody(c, &req); err != nil {
		return err
	}

	token, err := h.auth.Login(c.UserContext(), req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", token)
}

// Logout revokes the token of the request.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.auth.InvalidateToken(c.UserContext(), middleware.GetCurrentToken(c)); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "logged out", nil)
}

// Refresh swaps the bearer token for a new one. Expired tokens are accepted
// while they are inside the refresh window.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	raw, err := middleware.BearerToken(c)
	if err != nil {
		return err
	}

	token, err := h.auth.RefreshToken(c.UserContext(), raw)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", token)
}
