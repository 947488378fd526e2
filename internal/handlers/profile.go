package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/autocatalog/internal/middleware"
	"github.com/example/autocatalog/internal/services"
)

// ProfileHandler manages user profile endpoints.
type ProfileHandler struct {
	auth *services.AuthService
}

// NewProfileHandler constructs ProfileHandler.
func NewProfileHandler(auth *services.AuthService) *ProfileHandler {
	return &ProfileHandler{auth: auth}
}

// GetProfile returns authenticated user profile.
func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	user, err := h.auth.Me(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", user)
}

// UpdateProfile updates user profile fields.
func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req services.UpdateProfileInput
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, err := h.auth.UpdateProfile(c.UserContext(), userID, req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "profile updated", user)
}
