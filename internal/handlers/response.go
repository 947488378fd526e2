package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/autocatalog/internal/services"
	"github.com/example/autocatalog/internal/utils"
)

// ErrorHandler maps service errors onto the JSON error envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		notFoundErr   *services.NotFoundError
		storageErr    *services.StorageError
		fiberErr      *fiber.Error
	)

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"success": false,
			"message": "The given data was invalid.",
			"errors":  validationErr.Fields,
		})
	case errors.As(err, &conflictErr):
		body := fiber.Map{"success": false, "message": conflictErr.Error()}
		if conflictErr.Field != "" {
			body["errors"] = fiber.Map{conflictErr.Field: []string{conflictErr.Message}}
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
	case errors.As(err, &notFoundErr):
		return fail(c, fiber.StatusNotFound, notFoundErr.Error())
	case errors.Is(err, services.ErrUnauthorized):
		return fail(c, fiber.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, services.ErrForbidden):
		return fail(c, fiber.StatusForbidden, "forbidden")
	case errors.As(err, &fiberErr):
		return fail(c, fiberErr.Code, fiberErr.Message)
	case errors.As(err, &storageErr):
		log.Printf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return fail(c, fiber.StatusInternalServerError, "file storage failed")
	default:
		log.Printf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

func respond(c *fiber.Ctx, status int, message string, data interface{}) error {
	body := fiber.Map{"success": true}
	if message != "" {
		body["message"] = message
	}
	if data != nil {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}

func respondPage(c *fiber.Ctx, data interface{}, meta utils.PageMeta) error {
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       data,
		"pagination": meta,
	})
}

func parseID(c *fiber.Ctx, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm)
}

// formFiles returns the files of field, accepting both "images" and "images[]".
func formFiles(c *fiber.Ctx, field string) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid multipart body")
	}
	if files := form.File[field]; len(files) > 0 {
		return files, nil
	}
	return form.File[field+"[]"], nil
}

// formSpecifications decodes the JSON encoded specifications field of a
// multipart form. present is false when the field was not sent.
func formSpecifications(c *fiber.Ctx) (specs []services.SpecificationInput, present bool, err error) {
	raw := strings.TrimSpace(c.FormValue("specifications"))
	if raw == "" {
		return nil, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		verr := &services.ValidationError{}
		verr.Add("specifications", "must be a JSON array")
		return nil, true, verr
	}
	if specs == nil {
		specs = []services.SpecificationInput{}
	}
	return specs, true, nil
}

func bodyError() error {
	return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
}
