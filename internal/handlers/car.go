package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/services"
	"github.com/example/autocatalog/internal/utils"
)

// CarHandler serves cars and their images.
type CarHandler struct {
	cars    *services.CarService
	catalog *services.CatalogService
}

// NewCarHandler constructs CarHandler.
func NewCarHandler(cars *services.CarService, catalog *services.CatalogService) *CarHandler {
	return &CarHandler{cars: cars, catalog: catalog}
}

// ListCars returns paginated cars with optional filters.
func (h *CarHandler) ListCars(c *fiber.Ctx) error {
	filter, err := parseCarFilter(c)
	if err != nil {
		return err
	}

	cars, meta, err := h.catalog.ListCars(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return respondPage(c, cars, meta)
}

// GetCar loads a car with relations and counts the view.
func (h *CarHandler) GetCar(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	car, err := h.catalog.GetCar(c.UserContext(), id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", car)
}

// ListFeatured returns the featured cars for the landing page.
func (h *CarHandler) ListFeatured(c *fiber.Ctx) error {
	cars, err := h.catalog.ListFeaturedCars(c.UserContext())
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", cars)
}

// CreateCar handles car creation from JSON or multipart bodies.
func (h *CarHandler) CreateCar(c *fiber.Ctx) error {
	var req services.CreateCarInput
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if isMultipart(c) {
		specs, _, err := formSpecifications(c)
		if err != nil {
			return err
		}
		req.Specifications = specs

		if req.Images, err = formFiles(c, "images"); err != nil {
			return err
		}
	}

	car, err := h.cars.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, "car created", car)
}

// UpdateCar applies a partial update.
func (h *CarHandler) UpdateCar(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req services.UpdateCarInput
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if isMultipart(c) {
		specs, present, err := formSpecifications(c)
		if err != nil {
			return err
		}
		if present {
			req.Specifications = &specs
		}
	}

	car, err := h.cars.Update(c.UserContext(), id, req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "car updated", car)
}

// DeleteCar soft deletes a car and removes its images.
func (h *CarHandler) DeleteCar(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.cars.Delete(c.UserContext(), id); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "car deleted", nil)
}

// AddImages uploads more images to a car.
func (h *CarHandler) AddImages(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if !isMultipart(c) {
		verr := &services.ValidationError{}
		verr.Add("images", "is required")
		return verr
	}

	files, err := formFiles(c, "images")
	if err != nil {
		return err
	}

	images, err := h.cars.AddImages(c.UserContext(), id, files, models.ImageType(c.FormValue("image_type")))
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, "images uploaded", images)
}

// DeleteImage removes one image of a car.
func (h *CarHandler) DeleteImage(c *fiber.Ctx) error {
	carID, err := parseID(c, "carId")
	if err != nil {
		return err
	}
	imageID, err := parseID(c, "imageId")
	if err != nil {
		return err
	}

	if err := h.cars.DeleteImage(c.UserContext(), carID, imageID); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "image deleted", nil)
}

// SetPrimaryImage makes one image the primary image of its car.
func (h *CarHandler) SetPrimaryImage(c *fiber.Ctx) error {
	carID, err := parseID(c, "carId")
	if err != nil {
		return err
	}
	imageID, err := parseID(c, "imageId")
	if err != nil {
		return err
	}

	image, err := h.cars.SetPrimaryImage(c.UserContext(), carID, imageID)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "primary image set", image)
}

func parseCarFilter(c *fiber.Ctx) (services.CarFilter, error) {
	pg := utils.ParsePagination(c, services.DefaultCarsPerPage)
	filter := services.CarFilter{
		Search:    c.Query("search"),
		SortBy:    strings.TrimSpace(c.Query("sort_by")),
		SortOrder: strings.TrimSpace(c.Query("sort_order")),
		Page:      pg.Page,
		PerPage:   pg.PerPage,
	}
	verr := &services.ValidationError{}

	if v := strings.TrimSpace(c.Query("brand_id")); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.BrandID = &id
		} else {
			verr.Add("brand_id", "must be a valid UUID")
		}
	}

	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status := models.CarStatus(v)
		filter.Status = &status
	}

	if v := strings.TrimSpace(c.Query("is_featured")); v != "" {
		if featured, err := strconv.ParseBool(v); err == nil {
			filter.IsFeatured = &featured
		} else {
			verr.Add("is_featured", "must be true or false")
		}
	}

	for _, p := range []struct {
		key string
		dst **decimal.Decimal
	}{
		{"min_price", &filter.MinPrice},
		{"max_price", &filter.MaxPrice},
	} {
		v := strings.TrimSpace(c.Query(p.key))
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			verr.Add(p.key, "must be a number")
			continue
		}
		*p.dst = &d
	}

	if err := verr.Err(); err != nil {
		return filter, err
	}
	return filter, nil
}
