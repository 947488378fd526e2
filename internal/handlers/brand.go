package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/autocatalog/internal/services"
)

// BrandHandler serves brands.
type BrandHandler struct {
	brands  *services.BrandService
	catalog *services.CatalogService
}

// NewBrandHandler constructs BrandHandler.
func NewBrandHandler(brands *services.BrandService, catalog *services.CatalogService) *BrandHandler {
	return &BrandHandler{brands: brands, catalog: catalog}
}

// ListBrands returns every brand with its car count.
func (h *BrandHandler) ListBrands(c *fiber.Ctx) error {
	brands, err := h.brands.ListBrands(c.UserContext())
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", brands)
}

// GetBrand returns a brand with its available cars.
func (h *BrandHandler) GetBrand(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	brand, err := h.brands.GetBrand(c.UserContext(), id)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "", brand)
}

// ListBrandCars returns the cars of a brand, twelve per page.
func (h *BrandHandler) ListBrandCars(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	cars, meta, err := h.catalog.ListBrandCars(c.UserContext(), id, c.QueryInt("page", 1))
	if err != nil {
		return err
	}
	return respondPage(c, cars, meta)
}

// CreateBrand stores a brand and its optional logo.
func (h *BrandHandler) CreateBrand(c *fiber.Ctx) error {
	req, err := parseBrandInput(c)
	if err != nil {
		return err
	}

	brand, err := h.brands.CreateBrand(c.UserContext(), req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusCreated, "brand created", brand)
}

// UpdateBrand changes a brand.
func (h *BrandHandler) UpdateBrand(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	req, err := parseBrandInput(c)
	if err != nil {
		return err
	}

	brand, err := h.brands.UpdateBrand(c.UserContext(), id, req)
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "brand updated", brand)
}

// DeleteBrand removes a brand and all of its cars.
func (h *BrandHandler) DeleteBrand(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.brands.DeleteBrand(c.UserContext(), id); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, "brand deleted", nil)
}

func parseBrandInput(c *fiber.Ctx) (services.BrandInput, error) {
	var req services.BrandInput
	if err := parseBody(c, &req); err != nil {
		return req, err
	}

	if isMultipart(c) {
		files, err := formFiles(c, "logo")
		if err != nil {
			return req, err
		}
		if len(files) > 0 {
			req.Logo = files[0]
		}
	}
	return req, nil
}
