package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/storage"
	"github.com/example/autocatalog/internal/utils"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	db    *gorm.DB
	store storage.BlobStore
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, store storage.BlobStore) *AdminHandler {
	return &AdminHandler{db: db, store: store}
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	db := h.db.WithContext(c.UserContext())

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var totalBrands int64
	if err := db.Model(&models.Brand{}).Count(&totalBrands).Error; err != nil {
		return err
	}

	var totalCars int64
	if err := db.Model(&models.Car{}).Count(&totalCars).Error; err != nil {
		return err
	}

	var featuredCars int64
	if err := db.Model(&models.Car{}).Where("is_featured = ?", true).Count(&featuredCars).Error; err != nil {
		return err
	}

	// Cars by status
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var statusCounts []statusCount
	if err := db.Model(&models.Car{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return err
	}

	carsByStatus := map[string]int64{
		string(models.CarStatusAvailable): 0,
		string(models.CarStatusReserved):  0,
		string(models.CarStatusSold):      0,
	}
	for _, sc := range statusCounts {
		carsByStatus[sc.Status] = sc.Count
	}

	var totalViews int64
	if err := db.Model(&models.Car{}).
		Select("COALESCE(SUM(view_count), 0)").
		Scan(&totalViews).Error; err != nil {
		return err
	}

	// Value of the cars still for sale, per currency
	type currencyValue struct {
		Currency string
		Total    decimal.Decimal
	}
	var values []currencyValue
	if err := db.Model(&models.Car{}).
		Select("currency, COALESCE(SUM(price), 0) as total").
		Where("status = ?", models.CarStatusAvailable).
		Group("currency").
		Scan(&values).Error; err != nil {
		return err
	}

	inventoryValue := make(map[string]string, len(values))
	for _, v := range values {
		inventoryValue[v.Currency] = models.FormatPrice(v.Total, v.Currency)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_users":     totalUsers,
			"total_brands":    totalBrands,
			"total_cars":      totalCars,
			"featured_cars":   featuredCars,
			"total_views":     totalViews,
			"cars_by_status":  carsByStatus,
			"inventory_value": inventoryValue,
		},
	})
}

// ListAllUsers returns all registered users with pagination and search.
func (h *AdminHandler) ListAllUsers(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c, 20)
	query := h.db.WithContext(c.UserContext()).Model(&models.User{})

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q := utils.ContainsPattern(search)
		query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\')`, q, q)
	}

	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var users []models.User
	if err := query.Order("created_at desc").
		Limit(pg.PerPage).Offset(pg.Offset).
		Find(&users).Error; err != nil {
		return err
	}

	return respondPage(c, users, pg.Meta(total))
}

// RecentCars returns the most recent 5 cars for the dashboard.
func (h *AdminHandler) RecentCars(c *fiber.Ctx) error {
	var cars []models.Car
	if err := h.db.WithContext(c.UserContext()).
		Preload("Brand").
		Order("created_at desc").
		Limit(5).
		Find(&cars).Error; err != nil {
		return err
	}

	for i := range cars {
		cars[i].Present(h.store.URL)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    cars,
	})
}
