package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/example/autocatalog/internal/config"
	"github.com/example/autocatalog/internal/handlers"
	"github.com/example/autocatalog/internal/middleware"
	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/services"
	"github.com/example/autocatalog/internal/storage"
)

// NewApp builds the fiber application with its middleware and every route.
func NewApp(cfg *config.Config, db *gorm.DB, store storage.BlobStore) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Autocatalog Backend",
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    cfg.BodyLimitMB << 20,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(middleware.CorsMiddleware(cfg.AllowedOrigins()))
	app.Use(compress.New(compress.Config{Level: compress.LevelDefault}))
	app.Use(etag.New())

	app.Static("/storage", cfg.StorageRoot)

	Register(app, db, cfg, store)
	return app
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, store storage.BlobStore) {
	// Orphaned files are reported to the admin chat
	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)

	authService := services.NewAuthService(db, cfg)
	carService := services.NewCarService(db, store, telegramService)
	brandService := services.NewBrandService(db, store, telegramService)
	catalogService := services.NewCatalogService(db, store)

	authHandler := handlers.NewAuthHandler(authService)
	profileHandler := handlers.NewProfileHandler(authService)
	brandHandler := handlers.NewBrandHandler(brandService, catalogService)
	carHandler := handlers.NewCarHandler(carService, catalogService)
	adminHandler := handlers.NewAdminHandler(db, store)

	authenticated := middleware.AuthMiddleware(authService)
	adminOnly := middleware.RequireRole(models.RoleAdmin)
	rateLimited := middleware.AuthRateLimiter(cfg.AuthRateLimit)

	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "message": "ok"})
	})

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", rateLimited, authHandler.Register)
	auth.Post("/login", rateLimited, authHandler.Login)
	auth.Post("/logout", authenticated, authHandler.Logout)
	auth.Post("/refresh", rateLimited, authHandler.Refresh)
	auth.Get("/me", authenticated, profileHandler.GetProfile)
	auth.Put("/profile", authenticated, profileHandler.UpdateProfile)

	// Brands
	brands := api.Group("/brands")
	brands.Get("/", brandHandler.ListBrands)
	brands.Get("/:id", brandHandler.GetBrand)
	brands.Get("/:id/cars", brandHandler.ListBrandCars)
	brands.Post("/", authenticated, adminOnly, brandHandler.CreateBrand)
	brands.Put("/:id", authenticated, adminOnly, brandHandler.UpdateBrand)
	brands.Delete("/:id", authenticated, adminOnly, brandHandler.DeleteBrand)

	// Cars
	api.Get("/cars-featured", carHandler.ListFeatured)

	cars := api.Group("/cars")
	cars.Get("/", carHandler.ListCars)
	cars.Get("/:id", carHandler.GetCar)
	cars.Post("/", authenticated, adminOnly, carHandler.CreateCar)
	cars.Put("/:id", authenticated, adminOnly, carHandler.UpdateCar)
	cars.Delete("/:id", authenticated, adminOnly, carHandler.DeleteCar)
	cars.Post("/:id/images", authenticated, adminOnly, carHandler.AddImages)
	cars.Delete("/:carId/images/:imageId", authenticated, adminOnly, carHandler.DeleteImage)
	cars.Put("/:carId/images/:imageId/primary", authenticated, adminOnly, carHandler.SetPrimaryImage)

	// Admin dashboard
	admin := api.Group("/admin", authenticated, adminOnly)
	admin.Get("/stats", adminHandler.DashboardStats)
	admin.Get("/users", adminHandler.ListAllUsers)
	admin.Get("/recent-cars", adminHandler.RecentCars)
}
