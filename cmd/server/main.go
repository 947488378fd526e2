package main

import (
	"log"

	"github.com/example/autocatalog/internal/config"
	"github.com/example/autocatalog/internal/database"
	"github.com/example/autocatalog/internal/routes"
	"github.com/example/autocatalog/internal/storage"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL, cfg.DBLogLevel)

	if cfg.SeedOnStart {
		if _, err := database.Seed(db, database.Admin{
			Name:     cfg.AdminName,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		}); err != nil {
			log.Printf("Seeding failed: %v", err)
		}
	}

	store, err := storage.NewLocalStore(cfg.StorageRoot, cfg.PublicBaseURL)
	if err != nil {
		log.Fatalf("failed to prepare storage: %v", err)
	}

	app := routes.NewApp(cfg, db, store)

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
