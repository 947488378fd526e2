// Command seed loads the demo catalog and the admin account into the database.
package main

import (
	"log"

	"github.com/example/autocatalog/internal/config"
	"github.com/example/autocatalog/internal/database"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL, cfg.DBLogLevel)

	report, err := database.Seed(db, database.Admin{
		Name:     cfg.AdminName,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	})
	if err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	if !report.Admin && cfg.AdminEmail == "" {
		log.Println("ADMIN_EMAIL not set, no admin account was created")
	}
}
