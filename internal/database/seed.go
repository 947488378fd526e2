package database

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/utils"
)

//go:embed seed/catalog.yaml
var catalogYAML []byte

type seedCatalog struct {
	Brands []seedBrand `yaml:"brands"`
}

type seedBrand struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	IsActive    *bool     `yaml:"is_active"`
	Cars        []seedCar `yaml:"cars"`
}

type seedCar struct {
	Name             string     `yaml:"name"`
	Description      *string    `yaml:"description"`
	Status           string     `yaml:"status"`
	RegistrationYear *string    `yaml:"registration_year"`
	Mileage          *int       `yaml:"mileage"`
	BodyType         *string    `yaml:"body_type"`
	Engine           *string    `yaml:"engine"`
	FuelType         *string    `yaml:"fuel_type"`
	Transmission     *string    `yaml:"transmission"`
	PowerHP          *int       `yaml:"power_hp"`
	PowerKW          *int       `yaml:"power_kw"`
	VMax             *int       `yaml:"v_max"`
	Acceleration     *string    `yaml:"acceleration"`
	Price            string     `yaml:"price"`
	Currency         string     `yaml:"currency"`
	ColorExterior    *string    `yaml:"color_exterior"`
	ColorInterior    *string    `yaml:"color_interior"`
	Doors            *int       `yaml:"doors"`
	Seats            *int       `yaml:"seats"`
	VIN              *string    `yaml:"vin"`
	IsFeatured       bool       `yaml:"is_featured"`
	Specifications   []seedSpec `yaml:"specifications"`
}

type seedSpec struct {
	Key      string  `yaml:"key"`
	Label    string  `yaml:"label"`
	Value    string  `yaml:"value"`
	Unit     *string `yaml:"unit"`
	Category string  `yaml:"category"`
}

// Admin is the account bootstrapped by Seed. It is skipped when Email or Password is empty.
type Admin struct {
	Name     string
	Email    string
	Password string
}

// SeedReport counts the rows Seed created.
type SeedReport struct {
	Brands int
	Cars   int
	Admin  bool
}

// Seed inserts the embedded demo catalog and the admin account. Rows that
// already exist, matched by slug or email, are left alone.
func Seed(conn *gorm.DB, admin Admin) (SeedReport, error) {
	var catalog seedCatalog
	if err := yaml.Unmarshal(catalogYAML, &catalog); err != nil {
		return SeedReport{}, fmt.Errorf("parse seed catalog: %w", err)
	}

	var report SeedReport
	err := conn.Transaction(func(tx *gorm.DB) error {
		created, err := seedAdmin(tx, admin)
		if err != nil {
			return err
		}
		report.Admin = created

		for _, sb := range catalog.Brands {
			brand, created, err := seedBrandRow(tx, sb)
			if err != nil {
				return err
			}
			if created {
				report.Brands++
			}

			for _, sc := range sb.Cars {
				created, err := seedCarRow(tx, brand, sc)
				if err != nil {
					return fmt.Errorf("seed car %q: %w", sc.Name, err)
				}
				if created {
					report.Cars++
				}
			}
		}
		return nil
	})
	if err != nil {
		return SeedReport{}, err
	}

	log.Printf("[Seed] created %d brands, %d cars, admin=%t", report.Brands, report.Cars, report.Admin)
	return report, nil
}

func seedAdmin(tx *gorm.DB, admin Admin) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	if email == "" || admin.Password == "" {
		return false, nil
	}

	var existing models.User
	err := tx.Where("email = ?", email).First(&existing).Error
	if err == nil {
		if existing.Role != models.RoleAdmin {
			return false, tx.Model(&existing).Update("role", models.RoleAdmin).Error
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	hash, err := utils.HashPassword(admin.Password)
	if err != nil {
		return false, err
	}
	name := admin.Name
	if name == "" {
		name = "Administrator"
	}
	user := models.User{Name: name, Email: email, PasswordHash: hash, Role: models.RoleAdmin}
	return true, tx.Create(&user).Error
}

func seedBrandRow(tx *gorm.DB, sb seedBrand) (models.Brand, bool, error) {
	slug := utils.Slugify(sb.Name)

	var brand models.Brand
	err := tx.Where("slug = ?", slug).First(&brand).Error
	if err == nil {
		return brand, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return brand, false, err
	}

	brand = models.Brand{Name: sb.Name, Slug: slug, IsActive: true}
	if sb.Description != "" {
		description := sb.Description
		brand.Description = &description
	}
	if sb.IsActive != nil {
		brand.IsActive = *sb.IsActive
	}
	return brand, true, tx.Create(&brand).Error
}

func seedCarRow(tx *gorm.DB, brand models.Brand, sc seedCar) (bool, error) {
	slug := utils.Slugify(sc.Name)

	var count int64
	if err := tx.Unscoped().Model(&models.Car{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	price, err := decimal.NewFromString(sc.Price)
	if err != nil {
		return false, fmt.Errorf("price: %w", err)
	}
	status := models.CarStatus(sc.Status)
	if !status.Valid() {
		status = models.CarStatusAvailable
	}
	currency := strings.ToUpper(sc.Currency)
	if currency == "" {
		currency = models.DefaultCurrency
	}

	car := models.Car{
		BrandID:          brand.ID,
		Name:             sc.Name,
		Slug:             slug,
		Description:      sc.Description,
		Status:           status,
		RegistrationYear: sc.RegistrationYear,
		Mileage:          sc.Mileage,
		BodyType:         sc.BodyType,
		Engine:           sc.Engine,
		FuelType:         sc.FuelType,
		Transmission:     sc.Transmission,
		PowerHP:          sc.PowerHP,
		PowerKW:          sc.PowerKW,
		VMax:             sc.VMax,
		Acceleration:     sc.Acceleration,
		Price:            price,
		Currency:         currency,
		ColorExterior:    sc.ColorExterior,
		ColorInterior:    sc.ColorInterior,
		Doors:            sc.Doors,
		Seats:            sc.Seats,
		VIN:              sc.VIN,
		IsFeatured:       sc.IsFeatured,
	}
	if err := tx.Create(&car).Error; err != nil {
		return false, err
	}

	if len(sc.Specifications) == 0 {
		return true, nil
	}
	specs := make([]models.CarSpecification, 0, len(sc.Specifications))
	for i, s := range sc.Specifications {
		key := s.Key
		if key == "" {
			key = utils.SpecKey(s.Label)
		}
		category := s.Category
		if category == "" {
			category = models.DefaultSpecCategory
		}
		specs = append(specs, models.CarSpecification{
			CarID:        car.ID,
			SpecKey:      key,
			SpecLabel:    s.Label,
			SpecValue:    s.Value,
			SpecUnit:     s.Unit,
			SpecCategory: category,
			SortOrder:    i,
		})
	}
	return true, tx.Create(&specs).Error
}
