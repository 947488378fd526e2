package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/storage"
	"github.com/example/autocatalog/internal/utils"
)

const (
	// DefaultCarsPerPage is the page size of car listings.
	DefaultCarsPerPage = 12
	featuredCarsLimit  = 6
	listingImageLimit  = 5
)

// sortableCarColumns maps the accepted sort_by values onto columns.
var sortableCarColumns = map[string]string{
	"created_at":        "created_at",
	"updated_at":        "updated_at",
	"name":              "name",
	"price":             "price",
	"mileage":           "mileage",
	"power_hp":          "power_hp",
	"v_max":             "v_max",
	"view_count":        "view_count",
	"registration_year": "registration_year",
}

// CarFilter narrows a car listing. Zero values mean "no constraint".
type CarFilter struct {
	BrandID    *uuid.UUID
	Status     *models.CarStatus
	IsFeatured *bool
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Search     string
	SortBy     string
	SortOrder  string
	Page       int
	PerPage    int
}

// CatalogService answers the public car queries.
type CatalogService struct {
	db    *gorm.DB
	store storage.BlobStore
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(db *gorm.DB, store storage.BlobStore) *CatalogService {
	return &CatalogService{db: db, store: store}
}

// ListCars returns one page of cars matching f, each with its brand and up to
// five primary or gallery images.
func (s *CatalogService) ListCars(ctx context.Context, f CarFilter) ([]models.Car, utils.PageMeta, error) {
	sortBy, sortOrder, err := f.ordering()
	if err != nil {
		return nil, utils.PageMeta{}, err
	}
	pg := utils.NewPagination(f.Page, f.PerPage, DefaultCarsPerPage)

	query := s.db.WithContext(ctx).Model(&models.Car{})

	if f.BrandID != nil {
		query = query.Where("brand_id = ?", *f.BrandID)
	}
	if f.Status != nil {
		query = query.Where("status = ?", *f.Status)
	}
	if f.IsFeatured != nil {
		query = query.Where("is_featured = ?", *f.IsFeatured)
	}
	if f.MinPrice != nil {
		query = query.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		query = query.Where("price <= ?", *f.MaxPrice)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		q := utils.ContainsPattern(search)
		query = query.Where(
			`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\' OR LOWER(body_type) LIKE ? ESCAPE '\')`,
			q, q, q,
		)
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, utils.PageMeta{}, err
	}

	var cars []models.Car
	if err := query.Preload("Brand").
		Order(sortBy + " " + sortOrder).
		Order("id").
		Limit(pg.PerPage).Offset(pg.Offset).
		Find(&cars).Error; err != nil {
		return nil, utils.PageMeta{}, err
	}

	if err := s.attachListingImages(ctx, cars); err != nil {
		return nil, utils.PageMeta{}, err
	}
	return cars, pg.Meta(total), nil
}

// GetCar returns the car with all its images and specifications and counts
// the read as one view.
func (s *CatalogService) GetCar(ctx context.Context, id uuid.UUID) (*models.Car, error) {
	db := s.db.WithContext(ctx)

	var car models.Car
	if err := db.Preload("Brand").
		Preload("Images", bySortOrder).
		Preload("Specifications", bySortOrder).
		First(&car, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("car")
		}
		return nil, err
	}

	if err := db.Model(&models.Car{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
		return nil, err
	}
	car.ViewCount++

	car.Present(s.store.URL)
	return &car, nil
}

// ListFeaturedCars returns the newest featured cars.
func (s *CatalogService) ListFeaturedCars(ctx context.Context) ([]models.Car, error) {
	var cars []models.Car
	if err := s.db.WithContext(ctx).
		Preload("Brand").
		Preload("Images", bySortOrder).
		Where("is_featured = ?", true).
		Order("created_at desc").
		Limit(featuredCarsLimit).
		Find(&cars).Error; err != nil {
		return nil, err
	}
	s.present(cars)
	return cars, nil
}

// ListBrandCars returns one page of the cars of a brand.
func (s *CatalogService) ListBrandCars(ctx context.Context, brandID uuid.UUID, page int) ([]models.Car, utils.PageMeta, error) {
	db := s.db.WithContext(ctx)

	var brands int64
	if err := db.Model(&models.Brand{}).Where("id = ?", brandID).Count(&brands).Error; err != nil {
		return nil, utils.PageMeta{}, err
	}
	if brands == 0 {
		return nil, utils.PageMeta{}, notFound("brand")
	}

	pg := utils.NewPagination(page, DefaultCarsPerPage, DefaultCarsPerPage)
	query := db.Model(&models.Car{}).Where("brand_id = ?", brandID).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, utils.PageMeta{}, err
	}

	var cars []models.Car
	if err := query.Preload("Brand").
		Preload("Images", bySortOrder).
		Order("created_at desc").
		Order("id").
		Limit(pg.PerPage).Offset(pg.Offset).
		Find(&cars).Error; err != nil {
		return nil, utils.PageMeta{}, err
	}
	s.present(cars)
	return cars, pg.Meta(total), nil
}

// attachListingImages loads the primary and gallery images of every car in
// one query and keeps the first few per car.
func (s *CatalogService) attachListingImages(ctx context.Context, cars []models.Car) error {
	if len(cars) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(cars))
	for _, car := range cars {
		ids = append(ids, car.ID)
	}

	var images []models.CarImage
	if err := s.db.WithContext(ctx).
		Where("car_id IN ?", ids).
		Where("(is_primary = ? OR image_type = ?)", true, models.ImageTypeGallery).
		Order("sort_order asc").
		Order("created_at asc").
		Find(&images).Error; err != nil {
		return err
	}

	byCar := make(map[uuid.UUID][]models.CarImage, len(cars))
	for _, img := range images {
		if len(byCar[img.CarID]) < listingImageLimit {
			byCar[img.CarID] = append(byCar[img.CarID], img)
		}
	}
	for i := range cars {
		cars[i].Images = byCar[cars[i].ID]
	}
	s.present(cars)
	return nil
}

func (s *CatalogService) present(cars []models.Car) {
	for i := range cars {
		cars[i].Present(s.store.URL)
	}
}

func (f CarFilter) ordering() (string, string, error) {
	verr := &ValidationError{}

	sortBy := "created_at"
	if f.SortBy != "" {
		col, ok := sortableCarColumns[f.SortBy]
		if !ok {
			verr.Add("sort_by", "must be one of: created_at, updated_at, name, price, mileage, power_hp, v_max, view_count, registration_year")
		}
		sortBy = col
	}

	sortOrder := "desc"
	switch strings.ToLower(f.SortOrder) {
	case "":
	case "asc":
		sortOrder = "asc"
	case "desc":
	default:
		verr.Add("sort_order", "must be one of: asc, desc")
	}

	if f.Status != nil && !f.Status.Valid() {
		verr.Add("status", "must be one of: available, sold, reserved")
	}

	if err := verr.Err(); err != nil {
		return "", "", err
	}
	return sortBy, sortOrder, nil
}
