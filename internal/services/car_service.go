package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/storage"
	"github.com/example/autocatalog/internal/utils"
)

// Upload limits.
const (
	MaxCarImageBytes  = 5 << 20
	MaxBrandLogoBytes = 2 << 20
)

var maxPrice = decimal.RequireFromString("9999999999.99")

// SpecificationInput is one free-form attribute in a create or update request.
type SpecificationInput struct {
	Key      string  `json:"key" validate:"max=255"`
	Label    string  `json:"label" validate:"required,max=255"`
	Value    string  `json:"value" validate:"required,max=1000"`
	Unit     *string `json:"unit" validate:"omitempty,max=50"`
	Category *string `json:"category" validate:"omitempty,max=100"`
}

// CarAttributes are the optional attributes shared by create and update.
type CarAttributes struct {
	Description      *string `json:"description" form:"description"`
	RegistrationYear *string `json:"registration_year" form:"registration_year" validate:"omitempty,max=50"`
	Mileage          *int    `json:"mileage" form:"mileage" validate:"omitempty,gte=0"`
	BodyType         *string `json:"body_type" form:"body_type" validate:"omitempty,max=255"`
	Engine           *string `json:"engine" form:"engine" validate:"omitempty,max=255"`
	FuelType         *string `json:"fuel_type" form:"fuel_type" validate:"omitempty,max=255"`
	Transmission     *string `json:"transmission" form:"transmission" validate:"omitempty,max=255"`
	PowerHP          *int    `json:"power_hp" form:"power_hp" validate:"omitempty,gte=0"`
	PowerKW          *int    `json:"power_kw" form:"power_kw" validate:"omitempty,gte=0"`
	VMax             *int    `json:"v_max" form:"v_max" validate:"omitempty,gte=0"`
	Acceleration     *string `json:"acceleration" form:"acceleration" validate:"omitempty,max=50"`
	Currency         *string `json:"currency" form:"currency" validate:"omitempty,len=3,alpha"`
	ColorExterior    *string `json:"color_exterior" form:"color_exterior" validate:"omitempty,max=255"`
	ColorInterior    *string `json:"color_interior" form:"color_interior" validate:"omitempty,max=255"`
	Doors            *int    `json:"doors" form:"doors" validate:"omitempty,gte=2,lte=5"`
	Seats            *int    `json:"seats" form:"seats" validate:"omitempty,gte=2,lte=9"`
	VIN              *string `json:"vin" form:"vin" validate:"omitempty,max=64"`
	MetaTitle        *string `json:"meta_title" form:"meta_title" validate:"omitempty,max=255"`
	MetaDescription  *string `json:"meta_description" form:"meta_description" validate:"omitempty,max=500"`
	IsFeatured       *bool   `json:"is_featured" form:"is_featured"`
}

// CreateCarInput describes a new car with its specifications and images.
type CreateCarInput struct {
	BrandID string           `json:"brand_id" form:"brand_id" validate:"required,uuid"`
	Name    string           `json:"name" form:"name" validate:"required,max=255"`
	Status  models.CarStatus `json:"status" form:"status" validate:"required,oneof=available sold reserved"`
	Price   *decimal.Decimal `json:"price" form:"price" validate:"required"`
	CarAttributes

	Specifications []SpecificationInput `json:"specifications" form:"-" validate:"omitempty,dive"`

	// Images are stored in order; the first one becomes primary.
	Images    []*multipart.FileHeader `json:"-" form:"-"`
	ImageType models.ImageType        `json:"image_type" form:"image_type" validate:"omitempty,oneof=main gallery interior exterior"`
}

// UpdateCarInput changes only the fields that are present. A present
// Specifications list, even an empty one, replaces every specification.
type UpdateCarInput struct {
	BrandID *string           `json:"brand_id" form:"brand_id" validate:"omitempty,uuid"`
	Name    *string           `json:"name" form:"name" validate:"omitempty,max=255"`
	Status  *models.CarStatus `json:"status" form:"status" validate:"omitempty,oneof=available sold reserved"`
	Price   *decimal.Decimal  `json:"price" form:"price"`
	CarAttributes

	Specifications *[]SpecificationInput `json:"specifications" form:"-" validate:"omitempty,dive"`
}

// CarService owns every write to a car and its images and specifications.
type CarService struct {
	db         *gorm.DB
	store      storage.BlobStore
	reconciler Reconciler
}

// NewCarService constructs CarService.
func NewCarService(db *gorm.DB, store storage.BlobStore, reconciler Reconciler) *CarService {
	return &CarService{db: db, store: store, reconciler: reconciler}
}

// Create validates in and stores the car, its specifications and its images
// in one transaction. Images written before a failure are deleted again.
func (s *CarService) Create(ctx context.Context, in CreateCarInput) (*models.Car, error) {
	normalizeAttributes(&in.CarAttributes)
	in.Name = strings.TrimSpace(in.Name)

	verr := &ValidationError{}
	verr.Merge(utils.ValidateStruct(in))
	checkPrice(verr, in.Price)
	if _, bad := verr.Fields["brand_id"]; !bad {
		s.checkBrand(ctx, verr, in.BrandID)
	}
	s.checkVIN(ctx, verr, in.VIN, uuid.Nil)
	checkImages(verr, "images", in.Images)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	car := models.Car{
		BrandID:  uuid.MustParse(in.BrandID),
		Name:     in.Name,
		Status:   in.Status,
		Price:    in.Price.Round(2),
		Currency: models.DefaultCurrency,
	}
	applyAttributes(&car, in.CarAttributes)

	imageType := in.ImageType
	if imageType == "" {
		imageType = models.ImageTypeGallery
	}

	blobs := newBlobBatch(s.store, "CarService")
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := uniqueCarSlug(tx, car.Name, uuid.Nil)
		if err != nil {
			return err
		}
		car.Slug = slug

		if err := tx.Omit(clause.Associations).Create(&car).Error; err != nil {
			return translateCarError(err)
		}

		if specs := buildSpecifications(car.ID, in.Specifications); len(specs) > 0 {
			if err := tx.Create(&specs).Error; err != nil {
				return err
			}
		}

		for i, file := range in.Images {
			p, err := blobs.put(ctx, storage.CarDir(car.ID), file)
			if err != nil {
				return err
			}
			image := models.CarImage{
				CarID:     car.ID,
				ImagePath: p,
				ImageType: imageType,
				SortOrder: i,
				IsPrimary: i == 0,
			}
			if err := tx.Create(&image).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, abortWrite(ctx, s.reconciler, "create car", blobs, err)
	}

	return s.load(ctx, car.ID)
}

// Update applies the present fields of in to the car with id.
func (s *CarService) Update(ctx context.Context, id uuid.UUID, in UpdateCarInput) (*models.Car, error) {
	var car models.Car
	if err := s.db.WithContext(ctx).First(&car, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("car")
		}
		return nil, err
	}

	normalizeAttributes(&in.CarAttributes)
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}

	verr := &ValidationError{}
	verr.Merge(utils.ValidateStruct(in))
	if in.Name != nil && *in.Name == "" {
		verr.Add("name", "is required")
	}
	if in.Price != nil {
		checkPrice(verr, in.Price)
	}
	if in.BrandID != nil {
		if _, bad := verr.Fields["brand_id"]; !bad {
			s.checkBrand(ctx, verr, *in.BrandID)
		}
	}
	s.checkVIN(ctx, verr, in.VIN, car.ID)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	if in.BrandID != nil {
		car.BrandID = uuid.MustParse(*in.BrandID)
	}
	if in.Status != nil {
		car.Status = *in.Status
	}
	if in.Price != nil {
		car.Price = in.Price.Round(2)
	}
	applyAttributes(&car, in.CarAttributes)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.Name != nil && *in.Name != car.Name {
			car.Name = *in.Name
			slug, err := uniqueCarSlug(tx, car.Name, car.ID)
			if err != nil {
				return err
			}
			car.Slug = slug
		}

		if err := tx.Omit(clause.Associations).Save(&car).Error; err != nil {
			return translateCarError(err)
		}

		if in.Specifications == nil {
			return nil
		}
		if err := tx.Where("car_id = ?", car.ID).Delete(&models.CarSpecification{}).Error; err != nil {
			return err
		}
		if specs := buildSpecifications(car.ID, *in.Specifications); len(specs) > 0 {
			return tx.Create(&specs).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.load(ctx, car.ID)
}

// Delete removes the image and specification rows of the car and soft deletes
// it. Blobs are deleted only after the transaction commits.
func (s *CarService) Delete(ctx context.Context, id uuid.UUID) error {
	var images []models.CarImage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var car models.Car
		if err := tx.First(&car, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("car")
			}
			return err
		}
		if err := tx.Where("car_id = ?", id).Find(&images).Error; err != nil {
			return err
		}
		if err := tx.Where("car_id = ?", id).Delete(&models.CarImage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("car_id = ?", id).Delete(&models.CarSpecification{}).Error; err != nil {
			return err
		}
		return tx.Delete(&car).Error
	})
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(images))
	for _, img := range images {
		paths = append(paths, img.ImagePath)
	}
	reportOrphans(s.reconciler, "delete car", deleteBlobs(ctx, s.store, "CarService", paths))
	return nil
}

// AddImages appends files to the gallery of a car. The batch is stored
// atomically: either every image is added or none is.
func (s *CarService) AddImages(ctx context.Context, carID uuid.UUID, files []*multipart.FileHeader, imageType models.ImageType) ([]models.CarImage, error) {
	if err := s.ensureCar(ctx, carID); err != nil {
		return nil, err
	}

	if imageType == "" {
		imageType = models.ImageTypeGallery
	}
	verr := &ValidationError{}
	if !imageType.Valid() {
		verr.Add("image_type", "must be one of: main, gallery, interior, exterior")
	}
	if len(files) == 0 {
		verr.Add("images", "is required")
	}
	checkImages(verr, "images", files)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	var created []models.CarImage
	blobs := newBlobBatch(s.store, "CarService")
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxOrder sql.NullInt64
		if err := tx.Model(&models.CarImage{}).
			Where("car_id = ?", carID).
			Select("MAX(sort_order)").
			Row().Scan(&maxOrder); err != nil {
			return err
		}
		next := 0
		if maxOrder.Valid {
			next = int(maxOrder.Int64) + 1
		}

		for i, file := range files {
			p, err := blobs.put(ctx, storage.CarDir(carID), file)
			if err != nil {
				return err
			}
			image := models.CarImage{
				CarID:     carID,
				ImagePath: p,
				ImageType: imageType,
				SortOrder: next + i,
			}
			if err := tx.Create(&image).Error; err != nil {
				return err
			}
			created = append(created, image)
		}
		return nil
	})
	if err != nil {
		return nil, abortWrite(ctx, s.reconciler, "add images", blobs, err)
	}

	for i := range created {
		created[i].ImageURL = s.store.URL(created[i].ImagePath)
	}
	return created, nil
}

// DeleteImage removes one image of a car and its blob.
func (s *CarService) DeleteImage(ctx context.Context, carID, imageID uuid.UUID) error {
	var image models.CarImage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND car_id = ?", imageID, carID).First(&image).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("image")
			}
			return err
		}
		return tx.Delete(&image).Error
	})
	if err != nil {
		return err
	}

	reportOrphans(s.reconciler, "delete image", deleteBlobs(ctx, s.store, "CarService", []string{image.ImagePath}))
	return nil
}

// SetPrimaryImage marks imageID as the only primary image of the car.
func (s *CarService) SetPrimaryImage(ctx context.Context, carID, imageID uuid.UUID) (*models.CarImage, error) {
	if err := s.ensureCar(ctx, carID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var image models.CarImage
	if err := db.Where("id = ? AND car_id = ?", imageID, carID).First(&image).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("image")
		}
		return nil, err
	}

	// One statement, so no reader ever sees two primaries or none.
	if err := db.Model(&models.CarImage{}).
		Where("car_id = ?", carID).
		Update("is_primary", gorm.Expr("id = ?", imageID)).Error; err != nil {
		return nil, err
	}

	image.IsPrimary = true
	image.ImageURL = s.store.URL(image.ImagePath)
	return &image, nil
}

func (s *CarService) ensureCar(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Car{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound("car")
	}
	return nil
}

func (s *CarService) load(ctx context.Context, id uuid.UUID) (*models.Car, error) {
	var car models.Car
	err := s.db.WithContext(ctx).
		Preload("Brand").
		Preload("Images", bySortOrder).
		Preload("Specifications", bySortOrder).
		First(&car, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("car")
		}
		return nil, err
	}
	car.Present(s.store.URL)
	return &car, nil
}

func (s *CarService) checkBrand(ctx context.Context, verr *ValidationError, brandID string) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Brand{}).Where("id = ?", brandID).Count(&count).Error; err != nil || count == 0 {
		verr.Add("brand_id", "the selected brand is invalid")
	}
}

// checkVIN rejects a vin used by any other car, soft deleted ones included.
func (s *CarService) checkVIN(ctx context.Context, verr *ValidationError, vin *string, self uuid.UUID) {
	if vin == nil || *vin == "" {
		return
	}
	q := s.db.WithContext(ctx).Unscoped().Model(&models.Car{}).Where("vin = ?", *vin)
	if self != uuid.Nil {
		q = q.Where("id <> ?", self)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		verr.Add("vin", "could not be verified")
		return
	}
	if count > 0 {
		verr.Add("vin", "has already been taken")
	}
}

func checkPrice(verr *ValidationError, price *decimal.Decimal) {
	if price == nil {
		return
	}
	if price.IsNegative() {
		verr.Add("price", "must be at least 0")
	}
	if price.GreaterThan(maxPrice) {
		verr.Add("price", "may not be greater than "+maxPrice.String())
	}
}

func checkImages(verr *ValidationError, field string, files []*multipart.FileHeader) {
	for i, file := range files {
		if err := storage.CheckUpload(file, MaxCarImageBytes, storage.CarImageTypes); err != nil {
			verr.Add(fmt.Sprintf("%s.%d", field, i), err.Error())
		}
	}
}

func normalizeAttributes(a *CarAttributes) {
	if a.VIN != nil {
		vin := strings.ToUpper(strings.TrimSpace(*a.VIN))
		if vin == "" {
			a.VIN = nil
		} else {
			a.VIN = &vin
		}
	}
	if a.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*a.Currency))
		if currency == "" {
			a.Currency = nil
		} else {
			a.Currency = &currency
		}
	}
}

func applyAttributes(car *models.Car, a CarAttributes) {
	set := func(dst **string, src *string) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	setInt := func(dst **int, src *int) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}

	set(&car.Description, a.Description)
	set(&car.RegistrationYear, a.RegistrationYear)
	setInt(&car.Mileage, a.Mileage)
	set(&car.BodyType, a.BodyType)
	set(&car.Engine, a.Engine)
	set(&car.FuelType, a.FuelType)
	set(&car.Transmission, a.Transmission)
	setInt(&car.PowerHP, a.PowerHP)
	setInt(&car.PowerKW, a.PowerKW)
	setInt(&car.VMax, a.VMax)
	set(&car.Acceleration, a.Acceleration)
	set(&car.ColorExterior, a.ColorExterior)
	set(&car.ColorInterior, a.ColorInterior)
	setInt(&car.Doors, a.Doors)
	setInt(&car.Seats, a.Seats)
	set(&car.VIN, a.VIN)
	set(&car.MetaTitle, a.MetaTitle)
	set(&car.MetaDescription, a.MetaDescription)
	if a.Currency != nil {
		car.Currency = *a.Currency
	}
	if a.IsFeatured != nil {
		car.IsFeatured = *a.IsFeatured
	}
}

func buildSpecifications(carID uuid.UUID, in []SpecificationInput) []models.CarSpecification {
	specs := make([]models.CarSpecification, 0, len(in))
	for i, spec := range in {
		key := strings.TrimSpace(spec.Key)
		if key == "" {
			key = utils.SpecKey(spec.Label)
		}
		category := models.DefaultSpecCategory
		if spec.Category != nil && strings.TrimSpace(*spec.Category) != "" {
			category = strings.TrimSpace(*spec.Category)
		}
		specs = append(specs, models.CarSpecification{
			CarID:        carID,
			SpecKey:      key,
			SpecLabel:    strings.TrimSpace(spec.Label),
			SpecValue:    strings.TrimSpace(spec.Value),
			SpecUnit:     spec.Unit,
			SpecCategory: category,
			SortOrder:    i,
		})
	}
	return specs
}

// uniqueCarSlug derives a slug from name, suffixing -2, -3, ... until no other
// car (soft deleted ones included) uses it.
func uniqueCarSlug(tx *gorm.DB, name string, self uuid.UUID) (string, error) {
	base := utils.Slugify(name)
	if base == "" {
		base = "car"
	}

	candidate := base
	for n := 2; ; n++ {
		q := tx.Unscoped().Model(&models.Car{}).Where("slug = ?", candidate)
		if self != uuid.Nil {
			q = q.Where("id <> ?", self)
		}
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

func translateCarError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent write took the slug or vin after the checks above passed.
		return &ConflictError{Message: "a car with the same slug or vin already exists"}
	}
	return err
}

func bySortOrder(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order asc")
}
