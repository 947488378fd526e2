package services

import (
	"context"
	"errors"
	"mime/multipart"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/storage"
	"github.com/example/autocatalog/internal/utils"
)

// BrandInput creates or updates a brand. On update only present fields change.
type BrandInput struct {
	Name        *string               `json:"name" form:"name" validate:"omitempty,max=255"`
	Description *string               `json:"description" form:"description" validate:"omitempty,max=2000"`
	IsActive    *bool                 `json:"is_active" form:"is_active"`
	Logo        *multipart.FileHeader `json:"-" form:"-"`
}

// BrandService manages brands and their logos.
type BrandService struct {
	db         *gorm.DB
	store      storage.BlobStore
	reconciler Reconciler
}

// NewBrandService constructs BrandService.
func NewBrandService(db *gorm.DB, store storage.BlobStore, reconciler Reconciler) *BrandService {
	return &BrandService{db: db, store: store, reconciler: reconciler}
}

// ListBrands returns every brand ordered by name with its number of cars.
func (s *BrandService) ListBrands(ctx context.Context) ([]models.Brand, error) {
	db := s.db.WithContext(ctx)

	var brands []models.Brand
	if err := db.Order("name asc").Find(&brands).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		BrandID uuid.UUID
		Total   int64
	}
	if err := db.Model(&models.Car{}).
		Select("brand_id, COUNT(*) AS total").
		Group("brand_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		counts[r.BrandID] = r.Total
	}

	for i := range brands {
		n := counts[brands[i].ID]
		brands[i].CarsCount = &n
		brands[i].Present(s.store.URL)
	}
	return brands, nil
}

// GetBrand returns a brand with its available cars and their images.
func (s *BrandService) GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	var brand models.Brand
	err := s.db.WithContext(ctx).
		Preload("Cars", func(db *gorm.DB) *gorm.DB {
			return db.Where("status = ?", models.CarStatusAvailable).Order("created_at desc")
		}).
		Preload("Cars.Images", bySortOrder).
		First(&brand, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("brand")
		}
		return nil, err
	}
	brand.Present(s.store.URL)
	return &brand, nil
}

// CreateBrand stores a brand and its optional logo.
func (s *BrandService) CreateBrand(ctx context.Context, in BrandInput) (*models.Brand, error) {
	verr := &ValidationError{}
	verr.Merge(utils.ValidateStruct(in))
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		verr.Add("name", "is required")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	brand := models.Brand{
		Name:        strings.TrimSpace(*in.Name),
		Description: in.Description,
		IsActive:    true,
	}
	if in.IsActive != nil {
		brand.IsActive = *in.IsActive
	}
	brand.Slug = utils.Slugify(brand.Name)

	s.checkName(ctx, verr, brand.Name, brand.Slug, uuid.Nil)
	checkLogo(verr, in.Logo)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	blobs := newBlobBatch(s.store, "BrandService")
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.Logo != nil {
			p, err := blobs.put(ctx, storage.BrandsDir, in.Logo)
			if err != nil {
				return err
			}
			brand.Logo = &p
		}
		if err := tx.Omit(clause.Associations).Create(&brand).Error; err != nil {
			return translateDBError(err, "name")
		}
		return nil
	})
	if err != nil {
		return nil, abortWrite(ctx, s.reconciler, "create brand", blobs, err)
	}

	brand.Present(s.store.URL)
	return &brand, nil
}

// UpdateBrand changes the present fields. A new logo replaces the old one,
// whose blob is deleted once the change is committed.
func (s *BrandService) UpdateBrand(ctx context.Context, id uuid.UUID, in BrandInput) (*models.Brand, error) {
	var brand models.Brand
	if err := s.db.WithContext(ctx).First(&brand, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("brand")
		}
		return nil, err
	}

	verr := &ValidationError{}
	verr.Merge(utils.ValidateStruct(in))
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			verr.Add("name", "is required")
		} else {
			brand.Name = name
			brand.Slug = utils.Slugify(name)
			s.checkName(ctx, verr, brand.Name, brand.Slug, brand.ID)
		}
	}
	checkLogo(verr, in.Logo)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	if in.Description != nil {
		brand.Description = in.Description
	}
	if in.IsActive != nil {
		brand.IsActive = *in.IsActive
	}

	var oldLogo string
	blobs := newBlobBatch(s.store, "BrandService")
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.Logo != nil {
			p, err := blobs.put(ctx, storage.BrandsDir, in.Logo)
			if err != nil {
				return err
			}
			if brand.Logo != nil {
				oldLogo = *brand.Logo
			}
			brand.Logo = &p
		}
		if err := tx.Omit(clause.Associations).Save(&brand).Error; err != nil {
			return translateDBError(err, "name")
		}
		return nil
	})
	if err != nil {
		return nil, abortWrite(ctx, s.reconciler, "update brand", blobs, err)
	}

	if oldLogo != "" {
		reportOrphans(s.reconciler, "update brand", deleteBlobs(ctx, s.store, "BrandService", []string{oldLogo}))
	}

	brand.Present(s.store.URL)
	return &brand, nil
}

// DeleteBrand removes a brand together with all of its cars, soft deleted
// ones included, their images and specifications, and every backing blob.
func (s *BrandService) DeleteBrand(ctx context.Context, id uuid.UUID) error {
	var paths []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var brand models.Brand
		if err := tx.First(&brand, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("brand")
			}
			return err
		}

		var carIDs []uuid.UUID
		if err := tx.Unscoped().Model(&models.Car{}).Where("brand_id = ?", id).Pluck("id", &carIDs).Error; err != nil {
			return err
		}

		if len(carIDs) > 0 {
			var images []models.CarImage
			if err := tx.Where("car_id IN ?", carIDs).Find(&images).Error; err != nil {
				return err
			}
			for _, img := range images {
				paths = append(paths, img.ImagePath)
			}
			if err := tx.Where("car_id IN ?", carIDs).Delete(&models.CarImage{}).Error; err != nil {
				return err
			}
			if err := tx.Where("car_id IN ?", carIDs).Delete(&models.CarSpecification{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Where("id IN ?", carIDs).Delete(&models.Car{}).Error; err != nil {
				return err
			}
		}

		if brand.Logo != nil {
			paths = append(paths, *brand.Logo)
		}
		return tx.Delete(&brand).Error
	})
	if err != nil {
		return err
	}

	reportOrphans(s.reconciler, "delete brand", deleteBlobs(ctx, s.store, "BrandService", paths))
	return nil
}

// checkName rejects a name, or a name that slugifies the same way, already
// used by another brand.
func (s *BrandService) checkName(ctx context.Context, verr *ValidationError, name, slug string, self uuid.UUID) {
	if slug == "" {
		verr.Add("name", "must contain at least one letter or digit")
		return
	}
	q := s.db.WithContext(ctx).Model(&models.Brand{}).Where("(name = ? OR slug = ?)", name, slug)
	if self != uuid.Nil {
		q = q.Where("id <> ?", self)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		verr.Add("name", "could not be verified")
		return
	}
	if count > 0 {
		verr.Add("name", "has already been taken")
	}
}

func checkLogo(verr *ValidationError, logo *multipart.FileHeader) {
	if logo == nil {
		return
	}
	if err := storage.CheckUpload(logo, MaxBrandLogoBytes, storage.BrandLogoTypes); err != nil {
		verr.Add("logo", err.Error())
	}
}
