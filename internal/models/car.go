package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CarStatus string

const (
	CarStatusAvailable CarStatus = "available"
	CarStatusSold      CarStatus = "sold"
	CarStatusReserved  CarStatus = "reserved"
)

type ImageType string

const (
	ImageTypeMain     ImageType = "main"
	ImageTypeGallery  ImageType = "gallery"
	ImageTypeInterior ImageType = "interior"
	ImageTypeExterior ImageType = "exterior"
)

// DefaultCurrency is used when a car is created without one.
const DefaultCurrency = "USD"

// DefaultSpecCategory groups specifications created without a category.
const DefaultSpecCategory = "general"

// Car is a vehicle listing. Cars are soft deleted; the unique indexes on
// slug and vin still cover deleted rows.
type Car struct {
	BaseModel
	BrandID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"brand_id"`
	Brand            *Brand          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"brand,omitempty"`
	Name             string          `gorm:"not null" json:"name"`
	Slug             string          `gorm:"uniqueIndex;not null" json:"slug"`
	Description      *string         `json:"description"`
	Status           CarStatus       `gorm:"type:varchar(16);not null;index" json:"status"`
	RegistrationYear *string         `json:"registration_year"`
	Mileage          *int            `json:"mileage"`
	BodyType         *string         `json:"body_type"`
	Engine           *string         `json:"engine"`
	FuelType         *string         `json:"fuel_type"`
	Transmission     *string         `json:"transmission"`
	PowerHP          *int            `gorm:"column:power_hp" json:"power_hp"`
	PowerKW          *int            `gorm:"column:power_kw" json:"power_kw"`
	VMax             *int            `gorm:"column:v_max" json:"v_max"`
	Acceleration     *string         `json:"acceleration"`
	Price            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	ColorExterior    *string         `json:"color_exterior"`
	ColorInterior    *string         `json:"color_interior"`
	Doors            *int            `json:"doors"`
	Seats            *int            `json:"seats"`
	VIN              *string         `gorm:"column:vin;uniqueIndex" json:"vin"`
	MetaTitle        *string         `json:"meta_title"`
	MetaDescription  *string         `json:"meta_description"`
	IsFeatured       bool            `gorm:"not null;index" json:"is_featured"`
	ViewCount        int             `gorm:"not null;default:0" json:"view_count"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`

	Images         []CarImage         `gorm:"constraint:OnDelete:CASCADE;" json:"images,omitempty"`
	Specifications []CarSpecification `gorm:"constraint:OnDelete:CASCADE;" json:"specifications,omitempty"`

	PrimaryImage   *CarImage `gorm:"-" json:"primary_image"`
	FormattedPrice string    `gorm:"-" json:"formatted_price"`
}

// CarImage is one uploaded picture of a car. At most one image per car is primary.
type CarImage struct {
	BaseModel
	CarID     uuid.UUID `gorm:"type:uuid;not null;index" json:"car_id"`
	ImagePath string    `gorm:"not null" json:"image_path"`
	ImageType ImageType `gorm:"type:varchar(16);not null" json:"image_type"`
	SortOrder int       `gorm:"not null" json:"sort_order"`
	IsPrimary bool      `gorm:"not null" json:"is_primary"`

	ImageURL string `gorm:"-" json:"image_url"`
}

// CarSpecification is a free-form key/value attribute of a car.
type CarSpecification struct {
	BaseModel
	CarID        uuid.UUID `gorm:"type:uuid;not null;index" json:"car_id"`
	SpecKey      string    `gorm:"not null" json:"spec_key"`
	SpecLabel    string    `gorm:"not null" json:"spec_label"`
	SpecValue    string    `gorm:"not null" json:"spec_value"`
	SpecUnit     *string   `json:"spec_unit"`
	SpecCategory string    `gorm:"not null" json:"spec_category"`
	SortOrder    int       `gorm:"not null" json:"sort_order"`

	FormattedValue string `gorm:"-" json:"formatted_value"`
}

// Valid reports whether s is one of the known car statuses.
func (s CarStatus) Valid() bool {
	switch s {
	case CarStatusAvailable, CarStatusSold, CarStatusReserved:
		return true
	}
	return false
}

// Valid reports whether t is one of the known image types.
func (t ImageType) Valid() bool {
	switch t {
	case ImageTypeMain, ImageTypeGallery, ImageTypeInterior, ImageTypeExterior:
		return true
	}
	return false
}

// Present fills the computed JSON fields. url turns a blob path into a public URL.
func (c *Car) Present(url func(string) string) {
	c.FormattedPrice = FormatPrice(c.Price, c.Currency)
	c.PrimaryImage = nil
	for i := range c.Images {
		c.Images[i].ImageURL = url(c.Images[i].ImagePath)
	}
	for i := range c.Images {
		if c.Images[i].IsPrimary {
			c.PrimaryImage = &c.Images[i]
			break
		}
	}
	if c.PrimaryImage == nil && len(c.Images) > 0 {
		c.PrimaryImage = &c.Images[0]
	}
	for i := range c.Specifications {
		c.Specifications[i].FormattedValue = c.Specifications[i].formatValue()
	}
	if c.Brand != nil {
		c.Brand.Present(url)
	}
}

// Present fills the computed logo URL.
func (b *Brand) Present(url func(string) string) {
	b.LogoURL = nil
	if b.Logo != nil && *b.Logo != "" {
		u := url(*b.Logo)
		b.LogoURL = &u
	}
	for i := range b.Cars {
		b.Cars[i].Present(url)
	}
}

func (s CarSpecification) formatValue() string {
	if s.SpecUnit != nil && *s.SpecUnit != "" {
		return s.SpecValue + " " + *s.SpecUnit
	}
	return s.SpecValue
}

// FormatPrice renders a price as "45,000.00 EUR".
func FormatPrice(price decimal.Decimal, currency string) string {
	fixed := price.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if price.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	if currency != "" {
		b.WriteByte(' ')
		b.WriteString(currency)
	}
	return b.String()
}
