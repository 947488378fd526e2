package models

// Brand is a car maker or tuner. Its slug is always derived from Name.
type Brand struct {
	BaseModel
	Name        string  `gorm:"uniqueIndex;not null" json:"name"`
	Slug        string  `gorm:"uniqueIndex;not null" json:"slug"`
	Description *string `json:"description"`
	Logo        *string `json:"logo"`
	IsActive    bool    `gorm:"not null" json:"is_active"`
	Cars        []Car   `json:"cars,omitempty"`

	LogoURL   *string `gorm:"-" json:"logo_url"`
	CarsCount *int64  `gorm:"-" json:"cars_count,omitempty"`
}
