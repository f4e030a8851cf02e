package models

import (
	"time"
)

// Product categories
const (
	CategoryPastry = "pastry"
	CategoryBread  = "bread"
	CategoryCake   = "cake"
)

// Product represents an item on the bakery menu.
// Database columns are snake_case (hover_image, is_active); the JSON tags keep
// the camelCase names the storefront expects.
type Product struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Price       int       `gorm:"not null;check:price > 0" json:"price"` // whole KES
	Image       string    `json:"image"`
	HoverImage  string    `gorm:"column:hover_image" json:"hoverImage"`
	Stock       int       `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true" json:"isActive"`
	Category    string    `gorm:"not null" json:"category"` // pastry, bread or cake
	ImageS3Key  *string   `json:"image_s3_key,omitempty"`
	ImageURL    *string   `gorm:"-" json:"imageUrl,omitempty"` // computed, presigned URL for uploaded image
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Product model
func (Product) TableName() string {
	return "products"
}

// Purchasable reports whether the product can be added to a cart or box.
// A product with zero stock may still be displayed but never sold.
func (p *Product) Purchasable() bool {
	return p.IsActive && p.Stock > 0
}

// ValidCategory reports whether the category is one of the known values
func ValidCategory(category string) bool {
	switch category {
	case CategoryPastry, CategoryBread, CategoryCake:
		return true
	}
	return false
}
