package models

import (
	"time"
)

// Customer represents a repeat buyer identified by phone number.
// PurchaseCount increments once per completed checkout and drives the
// every-12th-order loyalty discount.
type Customer struct {
	Phone         string    `gorm:"primaryKey" json:"phone"`
	PurchaseCount int       `gorm:"not null;default:0" json:"purchase_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Customer model
func (Customer) TableName() string {
	return "customers"
}
