package models

import (
	"time"
)

// Order statuses. The kitchen queue only ever moves an order forward through
// this sequence; there is no backward or skipping transition.
const (
	StatusPending        = "PENDING"
	StatusBaking         = "BAKING"
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
)

// Order represents a committed checkout
type Order struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	CustomerPhone string      `gorm:"not null;index" json:"customerPhone"`
	Customer      Customer    `gorm:"foreignKey:CustomerPhone" json:"-"`
	Total         int         `gorm:"not null" json:"total"`
	Status        string      `gorm:"not null;default:'PENDING'" json:"status"`
	Items         []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	Timestamp     time.Time   `gorm:"not null" json:"timestamp"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// OrderItem is one line of an order. PriceAtTime captures the product price at
// order time and is immutable even if the catalog price changes later.
type OrderItem struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	OrderID     string  `gorm:"not null;index" json:"-"`
	ProductID   string  `gorm:"not null;index" json:"product_id"`
	Product     Product `gorm:"foreignKey:ProductID" json:"product"`
	Quantity    int     `gorm:"not null;check:quantity > 0" json:"quantity"`
	Variant     *string `json:"variant,omitempty"` // e.g. "Custom Box"
	PriceAtTime int     `gorm:"column:price_at_time;not null" json:"price_at_time"`
}

// TableName specifies the table name for the OrderItem model
func (OrderItem) TableName() string {
	return "order_items"
}

// NextStatus returns the status that follows s in the fulfilment sequence.
// It returns ("", false) for DELIVERED and for unknown statuses.
func NextStatus(s string) (string, bool) {
	switch s {
	case StatusPending:
		return StatusBaking, true
	case StatusBaking:
		return StatusOutForDelivery, true
	case StatusOutForDelivery:
		return StatusDelivered, true
	}
	return "", false
}

// ValidStatusTransition reports whether an order may move from one status
// directly to the next. Only the single forward step is allowed.
func ValidStatusTransition(from, to string) bool {
	next, ok := NextStatus(from)
	return ok && next == to
}
