package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPurchasable(t *testing.T) {
	tests := []struct {
		name        string
		product     Product
		purchasable bool
	}{
		{"Active with stock", Product{IsActive: true, Stock: 5}, true},
		{"Active without stock", Product{IsActive: true, Stock: 0}, false},
		{"Inactive with stock", Product{IsActive: false, Stock: 5}, false},
		{"Inactive without stock", Product{IsActive: false, Stock: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.purchasable, tt.product.Purchasable())
		})
	}
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory(CategoryPastry))
	assert.True(t, ValidCategory(CategoryBread))
	assert.True(t, ValidCategory(CategoryCake))
	assert.False(t, ValidCategory("drink"))
	assert.False(t, ValidCategory(""))
	assert.False(t, ValidCategory("Pastry"))
}
