package services

import (
	"math"
)

// DeliveryFee is the flat delivery charge in KES added to every order
const DeliveryFee = 150

// LoyaltyEligible reports whether a customer with the given number of prior
// completed purchases earns the recurring "Baker's Dozen" discount. The perk
// repeats on every 12th order, so only exact positive multiples of 12 qualify
// (count 13 does not, count 24 does). The count is always the number of
// purchases BEFORE the order currently being placed.
func LoyaltyEligible(purchaseCount int) bool {
	return purchaseCount > 0 && purchaseCount%12 == 0
}

// LoyaltyDiscount returns the discount in KES for the given subtotal and prior
// purchase count: 10% of the subtotal, rounded, when eligible, otherwise 0.
func LoyaltyDiscount(subtotal, purchaseCount int) int {
	if !LoyaltyEligible(purchaseCount) {
		return 0
	}
	return int(math.Round(float64(subtotal) * 0.10))
}

// OrderTotal computes the amount charged at checkout:
// subtotal + delivery fee - loyalty discount.
func OrderTotal(subtotal, purchaseCount int) int {
	return subtotal + DeliveryFee - LoyaltyDiscount(subtotal, purchaseCount)
}
