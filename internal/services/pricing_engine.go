package services

import (
	"math"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

// Pricing is the derived money breakdown for a cart.
type Pricing struct {
	Subtotal      float64
	DiscountTotal float64
	Total         float64
}

// PriceCart derives the cart total from its lines and global discounts.
//
// The ratio is applied to the subtotal as a percentage without clamping, so a negative ratio raises
// the total and a ratio above 100 drives it to zero. Amounts are not rounded to a currency minor unit.
func PriceCart(lines []domain.CartLine, discountAmount, discountRatio float64) Pricing {
	var subtotal float64
	for _, line := range lines {
		subtotal += line.Amount()
	}

	discount := discountAmount + subtotal*discountRatio/100
	total := math.Max(0, subtotal-discount)

	return Pricing{
		Subtotal:      subtotal,
		DiscountTotal: discount,
		Total:         total,
	}
}

func (p Pricing) finite() bool {
	for _, v := range []float64{p.Subtotal, p.DiscountTotal, p.Total} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}
