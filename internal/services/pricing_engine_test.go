package services

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPriceCartAppliesLineAndGlobalDiscounts(t *testing.T) {
	lines := []domain.CartLine{
		{Product: domain.Product{ID: 1}, Quantity: 2, UnitPrice: 50000, LineDiscount: 5000},
		{Product: domain.Product{ID: 2}, Quantity: 1, UnitPrice: 20000},
	}

	pricing := PriceCart(lines, 10000, 10)

	if !almostEqual(pricing.Subtotal, 115000) {
		t.Fatalf("expected subtotal 115000, got %v", pricing.Subtotal)
	}
	if !almostEqual(pricing.DiscountTotal, 21500) {
		t.Fatalf("expected discount 21500, got %v", pricing.DiscountTotal)
	}
	if !almostEqual(pricing.Total, 93500) {
		t.Fatalf("expected total 93500, got %v", pricing.Total)
	}
}

func TestPriceCartEmptyCartIsZero(t *testing.T) {
	pricing := PriceCart(nil, 5000, 50)
	if pricing.Total != 0 || pricing.Subtotal != 0 {
		t.Fatalf("expected zero pricing for empty cart, got %+v", pricing)
	}
}

func TestPriceCartRatioIsNotClamped(t *testing.T) {
	lines := []domain.CartLine{{Product: domain.Product{ID: 1}, Quantity: 1, UnitPrice: 1000}}

	negative := PriceCart(lines, 0, -10)
	if !almostEqual(negative.Total, 1100) {
		t.Fatalf("expected negative ratio to raise total to 1100, got %v", negative.Total)
	}

	over := PriceCart(lines, 0, 150)
	if over.Total != 0 {
		t.Fatalf("expected ratio above 100 to floor total at 0, got %v", over.Total)
	}
}

func TestPriceCartTotalNeverNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total is floored at zero for any discount", prop.ForAll(
		func(quantity int, unitPrice, lineDiscount, amount, ratio float64) bool {
			lines := []domain.CartLine{{
				Product:      domain.Product{ID: 1},
				Quantity:     quantity,
				UnitPrice:    unitPrice,
				LineDiscount: lineDiscount,
			}}
			return PriceCart(lines, amount, ratio).Total >= 0
		},
		gen.IntRange(1, 500),
		gen.Float64Range(0, 1e6),
		gen.Float64Range(0, 1e7),
		gen.Float64Range(0, 1e8),
		gen.Float64Range(-100, 300),
	))

	properties.TestingRun(t)
}

// cartOp packs a random mutation: op kind, product and quantity.
type cartOp struct {
	kind      int
	productID int64
	quantity  int
}

func genCartOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 2),
		gen.Int64Range(1, 5),
		gen.IntRange(-1, 6),
	).Map(func(values []interface{}) cartOp {
		return cartOp{
			kind:      values[0].(int),
			productID: values[1].(int64),
			quantity:  values[2].(int),
		}
	})
}

func TestCartStoreTotalNeverStale(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("total matches the formula after any mutation sequence", prop.ForAll(
		func(ops []cartOp, amount, ratio float64) bool {
			store := NewCartStore()
			if _, err := store.SetGlobalDiscountAmount(amount); err != nil {
				return false
			}
			if _, err := store.SetGlobalDiscountRatio(ratio); err != nil {
				return false
			}

			var (
				cart domain.Cart
				err  error
			)
			for _, op := range ops {
				switch op.kind {
				case 0:
					cart, err = store.AddLine(domain.Product{ID: op.productID, RetailPrice: float64(op.productID) * 1250})
				case 1:
					cart, err = store.SetQuantity(op.productID, op.quantity)
				default:
					cart = store.RemoveLine(op.productID)
				}
				if err != nil {
					return false
				}
				for _, line := range cart.Lines {
					if line.Quantity <= 0 {
						return false
					}
				}
				expected := PriceCart(cart.Lines, amount, ratio)
				if !almostEqual(cart.Total, expected.Total) {
					return false
				}
				if len(cart.Lines) == 0 && cart.Total != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genCartOp()),
		gen.Float64Range(0, 50000),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
