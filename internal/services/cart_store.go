package services

import (
	"errors"
	"fmt"
	"sync"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

// ErrCartInvalidInput indicates the caller supplied an out-of-range value for a cart mutation.
var ErrCartInvalidInput = errors.New("cart: invalid input")

// CartListener receives the cart snapshot produced by each committed mutation.
type CartListener func(domain.Cart)

// CartStore is the authoritative in-memory cart for a single POS terminal. Every mutation runs under
// the store lock and recomputes pricing before the lock is released, so readers never observe a
// stale total.
type CartStore struct {
	mu sync.Mutex
	// notifyMu keeps listener delivery in mutation order. Listeners must not mutate the store.
	notifyMu sync.Mutex

	lines          []domain.CartLine
	customer       *domain.Customer
	discountAmount float64
	discountRatio  float64
	paymentMethod  domain.PaymentMethod
	pricing        Pricing
	version        uint64

	loading    bool
	saleResult *domain.SaleResult
	lastError  string

	listeners map[uint64]CartListener
	nextID    uint64
}

// NewCartStore returns an empty cart paying by cash.
func NewCartStore() *CartStore {
	return &CartStore{
		paymentMethod: domain.PaymentMethodCash,
		listeners:     make(map[uint64]CartListener),
	}
}

// Subscribe registers fn to receive snapshots after every mutation. The returned func removes it.
//
// Listeners run synchronously, one mutation at a time, in version order. A listener may call
// Snapshot but must not mutate the store: a mutation from inside a listener blocks forever.
func (s *CartStore) Subscribe(fn CartListener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current cart state.
func (s *CartStore) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AddLine appends a line for the product or bumps the existing line's quantity by one.
func (s *CartStore) AddLine(product domain.Product) (domain.Cart, error) {
	return s.reprice(func() {
		if idx := s.indexLocked(product.ID); idx >= 0 {
			s.lines[idx].Quantity++
			return
		}
		s.lines = append(s.lines, domain.CartLine{
			Product:   product,
			Quantity:  1,
			UnitPrice: product.RetailPrice,
		})
	})
}

// SetQuantity replaces the line quantity verbatim. A quantity of zero or less removes the line.
func (s *CartStore) SetQuantity(productID int64, quantity int) (domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveLine(productID), nil
	}
	return s.reprice(func() {
		if idx := s.indexLocked(productID); idx >= 0 {
			s.lines[idx].Quantity = quantity
		}
	})
}

// RemoveLine deletes the product's line. Unknown products are ignored.
func (s *CartStore) RemoveLine(productID int64) domain.Cart {
	return s.mutate(func() {
		if idx := s.indexLocked(productID); idx >= 0 {
			s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
		}
	})
}

// SetLineDiscount sets the absolute discount taken off one line.
func (s *CartStore) SetLineDiscount(productID int64, discount float64) (domain.Cart, error) {
	if discount < 0 {
		return domain.Cart{}, ErrCartInvalidInput
	}
	return s.reprice(func() {
		if idx := s.indexLocked(productID); idx >= 0 {
			s.lines[idx].LineDiscount = discount
		}
	})
}

// SetGlobalDiscountAmount replaces the flat discount applied to the subtotal.
func (s *CartStore) SetGlobalDiscountAmount(amount float64) (domain.Cart, error) {
	if amount < 0 {
		return domain.Cart{}, ErrCartInvalidInput
	}
	return s.reprice(func() {
		s.discountAmount = amount
	})
}

// SetGlobalDiscountRatio replaces the percentage discount. The value is not range checked, but a
// ratio that drives the total out of the float64 range is rejected.
func (s *CartStore) SetGlobalDiscountRatio(percent float64) (domain.Cart, error) {
	return s.reprice(func() {
		s.discountRatio = percent
	})
}

// SetCustomer attaches the buyer, or detaches it when customer is nil.
func (s *CartStore) SetCustomer(customer *domain.Customer) domain.Cart {
	return s.mutate(func() {
		if customer == nil {
			s.customer = nil
			return
		}
		c := *customer
		s.customer = &c
	})
}

// SetPaymentMethod selects how the next checkout settles.
func (s *CartStore) SetPaymentMethod(method domain.PaymentMethod) (domain.Cart, error) {
	parsed, ok := domain.ParsePaymentMethod(string(method))
	if !ok {
		return domain.Cart{}, ErrCartInvalidInput
	}
	return s.mutate(func() {
		s.paymentMethod = parsed
	}), nil
}

// Clear resets the cart to the state of a freshly opened terminal, dropping any stored sale result.
func (s *CartStore) Clear() domain.Cart {
	return s.mutate(func() {
		s.lines = nil
		s.customer = nil
		s.discountAmount = 0
		s.discountRatio = 0
		s.paymentMethod = domain.PaymentMethodCash
		s.saleResult = nil
		s.lastError = ""
	})
}

// ClearError drops the last checkout error message.
func (s *CartStore) ClearError() domain.Cart {
	return s.mutate(func() {
		s.lastError = ""
	})
}

// beginCheckout sets the loading flag. It fails when a checkout is already pending.
func (s *CartStore) beginCheckout() (domain.Cart, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return domain.Cart{}, ErrCheckoutInProgress
	}
	s.loading = true
	s.lastError = ""
	return s.publishLocked(), nil
}

// finishCheckout clears the loading flag and records the sale result or the failure message.
func (s *CartStore) finishCheckout(result *domain.SaleResult, errMessage string) domain.Cart {
	return s.mutate(func() {
		s.loading = false
		if errMessage != "" {
			s.lastError = errMessage
			return
		}
		if result != nil {
			r := *result
			s.saleResult = &r
		}
	})
}

func (s *CartStore) mutate(apply func()) domain.Cart {
	s.mu.Lock()
	apply()
	return s.publishLocked()
}

// reprice applies a mutation that feeds the pricing engine. When the resulting amounts are not
// finite the mutation is rolled back and nothing is published.
func (s *CartStore) reprice(apply func()) (domain.Cart, error) {
	s.mu.Lock()
	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)
	amount, ratio := s.discountAmount, s.discountRatio

	apply()
	if pricing := PriceCart(s.lines, s.discountAmount, s.discountRatio); !pricing.finite() {
		s.lines, s.discountAmount, s.discountRatio = lines, amount, ratio
		s.mu.Unlock()
		return domain.Cart{}, fmt.Errorf("%w: cart amounts out of range", ErrCartInvalidInput)
	}
	return s.publishLocked(), nil
}

// publishLocked reprices, bumps the version and delivers the snapshot. It must be entered with mu
// held and returns with mu released.
func (s *CartStore) publishLocked() domain.Cart {
	s.pricing = PriceCart(s.lines, s.discountAmount, s.discountRatio)
	s.version++
	snapshot := s.snapshotLocked()
	listeners := make([]CartListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
	return snapshot
}

func (s *CartStore) snapshotLocked() domain.Cart {
	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)

	cart := domain.Cart{
		Lines:          lines,
		DiscountAmount: s.discountAmount,
		DiscountRatio:  s.discountRatio,
		PaymentMethod:  s.paymentMethod,
		Subtotal:       s.pricing.Subtotal,
		Total:          s.pricing.Total,
		Version:        s.version,
		Loading:        s.loading,
		LastError:      s.lastError,
	}
	if s.customer != nil {
		c := *s.customer
		cart.Customer = &c
	}
	if s.saleResult != nil {
		r := *s.saleResult
		cart.SaleResult = &r
	}
	return cart
}

func (s *CartStore) indexLocked(productID int64) int {
	for i := range s.lines {
		if s.lines[i].Product.ID == productID {
			return i
		}
	}
	return -1
}
