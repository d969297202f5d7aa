package domain

import (
	"strings"
	"time"
)

// MaxQuantityHint mirrors the quantity ceiling shown by the POS screen. The cart does not enforce it.
const MaxQuantityHint = 9999

// PaymentMethod enumerates how a sale is settled at the till.
type PaymentMethod string

const (
	// PaymentMethodCash settles the sale immediately at the counter.
	PaymentMethodCash PaymentMethod = "CASH"
	// PaymentMethodMomo settles the sale through the MoMo wallet's hosted page.
	PaymentMethodMomo PaymentMethod = "MOMO"
)

// ParsePaymentMethod normalises user input into a known payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentMethodCash:
		return PaymentMethodCash, true
	case PaymentMethodMomo:
		return PaymentMethodMomo, true
	default:
		return "", false
	}
}

// CategoryRef is the lightweight category pointer carried on catalog products.
type CategoryRef struct {
	ID   int64
	Name string
}

// Product is the read-only catalog entry the cart prices lines from.
type Product struct {
	ID          int64
	Name        string
	Code        string
	RetailPrice float64
	Category    *CategoryRef
}

// Customer identifies the buyer attached to a sale. A nil customer is a walk-in sale.
type Customer struct {
	ID    int64
	Name  string
	Phone string
}

// CartLine is one product entry in the cart. At most one line exists per product.
type CartLine struct {
	Product      Product
	Quantity     int
	UnitPrice    float64
	LineDiscount float64
}

// Amount returns the line contribution to the subtotal.
func (l CartLine) Amount() float64 {
	return float64(l.Quantity)*l.UnitPrice - l.LineDiscount
}

// Cart is an immutable snapshot of the order being assembled at the till.
type Cart struct {
	Lines          []CartLine
	Customer       *Customer
	DiscountAmount float64
	DiscountRatio  float64
	PaymentMethod  PaymentMethod
	Subtotal       float64
	Total          float64
	Version        uint64

	Loading    bool
	SaleResult *SaleResult
	LastError  string
}

// Operator is the authenticated cashier session the POS runs under.
type Operator struct {
	Token      string
	UserID     int64
	Username   string
	BranchID   int64
	BranchName string
	ExpiresAt  time.Time
}

// HasBranch reports whether the operator session resolves to a branch.
func (o Operator) HasBranch() bool {
	return o.BranchID > 0
}

// SaleLine is one detail row of an outbound sale request.
type SaleLine struct {
	ProductID int64
	Quantity  int
	UnitPrice float64
	Discount  float64
}

// SaleRequest is submitted to the sale service to persist an invoice.
type SaleRequest struct {
	BranchID      int64
	CustomerID    *int64
	Total         float64
	TotalPayment  float64
	Discount      float64
	DiscountRatio float64
	Description   string
	PaymentMethod PaymentMethod
	CreatedBy     int64
	Details       []SaleLine
}

// SaleResult is returned by the sale service. PayURL is only set for redirect payments.
type SaleResult struct {
	Message     string
	InvoiceID   int64
	InvoiceCode string
	Status      string
	PayURL      string
}

// PaymentCallbackStatus is the state of the payment return page.
type PaymentCallbackStatus string

const (
	// PaymentCallbackProcessing is the initial state and the state kept when no outcome is recognisable.
	PaymentCallbackProcessing PaymentCallbackStatus = "processing"
	// PaymentCallbackSuccess means the wallet reported a successful payment.
	PaymentCallbackSuccess PaymentCallbackStatus = "success"
	// PaymentCallbackFailed means the wallet or callback validation reported a failure.
	PaymentCallbackFailed PaymentCallbackStatus = "failed"
)

// PaymentOutcome is the typed reading of the wallet return parameters.
type PaymentOutcome struct {
	Status        PaymentCallbackStatus
	TransactionID string
	OrderID       string
	Reason        string
}

// Resolved reports whether the outcome reached a terminal state.
func (o PaymentOutcome) Resolved() bool {
	return o.Status == PaymentCallbackSuccess || o.Status == PaymentCallbackFailed
}

// Screen names the terminal route the operator is looking at.
type Screen string

const (
	// ScreenPOS is the cashier checkout screen.
	ScreenPOS Screen = "pos"
	// ScreenPaymentCallback is the wallet return page.
	ScreenPaymentCallback Screen = "payment_callback"
)

// Path returns the browser route for the screen.
func (s Screen) Path() string {
	switch s {
	case ScreenPaymentCallback:
		return "/pos/payments/momo/callback"
	default:
		return "/pos"
	}
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time

	OpenTerminals int
}
