package services

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

const (
	maxSaleNoteLength         = 500
	defaultSaleFailureMessage = "failed to process sale"
)

var (
	// ErrEmptyCart indicates checkout was requested for a cart without lines.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrNoBranch indicates the operator session does not resolve to a branch.
	ErrNoBranch = errors.New("checkout: branch could not be determined")
	// ErrCheckoutInProgress indicates a checkout for the same cart is still waiting on the sale service.
	ErrCheckoutInProgress = errors.New("checkout: already in progress")
	// ErrSaleFailed indicates the sale service rejected or could not be reached for the sale.
	ErrSaleFailed = errors.New("checkout: sale failed")
	// ErrNoCompletedSale indicates there is no completed sale to dismiss.
	ErrNoCompletedSale = errors.New("checkout: no completed sale")
	// ErrCheckoutUnavailable indicates checkout dependencies are missing.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// SaleFailedError carries the message the operator should see after a failed sale call.
type SaleFailedError struct {
	Message string
	Err     error
}

func (e *SaleFailedError) Error() string {
	return "checkout: sale failed: " + e.Message
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SaleFailedError) Unwrap() []error {
	return []error{ErrSaleFailed, e.Err}
}

// publicMessager is implemented by transport errors that carry a server supplied message.
type publicMessager interface {
	PublicMessage() string
}

// CheckoutKind tags the branch a successful checkout took.
type CheckoutKind string

const (
	// CheckoutCompleted means the sale is final and a completion affordance should be shown.
	CheckoutCompleted CheckoutKind = "completed"
	// CheckoutRedirect means the browser must navigate to the wallet's payment page.
	CheckoutRedirect CheckoutKind = "redirect"
)

// CheckoutResult is the tagged outcome of a successful sale call.
type CheckoutResult struct {
	Kind        CheckoutKind
	Sale        domain.SaleResult
	RedirectURL string
	Request     domain.SaleRequest
}

// CheckoutCommand carries the session context of a checkout attempt.
type CheckoutCommand struct {
	Operator domain.Operator
	Note     string
}

// CheckoutCoordinatorDeps wires the collaborators of the checkout coordinator.
type CheckoutCoordinatorDeps struct {
	Sales  SaleService
	Logger func(ctx context.Context, event string, fields map[string]any)
	// Sanitizer strips markup from the free-text note. Defaults to a strict bluemonday policy.
	Sanitizer func(string) string
}

// CheckoutCoordinator turns a cart into a persisted sale and picks the payment branch.
type CheckoutCoordinator struct {
	sales    SaleService
	logger   func(ctx context.Context, event string, fields map[string]any)
	sanitize func(string) string
}

// NewCheckoutCoordinator validates dependencies and builds a coordinator.
func NewCheckoutCoordinator(deps CheckoutCoordinatorDeps) (*CheckoutCoordinator, error) {
	if deps.Sales == nil {
		return nil, errors.New("checkout coordinator: sale service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		policy := bluemonday.StrictPolicy()
		sanitize = func(value string) string {
			return html.UnescapeString(policy.Sanitize(value))
		}
	}
	return &CheckoutCoordinator{
		sales:    deps.Sales,
		logger:   logger,
		sanitize: sanitize,
	}, nil
}

// Checkout validates the cart, submits it once to the sale service, and reports which payment branch
// applies. The cart is never modified before the sale service answers; on failure it is left intact.
func (c *CheckoutCoordinator) Checkout(ctx context.Context, store *CartStore, cmd CheckoutCommand) (CheckoutResult, error) {
	if c == nil || c.sales == nil || store == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	if len(store.Snapshot().Lines) == 0 {
		return CheckoutResult{}, ErrEmptyCart
	}
	if !cmd.Operator.HasBranch() {
		return CheckoutResult{}, ErrNoBranch
	}

	cart, err := store.beginCheckout()
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(cart.Lines) == 0 {
		store.finishCheckout(nil, "")
		return CheckoutResult{}, ErrEmptyCart
	}

	req := c.buildSaleRequest(cart, cmd)
	fields := map[string]any{
		"branchId":      req.BranchID,
		"createdBy":     req.CreatedBy,
		"paymentMethod": string(req.PaymentMethod),
		"lines":         len(req.Details),
		"totalPayment":  req.TotalPayment,
	}
	c.logger(ctx, "checkout.submit", fields)

	// Once submitted the sale runs to completion even if the caller goes away.
	sale, err := c.sales.ProcessSale(context.WithoutCancel(ctx), req)
	if err != nil {
		message := saleFailureMessage(err)
		store.finishCheckout(nil, message)
		c.logger(ctx, "checkout.sale_failed", map[string]any{
			"branchId": req.BranchID,
			"error":    err.Error(),
		})
		return CheckoutResult{}, &SaleFailedError{Message: message, Err: err}
	}

	payURL := strings.TrimSpace(sale.PayURL)
	if req.PaymentMethod == domain.PaymentMethodMomo && payURL != "" {
		// The sale is not final until the wallet returns; no completion state is recorded.
		store.finishCheckout(nil, "")
		c.logger(ctx, "checkout.redirect", map[string]any{
			"invoiceCode": sale.InvoiceCode,
		})
		return CheckoutResult{
			Kind:        CheckoutRedirect,
			Sale:        sale,
			RedirectURL: payURL,
			Request:     req,
		}, nil
	}

	store.finishCheckout(&sale, "")
	c.logger(ctx, "checkout.completed", map[string]any{
		"invoiceCode": sale.InvoiceCode,
	})
	return CheckoutResult{
		Kind:    CheckoutCompleted,
		Sale:    sale,
		Request: req,
	}, nil
}

// DismissCompletion is the operator closing the completion affordance; it starts the next order.
func (c *CheckoutCoordinator) DismissCompletion(store *CartStore) (domain.Cart, error) {
	if store == nil {
		return domain.Cart{}, ErrCheckoutUnavailable
	}
	if store.Snapshot().SaleResult == nil {
		return domain.Cart{}, ErrNoCompletedSale
	}
	return store.Clear(), nil
}

func (c *CheckoutCoordinator) buildSaleRequest(cart domain.Cart, cmd CheckoutCommand) domain.SaleRequest {
	req := domain.SaleRequest{
		BranchID:      cmd.Operator.BranchID,
		Total:         cart.Subtotal,
		TotalPayment:  cart.Total,
		Discount:      cart.DiscountAmount,
		DiscountRatio: cart.DiscountRatio,
		Description:   c.cleanNote(cmd.Note),
		PaymentMethod: cart.PaymentMethod,
		CreatedBy:     cmd.Operator.UserID,
		Details:       make([]domain.SaleLine, 0, len(cart.Lines)),
	}
	if cart.Customer != nil {
		id := cart.Customer.ID
		req.CustomerID = &id
	}
	for _, line := range cart.Lines {
		req.Details = append(req.Details, domain.SaleLine{
			ProductID: line.Product.ID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.LineDiscount,
		})
	}
	return req
}

func (c *CheckoutCoordinator) cleanNote(note string) string {
	note = strings.TrimSpace(c.sanitize(note))
	if runes := []rune(note); len(runes) > maxSaleNoteLength {
		note = string(runes[:maxSaleNoteLength])
	}
	return note
}

func saleFailureMessage(err error) string {
	var pm publicMessager
	if errors.As(err, &pm) {
		if msg := strings.TrimSpace(pm.PublicMessage()); msg != "" {
			return msg
		}
	}
	return defaultSaleFailureMessage
}
