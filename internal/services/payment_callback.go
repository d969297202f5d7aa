package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

const (
	// CallbackRedirectDelay is how long the outcome stays on screen before the terminal returns to POS.
	CallbackRedirectDelay = 5 * time.Second

	callbackFailedSentinel = "momo_callback_failed"
	walletSuccessCode      = "0"

	posReturnSystemErrorMessage = "an error occurred, please try again"
	posReturnFailedMessage      = "an error occurred while processing the payment"
)

// ErrCallbackUnavailable indicates the callback page is missing collaborators.
var ErrCallbackUnavailable = errors.New("payment callback: unavailable")

// ParsePaymentCallback reads the wallet return parameters in priority order: the failure sentinel,
// then the success code, then any other result code. Without recognisable parameters the outcome
// stays processing.
func ParsePaymentCallback(params url.Values) domain.PaymentOutcome {
	if params.Get("error") == callbackFailedSentinel {
		return domain.PaymentOutcome{Status: domain.PaymentCallbackFailed}
	}

	resultCode := params.Get("resultCode")
	switch {
	case resultCode == walletSuccessCode:
		return domain.PaymentOutcome{
			Status:        domain.PaymentCallbackSuccess,
			TransactionID: params.Get("transId"),
			OrderID:       params.Get("orderId"),
		}
	case resultCode != "":
		return domain.PaymentOutcome{
			Status: domain.PaymentCallbackFailed,
			Reason: params.Get("message"),
		}
	default:
		return domain.PaymentOutcome{Status: domain.PaymentCallbackProcessing}
	}
}

// POSReturn is the payment notice carried on the POS route by the older return flow.
type POSReturn struct {
	Status  domain.PaymentCallbackStatus
	OrderID string
	Message string
}

// ParsePOSReturn reads the `payment` return parameter on the POS route. ok is false when the
// parameter is absent or unknown.
func ParsePOSReturn(params url.Values) (POSReturn, bool) {
	orderID := params.Get("orderId")
	switch strings.ToLower(strings.TrimSpace(params.Get("payment"))) {
	case "success":
		return POSReturn{Status: domain.PaymentCallbackSuccess, OrderID: orderID}, true
	case "failed":
		message := params.Get("message")
		if message == "" {
			message = posReturnFailedMessage
		}
		return POSReturn{Status: domain.PaymentCallbackFailed, OrderID: orderID, Message: message}, true
	case "error":
		return POSReturn{Status: domain.PaymentCallbackFailed, OrderID: orderID, Message: posReturnSystemErrorMessage}, true
	default:
		return POSReturn{}, false
	}
}

// CartClearer resets the session's cart.
type CartClearer interface {
	Clear() domain.Cart
}

// CallbackPageDeps wires a callback page instance.
type CallbackPageDeps struct {
	Cart      CartClearer
	Navigate  func(domain.Screen)
	Scheduler Scheduler
	Delay     time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// CallbackPage is one visit to the wallet return route. Its outcome is resolved once on mount and the
// page navigates back to POS after the configured delay unless it is unmounted first.
type CallbackPage struct {
	outcome  domain.PaymentOutcome
	navigate func(domain.Screen)
	delay    time.Duration

	mu      sync.Mutex
	timer   Timer
	mounted bool
}

// MountCallbackPage resolves the outcome from params, clears the cart on success, and starts the
// return timer regardless of the outcome.
func MountCallbackPage(ctx context.Context, params url.Values, deps CallbackPageDeps) (*CallbackPage, error) {
	if deps.Cart == nil || deps.Navigate == nil {
		return nil, ErrCallbackUnavailable
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = RealScheduler
	}
	delay := deps.Delay
	if delay <= 0 {
		delay = CallbackRedirectDelay
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	page := &CallbackPage{
		outcome:  ParsePaymentCallback(params),
		navigate: deps.Navigate,
		delay:    delay,
		mounted:  true,
	}

	switch page.outcome.Status {
	case domain.PaymentCallbackSuccess:
		deps.Cart.Clear()
		logger(ctx, "payment_callback.success", map[string]any{
			"transactionId": page.outcome.TransactionID,
			"orderId":       page.outcome.OrderID,
		})
	case domain.PaymentCallbackFailed:
		logger(ctx, "payment_callback.failed", map[string]any{
			"reason": page.outcome.Reason,
		})
	default:
		logger(ctx, "payment_callback.indeterminate", map[string]any{
			"params": params.Encode(),
		})
	}

	timer := scheduler.AfterFunc(delay, page.fire)
	page.mu.Lock()
	if page.mounted {
		page.timer = timer
	}
	page.mu.Unlock()
	return page, nil
}

// Outcome returns the resolved payment outcome.
func (p *CallbackPage) Outcome() domain.PaymentOutcome {
	return p.outcome
}

// Delay returns how long the page waits before returning to POS.
func (p *CallbackPage) Delay() time.Duration {
	return p.delay
}

// Mounted reports whether the page is still on screen.
func (p *CallbackPage) Mounted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mounted
}

// Unmount cancels the pending return. It is safe to call more than once.
func (p *CallbackPage) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unmountLocked()
}

// BackToPOS navigates to POS immediately and cancels the pending return.
func (p *CallbackPage) BackToPOS() {
	p.mu.Lock()
	wasMounted := p.mounted
	p.unmountLocked()
	p.mu.Unlock()
	if wasMounted {
		p.navigate(domain.ScreenPOS)
	}
}

func (p *CallbackPage) fire() {
	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		return
	}
	p.mounted = false
	p.timer = nil
	p.mu.Unlock()
	p.navigate(domain.ScreenPOS)
}

func (p *CallbackPage) unmountLocked() {
	if !p.mounted {
		return
	}
	p.mounted = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
