package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/httpx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

// POSHandlersDeps wires the POS endpoints.
type POSHandlersDeps struct {
	Terminals *services.TerminalRegistry
	Checkout  *services.CheckoutCoordinator
	Catalog   services.CatalogService
	// CheckoutGuard wraps POST /checkout, typically with the idempotency middleware.
	CheckoutGuard func(http.Handler) http.Handler
	Scheduler     services.Scheduler
	CallbackDelay time.Duration
	// RequestTimeout bounds every endpoint except POST /checkout. Defaults to 60s.
	RequestTimeout time.Duration
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// POSHandlers exposes the terminal, cart, checkout, callback and catalog endpoints for one operator.
type POSHandlers struct {
	terminals     *services.TerminalRegistry
	checkout      *services.CheckoutCoordinator
	catalog       services.CatalogService
	checkoutGuard func(http.Handler) http.Handler
	scheduler     services.Scheduler
	delay         time.Duration
	timeout       time.Duration
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewPOSHandlers constructs POS handlers.
func NewPOSHandlers(deps POSHandlersDeps) *POSHandlers {
	delay := deps.CallbackDelay
	if delay <= 0 {
		delay = services.CallbackRedirectDelay
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &POSHandlers{
		terminals:     deps.Terminals,
		checkout:      deps.Checkout,
		catalog:       deps.Catalog,
		checkoutGuard: deps.CheckoutGuard,
		scheduler:     deps.Scheduler,
		delay:         delay,
		timeout:       timeout,
		logger:        deps.Logger,
	}
}

// Routes registers the /pos endpoints. The sale submission is not bounded by the request timeout:
// once sent it runs to completion even if the client goes away.
func (h *POSHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	checkout := r
	if h.checkoutGuard != nil {
		checkout = r.With(h.checkoutGuard)
	}
	checkout.Post("/checkout", h.submitCheckout)

	r.Group(func(bounded chi.Router) {
		bounded.Use(middleware.Timeout(h.timeout))

		bounded.Get("/terminal", h.getTerminal)

		bounded.Route("/cart", func(cart chi.Router) {
			cart.Delete("/", h.clearCart)
			cart.Post("/lines", h.addLine)
			cart.Put("/lines/{productId}", h.setQuantity)
			cart.Delete("/lines/{productId}", h.removeLine)
			cart.Put("/lines/{productId}/discount", h.setLineDiscount)
			cart.Put("/discount", h.setDiscount)
			cart.Put("/customer", h.setCustomer)
			cart.Put("/payment-method", h.setPaymentMethod)
		})

		bounded.Post("/checkout/complete", h.completeCheckout)

		bounded.Get("/payments/momo/callback", h.momoCallback)
		bounded.Post("/payments/momo/callback/back", h.callbackBack)

		bounded.Route("/catalog", func(catalog chi.Router) {
			catalog.Get("/customers", h.listCustomers)
			catalog.Get("/products", h.listProducts)
			catalog.Get("/categories", h.listCategories)
			catalog.Get("/inventory/{productId}", h.productInventory)
		})
	})
}

func (h *POSHandlers) terminal(w http.ResponseWriter, r *http.Request) (*services.Terminal, bool) {
	ctx := r.Context()
	if h.terminals == nil {
		httpx.WriteError(ctx, w, httpx.NewError("terminal_unavailable", "terminal registry unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	op, ok := requestctx.Operator(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	term, err := h.terminals.Open(ctx, op)
	if err != nil {
		if errors.Is(err, services.ErrTerminalInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
			return nil, false
		}
		httpx.WriteError(ctx, w, httpx.NewError("terminal_error", "unable to open terminal", http.StatusInternalServerError))
		return nil, false
	}
	return term, true
}

func (h *POSHandlers) getTerminal(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}

	var ret *posReturnPayload
	if parsed, found := services.ParsePOSReturn(r.URL.Query()); found {
		if parsed.Status == domain.PaymentCallbackSuccess {
			term.Cart().Clear()
		}
		term.Navigate(domain.ScreenPOS)
		ret = &posReturnPayload{Status: string(parsed.Status), OrderID: parsed.OrderID, Message: parsed.Message}
		h.log(r.Context(), "pos_return."+string(parsed.Status), map[string]any{"orderId": parsed.OrderID})
	}

	payload := buildTerminalPayload(term.View(), h.delay)
	payload.Return = ret
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type addLineRequest struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Code        string           `json:"code"`
	RetailPrice float64          `json:"retailPrice"`
	Category    *categoryPayload `json:"category"`
}

func (h *POSHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID <= 0 {
		writeInvalid(r.Context(), w, "id must be a positive integer")
		return
	}
	if req.RetailPrice < 0 || math.IsNaN(req.RetailPrice) || math.IsInf(req.RetailPrice, 0) {
		writeInvalid(r.Context(), w, "retailPrice must be a non-negative number")
		return
	}
	product := domain.Product{
		ID:          req.ID,
		Name:        strings.TrimSpace(req.Name),
		Code:        strings.TrimSpace(req.Code),
		RetailPrice: req.RetailPrice,
	}
	if req.Category != nil {
		product.Category = &domain.CategoryRef{ID: req.Category.ID, Name: req.Category.Name}
	}
	cart, err := term.Cart().AddLine(product)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, cart)
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *POSHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeInvalid(r.Context(), w, "quantity is required")
		return
	}
	cart, err := term.Cart().SetQuantity(productID, *req.Quantity)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, cart)
}

func (h *POSHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	writeCart(w, term.Cart().RemoveLine(productID))
}

type lineDiscountRequest struct {
	Discount *float64 `json:"discount"`
}

func (h *POSHandlers) setLineDiscount(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	var req lineDiscountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Discount == nil {
		writeInvalid(r.Context(), w, "discount is required")
		return
	}
	cart, err := term.Cart().SetLineDiscount(productID, *req.Discount)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, cart)
}

type discountRequest struct {
	Amount *float64 `json:"amount"`
	Ratio  *float64 `json:"ratio"`
}

func (h *POSHandlers) setDiscount(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var req discountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil && req.Ratio == nil {
		writeInvalid(r.Context(), w, "amount or ratio is required")
		return
	}
	if req.Amount != nil && *req.Amount < 0 {
		writeCartError(r.Context(), w, services.ErrCartInvalidInput)
		return
	}

	store := term.Cart()
	cart := store.Snapshot()
	if req.Amount != nil {
		updated, err := store.SetGlobalDiscountAmount(*req.Amount)
		if err != nil {
			writeCartError(r.Context(), w, err)
			return
		}
		cart = updated
	}
	if req.Ratio != nil {
		updated, err := store.SetGlobalDiscountRatio(*req.Ratio)
		if err != nil {
			writeCartError(r.Context(), w, err)
			return
		}
		cart = updated
	}
	writeCart(w, cart)
}

type customerRequest struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *POSHandlers) setCustomer(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var req *customerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req == nil {
		writeCart(w, term.Cart().SetCustomer(nil))
		return
	}
	if req.ID <= 0 {
		writeInvalid(r.Context(), w, "id must be a positive integer")
		return
	}
	customer := &domain.Customer{ID: req.ID, Name: strings.TrimSpace(req.Name), Phone: strings.TrimSpace(req.Phone)}
	writeCart(w, term.Cart().SetCustomer(customer))
}

type paymentMethodRequest struct {
	Method string `json:"method"`
}

func (h *POSHandlers) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	var req paymentMethodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cart, err := term.Cart().SetPaymentMethod(domain.PaymentMethod(req.Method))
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, cart)
}

func (h *POSHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	writeCart(w, term.Cart().Clear())
}

type checkoutRequest struct {
	Note string `json:"note"`
}

func (h *POSHandlers) submitCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.Checkout(ctx, term.Cart(), services.CheckoutCommand{
		Operator: term.Operator(),
		Note:     req.Note,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutPayload{Kind: string(result.Kind), Cart: buildCartPayload(term.Cart().Snapshot())}
	switch result.Kind {
	case services.CheckoutRedirect:
		payload.PayURL = result.RedirectURL
		w.Header().Set("Location", result.RedirectURL)
	default:
		sale := result.Sale
		payload.Sale = buildSaleResultPayload(&sale)
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *POSHandlers) completeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	cart, err := h.checkout.DismissCompletion(term.Cart())
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeCart(w, cart)
}

func (h *POSHandlers) momoCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	page, err := term.MountCallback(ctx, r.URL.Query(), services.CallbackPageDeps{
		Scheduler: h.scheduler,
		Delay:     h.delay,
		Logger:    h.logger,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("callback_unavailable", "payment callback unavailable", http.StatusServiceUnavailable))
		return
	}

	seconds := int(math.Ceil(page.Delay().Seconds()))
	w.Header().Set("Refresh", fmt.Sprintf("%d; url=%s", seconds, domain.ScreenPOS.Path()))
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, buildCallbackPayload(page.Outcome(), page.Delay(), page.Mounted()))
}

func (h *POSHandlers) callbackBack(w http.ResponseWriter, r *http.Request) {
	term, ok := h.terminal(w, r)
	if !ok {
		return
	}
	term.BackToPOS()
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, buildTerminalPayload(term.View(), h.delay))
}

func (h *POSHandlers) log(ctx context.Context, event string, fields map[string]any) {
	if h.logger != nil {
		h.logger(ctx, event, fields)
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "productId"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeInvalid(r.Context(), w, "productId must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		writeBodyError(r.Context(), w, err)
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, httpx.ErrEmptyBody):
		writeInvalid(ctx, w, "request body is required")
	default:
		writeInvalid(ctx, w, "request body must be valid JSON")
	}
}

func writeInvalid(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeCart(w http.ResponseWriter, cart domain.Cart) {
	setNoStore(w)
	w.Header().Set("ETag", strconv.Quote("v"+strconv.FormatUint(cart.Version, 10)))
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(cart))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrCartInvalidInput) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var saleErr *services.SaleFailedError
	switch {
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNoBranch):
		httpx.WriteError(ctx, w, httpx.NewError("no_branch", "branch could not be determined; sign in again", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout for this cart is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrNoCompletedSale):
		httpx.WriteError(ctx, w, httpx.NewError("no_completed_sale", "there is no completed sale to dismiss", http.StatusConflict))
	case errors.As(err, &saleErr):
		httpx.WriteError(ctx, w, httpx.NewError("sale_failed", saleErr.Message, http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("checkout failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout", http.StatusInternalServerError))
	}
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}
