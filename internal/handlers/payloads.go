package handlers

import (
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

type categoryPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

type productPayload struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Code        string           `json:"code,omitempty"`
	RetailPrice float64          `json:"retailPrice"`
	Category    *categoryPayload `json:"category,omitempty"`
}

type customerPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type cartLinePayload struct {
	Product   productPayload `json:"product"`
	Quantity  int            `json:"quantity"`
	UnitPrice float64        `json:"unitPrice"`
	Discount  float64        `json:"discount"`
	Amount    float64        `json:"amount"`
}

type saleResultPayload struct {
	Message     string `json:"message,omitempty"`
	InvoiceID   int64  `json:"invoiceId"`
	InvoiceCode string `json:"invoiceCode"`
	Status      string `json:"status,omitempty"`
	PayURL      string `json:"payUrl,omitempty"`
}

type cartPayload struct {
	Lines          []cartLinePayload  `json:"lines"`
	ItemCount      int                `json:"itemCount"`
	Customer       *customerPayload   `json:"customer"`
	DiscountAmount float64            `json:"discountAmount"`
	DiscountRatio  float64            `json:"discountRatio"`
	PaymentMethod  string             `json:"paymentMethod"`
	Subtotal       float64            `json:"subtotal"`
	Total          float64            `json:"total"`
	Version        uint64             `json:"version"`
	Loading        bool               `json:"loading"`
	SaleResult     *saleResultPayload `json:"saleResult"`
	Error          string             `json:"error,omitempty"`
}

type operatorPayload struct {
	UserID     int64  `json:"userId"`
	Username   string `json:"username,omitempty"`
	BranchID   int64  `json:"branchId,omitempty"`
	BranchName string `json:"branchName,omitempty"`
}

type callbackPayload struct {
	Status          string `json:"status"`
	TransactionID   string `json:"transactionId,omitempty"`
	OrderID         string `json:"orderId,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RedirectTo      string `json:"redirectTo"`
	RedirectAfterMS int64  `json:"redirectAfterMs"`
	Mounted         bool   `json:"mounted"`
}

type posReturnPayload struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

type terminalPayload struct {
	ID          string            `json:"id"`
	Screen      string            `json:"screen"`
	Path        string            `json:"path"`
	Operator    operatorPayload   `json:"operator"`
	Cart        cartPayload       `json:"cart"`
	Callback    *callbackPayload  `json:"callback,omitempty"`
	Return      *posReturnPayload `json:"paymentReturn,omitempty"`
	OpenedAt    string            `json:"openedAt"`
	LastSeen    string            `json:"lastSeen"`
	MaxQuantity int               `json:"maxQuantityHint"`
}

type checkoutPayload struct {
	Kind   string             `json:"kind"`
	Sale   *saleResultPayload `json:"sale,omitempty"`
	PayURL string             `json:"payUrl,omitempty"`
	Cart   cartPayload        `json:"cart"`
}

type inventoryPayload struct {
	BranchID  int64 `json:"branchId"`
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

func buildProductPayload(p domain.Product) productPayload {
	payload := productPayload{ID: p.ID, Name: p.Name, Code: p.Code, RetailPrice: p.RetailPrice}
	if p.Category != nil {
		payload.Category = &categoryPayload{ID: p.Category.ID, Name: p.Category.Name}
	}
	return payload
}

func buildCustomerPayload(c *domain.Customer) *customerPayload {
	if c == nil {
		return nil
	}
	return &customerPayload{ID: c.ID, Name: c.Name, Phone: c.Phone}
}

func buildSaleResultPayload(r *domain.SaleResult) *saleResultPayload {
	if r == nil {
		return nil
	}
	return &saleResultPayload{
		Message:     r.Message,
		InvoiceID:   r.InvoiceID,
		InvoiceCode: r.InvoiceCode,
		Status:      r.Status,
		PayURL:      r.PayURL,
	}
}

func buildCartPayload(cart domain.Cart) cartPayload {
	lines := make([]cartLinePayload, 0, len(cart.Lines))
	items := 0
	for _, line := range cart.Lines {
		lines = append(lines, cartLinePayload{
			Product:   buildProductPayload(line.Product),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Discount:  line.LineDiscount,
			Amount:    line.Amount(),
		})
		items += line.Quantity
	}
	return cartPayload{
		Lines:          lines,
		ItemCount:      items,
		Customer:       buildCustomerPayload(cart.Customer),
		DiscountAmount: cart.DiscountAmount,
		DiscountRatio:  cart.DiscountRatio,
		PaymentMethod:  string(cart.PaymentMethod),
		Subtotal:       cart.Subtotal,
		Total:          cart.Total,
		Version:        cart.Version,
		Loading:        cart.Loading,
		SaleResult:     buildSaleResultPayload(cart.SaleResult),
		Error:          cart.LastError,
	}
}

func buildCallbackPayload(outcome domain.PaymentOutcome, delay time.Duration, mounted bool) *callbackPayload {
	return &callbackPayload{
		Status:          string(outcome.Status),
		TransactionID:   outcome.TransactionID,
		OrderID:         outcome.OrderID,
		Reason:          outcome.Reason,
		RedirectTo:      domain.ScreenPOS.Path(),
		RedirectAfterMS: delay.Milliseconds(),
		Mounted:         mounted,
	}
}

func buildTerminalPayload(view services.TerminalView, delay time.Duration) terminalPayload {
	payload := terminalPayload{
		ID:     view.ID,
		Screen: string(view.Screen),
		Path:   view.Screen.Path(),
		Operator: operatorPayload{
			UserID:     view.Operator.UserID,
			Username:   view.Operator.Username,
			BranchID:   view.Operator.BranchID,
			BranchName: view.Operator.BranchName,
		},
		Cart:        buildCartPayload(view.Cart),
		OpenedAt:    view.OpenedAt.UTC().Format(time.RFC3339),
		LastSeen:    view.LastSeen.UTC().Format(time.RFC3339),
		MaxQuantity: domain.MaxQuantityHint,
	}
	if view.Callback != nil {
		payload.Callback = buildCallbackPayload(*view.Callback, delay, view.CallbackMounted)
	}
	return payload
}
