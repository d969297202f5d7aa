package salesapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*Options)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	options := Options{BaseURL: server.URL + "/api/", APIToken: "service-token"}
	for _, opt := range opts {
		opt(&options)
	}
	client, err := NewClient(options)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestProcessSaleSendsRequestAndDecodesResult(t *testing.T) {
	customerID := int64(12)
	var captured map[string]any
	var auth string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sales/process" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","invoiceId":55,"invoiceCode":"HD000055","status":"PENDING","payUrl":"https://pay.example/momo/55"}`))
	})

	ctx := requestctx.WithOperator(context.Background(), domain.Operator{Token: "operator-token"})
	result, err := client.ProcessSale(ctx, domain.SaleRequest{
		BranchID:      3,
		CustomerID:    &customerID,
		Total:         90,
		TotalPayment:  90,
		Discount:      10,
		DiscountRatio: 0,
		Description:   "note",
		PaymentMethod: domain.PaymentMethodMomo,
		CreatedBy:     7,
		Details:       []domain.SaleLine{{ProductID: 1, Quantity: 2, UnitPrice: 50, Discount: 0}},
	})
	if err != nil {
		t.Fatalf("ProcessSale: %v", err)
	}
	if result.InvoiceID != 55 || result.InvoiceCode != "HD000055" || result.PayURL != "https://pay.example/momo/55" {
		t.Fatalf("unexpected result %+v", result)
	}
	if auth != "Bearer operator-token" {
		t.Fatalf("expected operator token forwarded, got %q", auth)
	}
	if captured["paymentMethod"] != "MOMO" || captured["customerId"] != float64(12) || captured["branchId"] != float64(3) {
		t.Fatalf("unexpected payload %v", captured)
	}
	details, _ := captured["details"].([]any)
	if len(details) != 1 {
		t.Fatalf("expected one detail, got %v", captured["details"])
	}
	product := details[0].(map[string]any)["product"].(map[string]any)
	if product["id"] != float64(1) {
		t.Fatalf("expected nested product id, got %v", product)
	}
}

func TestProcessSaleWalkInSendsNullCustomer(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"invoiceId":1}`))
	})

	if _, err := client.ProcessSale(context.Background(), domain.SaleRequest{BranchID: 1, PaymentMethod: domain.PaymentMethodCash}); err != nil {
		t.Fatalf("ProcessSale: %v", err)
	}
	value, ok := captured["customerId"]
	if !ok || value != nil {
		t.Fatalf("expected explicit null customerId, got %v (present=%v)", value, ok)
	}
}

func TestProcessSaleUsesServiceTokenWithoutOperator(t *testing.T) {
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := client.ProcessSale(context.Background(), domain.SaleRequest{}); err != nil {
		t.Fatalf("ProcessSale: %v", err)
	}
	if auth != "Bearer service-token" {
		t.Fatalf("expected service token, got %q", auth)
	}
}

func TestProcessSaleSurfacesServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Không đủ tồn kho"}`))
	})

	_, err := client.ProcessSale(context.Background(), domain.SaleRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.PublicMessage() != "Không đủ tồn kho" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestErrorMessageFallsBackToStatusText(t *testing.T) {
	if got := errorMessage(http.StatusBadGateway, []byte("<html>")); got != "Bad Gateway" {
		t.Fatalf("expected status text, got %q", got)
	}
	if got := errorMessage(http.StatusConflict, []byte(`{"error":"duplicate"}`)); got != "duplicate" {
		t.Fatalf("expected error field, got %q", got)
	}
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var calls int32
	status := http.StatusBadRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(status)
	}, func(o *Options) {
		o.Breaker = BreakerSettings{TripFailures: 2, OpenTimeout: time.Minute}
	})

	for i := 0; i < 3; i++ {
		if _, err := client.ListCategories(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 3 {
		t.Fatalf("client errors must not trip the breaker, got %d calls", calls)
	}

	status = http.StatusServiceUnavailable
	for i := 0; i < 2; i++ {
		_, _ = client.ListCategories(context.Background())
	}
	_, err := client.ListCategories(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once open, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected open breaker to short-circuit, got %d calls", calls)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ping to report open breaker, got %v", err)
	}
}

func TestCatalogLookups(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/customers":
			_, _ = w.Write([]byte(`[{"id":1,"code":"KH1","name":"An","contactNumber":"0901"}]`))
		case "/api/products/branch/4":
			_, _ = w.Write([]byte(`[{"id":9,"code":"SP9","name":"Rice","retailPrice":25000,"categoryId":2},{"id":10,"name":"Milk","retailPrice":12000,"category":{"id":3,"categoryName":"Dairy"}}]`))
		case "/api/categories":
			_, _ = w.Write([]byte(`[{"id":2,"categoryName":"Grain"}]`))
		case "/api/inventory/product/9/branch/4":
			_, _ = w.Write([]byte(`{"branchId":4,"onHand":30,"available":25}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	customers, err := client.ListCustomers(ctx)
	if err != nil || len(customers) != 1 || customers[0].Phone != "0901" {
		t.Fatalf("unexpected customers %+v (%v)", customers, err)
	}

	products, err := client.ListProductsByBranch(ctx, 4)
	if err != nil || len(products) != 2 {
		t.Fatalf("unexpected products %+v (%v)", products, err)
	}
	if products[0].Category == nil || products[0].Category.ID != 2 {
		t.Fatalf("expected category id from categoryId, got %+v", products[0].Category)
	}
	if products[1].Category == nil || products[1].Category.Name != "Dairy" {
		t.Fatalf("expected nested category, got %+v", products[1].Category)
	}

	categories, err := client.ListCategories(ctx)
	if err != nil || len(categories) != 1 || categories[0].Name != "Grain" {
		t.Fatalf("unexpected categories %+v (%v)", categories, err)
	}

	level, err := client.ProductInventory(ctx, 4, 9)
	if err != nil {
		t.Fatalf("ProductInventory: %v", err)
	}
	if level.Quantity != 25 || level.BranchID != 4 || level.ProductID != 9 {
		t.Fatalf("unexpected inventory %+v", level)
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewClient(Options{BaseURL: raw}); err == nil {
			t.Fatalf("%q: expected error", raw)
		}
	}
}

func TestRouteTemplate(t *testing.T) {
	if got := routeTemplate("/inventory/product/9/branch/4"); got != "/inventory/product/{id}/branch/{id}" {
		t.Fatalf("unexpected template %q", got)
	}
}
