package salesapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

const (
	maxResponseBytes = 1 << 20
	breakerName      = "sales-api"
)

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = errors.New("salesapi: sales service unavailable")

// APIError is a non-2xx response from the sales service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("salesapi: status %d: %s", e.Status, e.Message)
}

// PublicMessage is the server-provided text safe to show to the operator.
func (e *APIError) PublicMessage() string {
	return e.Message
}

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	TripFailures uint32
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	APIToken string
	// Timeout bounds each call. Zero leaves calls to the transport's own failure.
	Timeout    time.Duration
	Breaker    BreakerSettings
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the retail back office over HTTP.
type Client struct {
	baseURL  *url.URL
	apiToken string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	logger   *zap.Logger
}

var (
	_ services.SaleService    = (*Client)(nil)
	_ services.CatalogService = (*Client)(nil)
)

// NewClient validates options and wires the instrumented transport and breaker.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("salesapi: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("salesapi: invalid base url %q", opts.BaseURL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		httpClient = &copied
	}
	transport := httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient.Transport = otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "salesapi " + r.Method + " " + routeTemplate(r.URL.Path)
		}),
	)
	if opts.Timeout > 0 {
		httpClient.Timeout = opts.Timeout
	}

	return &Client{
		baseURL:  base,
		apiToken: strings.TrimSpace(opts.APIToken),
		http:     httpClient,
		breaker:  newBreaker(opts.Breaker, logger),
		logger:   logger,
	}, nil
}

func newBreaker(cfg BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker[[]byte] {
	trip := cfg.TripFailures
	if trip == 0 {
		trip = 5
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("salesapi: circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// ProcessSale posts the sale exactly once. The breaker may reject it but never retries it.
func (c *Client) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	var out saleResultDTO
	if err := c.do(ctx, http.MethodPost, "/sales/process", newSaleRequestDTO(req), &out); err != nil {
		return domain.SaleResult{}, err
	}
	return out.toDomain(), nil
}

// ListCustomers returns every customer the back office exposes.
func (c *Client) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var out []customerDTO
	if err := c.do(ctx, http.MethodGet, "/customers", nil, &out); err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(out))
	for _, dto := range out {
		customers = append(customers, dto.toDomain())
	}
	return customers, nil
}

// ListProductsByBranch returns the products sold at a branch.
func (c *Client) ListProductsByBranch(ctx context.Context, branchID int64) ([]domain.Product, error) {
	var out []productDTO
	if err := c.do(ctx, http.MethodGet, "/products/branch/"+strconv.FormatInt(branchID, 10), nil, &out); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(out))
	for _, dto := range out {
		products = append(products, dto.toDomain())
	}
	return products, nil
}

// ListCategories returns the product categories.
func (c *Client) ListCategories(ctx context.Context) ([]domain.CategoryRef, error) {
	var out []categoryDTO
	if err := c.do(ctx, http.MethodGet, "/categories", nil, &out); err != nil {
		return nil, err
	}
	categories := make([]domain.CategoryRef, 0, len(out))
	for _, dto := range out {
		categories = append(categories, dto.toDomain())
	}
	return categories, nil
}

// ProductInventory returns the stock of a product at a branch.
func (c *Client) ProductInventory(ctx context.Context, branchID, productID int64) (services.InventoryLevel, error) {
	path := fmt.Sprintf("/inventory/product/%d/branch/%d", productID, branchID)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return services.InventoryLevel{}, err
	}
	dto, err := decodeInventory(raw)
	if err != nil {
		return services.InventoryLevel{}, err
	}
	return dto.toLevel(branchID, productID), nil
}

// Ping reports whether the back office answers. Any response below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return ErrUnavailable
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/categories", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("salesapi: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= http.StatusInternalServerError {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("salesapi: encode request: %w", err)
		}
		payload = encoded
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("salesapi: call rejected by circuit breaker", zap.String("path", routeTemplate(path)))
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("salesapi: decode %s response: %w", routeTemplate(path), err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("salesapi: %s %s: %w", method, routeTemplate(path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("salesapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("salesapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := requestctx.BearerToken(ctx)
	if token == "" {
		token = c.apiToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") && len(text) <= 256 {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "status " + strconv.Itoa(status)
}

// routeTemplate replaces numeric path segments so span names stay low-cardinality.
func routeTemplate(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if _, err := strconv.ParseInt(segment, 10, 64); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
