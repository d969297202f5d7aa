package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

const terminalIDPrefix = "trm_"

var (
	// ErrTerminalNotFound indicates no terminal is open for the session.
	ErrTerminalNotFound = errors.New("terminal: not found")
	// ErrTerminalInvalidInput indicates the operator session is unusable for opening a terminal.
	ErrTerminalInvalidInput = errors.New("terminal: invalid input")
)

// Terminal binds one operator session to its cart and the screen it is showing.
type Terminal struct {
	id       string
	cart     *CartStore
	openedAt time.Time

	mu       sync.Mutex
	operator domain.Operator
	screen   domain.Screen
	callback *CallbackPage
	lastSeen time.Time
}

// TerminalView is a point-in-time copy of a terminal.
type TerminalView struct {
	ID              string
	Operator        domain.Operator
	Screen          domain.Screen
	Cart            domain.Cart
	Callback        *domain.PaymentOutcome
	CallbackMounted bool
	OpenedAt        time.Time
	LastSeen        time.Time
}

// ID returns the terminal identifier.
func (t *Terminal) ID() string {
	return t.id
}

// Cart returns the terminal's cart store.
func (t *Terminal) Cart() *CartStore {
	return t.cart
}

// Operator returns the session the terminal currently runs under.
func (t *Terminal) Operator() domain.Operator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.operator
}

// Screen returns the route the terminal is showing.
func (t *Terminal) Screen() domain.Screen {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.screen
}

// CallbackPage returns the mounted callback page, if any.
func (t *Terminal) CallbackPage() *CallbackPage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callback
}

// Navigate records the screen change. Leaving the callback route unmounts its page.
func (t *Terminal) Navigate(screen domain.Screen) {
	t.mu.Lock()
	t.screen = screen
	var page *CallbackPage
	if screen != domain.ScreenPaymentCallback {
		page = t.callback
		t.callback = nil
	}
	t.mu.Unlock()

	if page != nil {
		page.Unmount()
	}
}

// MountCallback enters the wallet return route with a fresh page. Any previous page is unmounted.
func (t *Terminal) MountCallback(ctx context.Context, params url.Values, deps CallbackPageDeps) (*CallbackPage, error) {
	t.mu.Lock()
	previous := t.callback
	t.callback = nil
	t.screen = domain.ScreenPaymentCallback
	t.mu.Unlock()
	if previous != nil {
		previous.Unmount()
	}

	deps.Cart = t.cart
	deps.Navigate = t.Navigate
	page, err := MountCallbackPage(ctx, params, deps)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.screen == domain.ScreenPaymentCallback && page.Mounted() {
		t.callback = page
	}
	t.mu.Unlock()
	return page, nil
}

// BackToPOS is the explicit return button on the callback route.
func (t *Terminal) BackToPOS() {
	t.mu.Lock()
	page := t.callback
	t.mu.Unlock()
	if page != nil {
		page.BackToPOS()
		return
	}
	t.Navigate(domain.ScreenPOS)
}

// View returns a snapshot of the terminal.
func (t *Terminal) View() TerminalView {
	t.mu.Lock()
	view := TerminalView{
		ID:       t.id,
		Operator: t.operator,
		Screen:   t.screen,
		OpenedAt: t.openedAt,
		LastSeen: t.lastSeen,
	}
	page := t.callback
	t.mu.Unlock()

	view.Cart = t.cart.Snapshot()
	if page != nil {
		outcome := page.Outcome()
		view.Callback = &outcome
		view.CallbackMounted = page.Mounted()
	}
	return view
}

func (t *Terminal) touch(op domain.Operator, now time.Time) {
	t.mu.Lock()
	t.operator = op
	t.lastSeen = now
	t.mu.Unlock()
}

func (t *Terminal) idleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

// TerminalRegistryDeps configures the registry.
type TerminalRegistryDeps struct {
	IdleTTL time.Duration
	Clock   func() time.Time
	IDGen   func() string
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// TerminalRegistry keeps one terminal per operator session token.
type TerminalRegistry struct {
	mu        sync.Mutex
	terminals map[string]*Terminal

	idleTTL time.Duration
	clock   func() time.Time
	idGen   func() string
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewTerminalRegistry builds a registry. A non-positive idle TTL disables eviction.
func NewTerminalRegistry(deps TerminalRegistryDeps) *TerminalRegistry {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return terminalIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TerminalRegistry{
		terminals: make(map[string]*Terminal),
		idleTTL:   deps.IdleTTL,
		clock:     func() time.Time { return clock().UTC() },
		idGen:     idGen,
		logger:    logger,
	}
}

// Open returns the terminal for the operator session, creating it on first use.
func (r *TerminalRegistry) Open(ctx context.Context, op domain.Operator) (*Terminal, error) {
	token := strings.TrimSpace(op.Token)
	if token == "" {
		return nil, ErrTerminalInvalidInput
	}
	now := r.clock()

	r.mu.Lock()
	term, ok := r.terminals[token]
	if !ok {
		term = &Terminal{
			id:       r.idGen(),
			cart:     NewCartStore(),
			openedAt: now,
			screen:   domain.ScreenPOS,
		}
		r.terminals[token] = term
	}
	r.mu.Unlock()

	term.touch(op, now)
	if !ok {
		r.logger(ctx, "terminal.opened", map[string]any{
			"terminalId": term.id,
			"userId":     op.UserID,
			"branchId":   op.BranchID,
		})
	}
	return term, nil
}

// Lookup returns the open terminal for the session token.
func (r *TerminalRegistry) Lookup(token string) (*Terminal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	term, ok := r.terminals[strings.TrimSpace(token)]
	if !ok {
		return nil, ErrTerminalNotFound
	}
	return term, nil
}

// Close drops the terminal for the session token and cancels any pending callback return.
func (r *TerminalRegistry) Close(token string) bool {
	r.mu.Lock()
	term, ok := r.terminals[strings.TrimSpace(token)]
	if ok {
		delete(r.terminals, strings.TrimSpace(token))
	}
	r.mu.Unlock()
	if ok {
		term.Navigate(domain.ScreenPOS)
	}
	return ok
}

// Len reports how many terminals are open.
func (r *TerminalRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terminals)
}

// CleanupIdle evicts terminals not seen since now minus the idle TTL and returns how many were removed.
func (r *TerminalRegistry) CleanupIdle(ctx context.Context, now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*Terminal
	for token, term := range r.terminals {
		if term.idleSince().Before(cutoff) {
			evicted = append(evicted, term)
			delete(r.terminals, token)
		}
	}
	r.mu.Unlock()

	for _, term := range evicted {
		term.Navigate(domain.ScreenPOS)
		r.logger(ctx, "terminal.evicted", map[string]any{
			"terminalId": term.id,
		})
	}
	return len(evicted)
}
