package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

func newCheckoutRequest(t *testing.T, key, token, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if token != "" {
		ctx := requestctx.WithOperator(req.Context(), domain.Operator{Token: token, UserID: 7, BranchID: 1})
		req = req.WithContext(ctx)
	}
	return req
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newCheckoutRequest(t, "", "tok", `{}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler called twice, got %d", calls)
	}
}

func TestMiddlewareReplaysSuccessfulResponse(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"kind":"completed"}`))
		}),
	)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newCheckoutRequest(t, "key-1", "tok", `{"note":"a"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newCheckoutRequest(t, "key-1", "tok", `{"note":"a"}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"kind":"completed"}` {
		t.Fatalf("unexpected replay %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatal("expected replay header")
	}
	if first.Header().Get(ReplayHeader) != "" {
		t.Fatal("first response must not be marked as replay")
	}
}

func TestMiddlewareReleasesKeyOnFailure(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newCheckoutRequest(t, "retry", "tok", `{}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newCheckoutRequest(t, "retry", "tok", `{}`))

	if first.Code != http.StatusBadGateway || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d %d", first.Code, second.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest(t, "dup", "tok", `{"note":"a"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest(t, "dup", "tok", `{"note":"b"}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewareScopesKeysPerSession(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest(t, "shared", "tok-a", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newCheckoutRequest(t, "shared", "tok-b", `{}`))

	if calls != 2 {
		t.Fatalf("expected keys scoped per session, got %d calls", calls)
	}
}

func TestMiddlewarePendingKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	req := newCheckoutRequest(t, "busy", "tok", `{}`)
	identity := extractRequester(req.Context())
	fingerprint := requestFingerprint(req, []byte(`{}`), identity)
	if _, err := store.Reserve(context.Background(), scopedKey("busy", identity), fingerprint, time.Now(), time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while key is pending")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCheckoutRequest(t, "busy", "tok", `{}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareIgnoresSafeMethods(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/terminal", nil)
		req.Header.Set("Idempotency-Key", "k")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected GET to bypass idempotency, got %d calls", calls)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "b", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	res, err := store.Reserve(ctx, "a", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %+v %v", res, err)
	}
}

func assertErrorCode(t *testing.T, body []byte, want string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != want {
		t.Fatalf("expected error %q, got %v", want, payload["error"])
	}
}

// cancelAwareStore refuses writes on a done context, as a network-backed store would.
type cancelAwareStore struct {
	*MemoryStore
}

func (s cancelAwareStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.SaveResponse(ctx, key, fingerprint, resp, now, ttl)
}

func TestMiddlewarePersistsResponseAfterClientDisconnect(t *testing.T) {
	var calls int32
	var cancel context.CancelFunc
	handler := Middleware(cancelAwareStore{NewMemoryStore()}, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			if cancel != nil {
				cancel()
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"kind":"completed"}`))
		}),
	)

	req := newCheckoutRequest(t, "key-gone", "tok", `{}`)
	ctx, cancelFn := context.WithCancel(req.Context())
	defer cancelFn()
	cancel = cancelFn
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	cancel = nil
	retry := httptest.NewRecorder()
	handler.ServeHTTP(retry, newCheckoutRequest(t, "key-gone", "tok", `{}`))

	if calls != 1 {
		t.Fatalf("expected the retry to replay instead of re-running, got %d calls", calls)
	}
	if retry.Header().Get(ReplayHeader) != "true" || retry.Body.String() != `{"kind":"completed"}` {
		t.Fatalf("unexpected retry %d %s", retry.Code, retry.Body.String())
	}
}
