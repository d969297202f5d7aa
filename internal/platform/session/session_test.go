package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
)

var sessionNow = time.Date(2025, time.May, 2, 9, 0, 0, 0, time.UTC)

func cashierSession() domain.Operator {
	return domain.Operator{
		Token:      "tok-1",
		UserID:     7,
		Username:   "thu.ngan",
		BranchID:   3,
		BranchName: "Quận 1",
		ExpiresAt:  sessionNow.Add(8 * time.Hour),
	}
}

func TestMemoryStoreLookup(t *testing.T) {
	now := sessionNow
	store := NewMemoryStore(func() time.Time { return now })
	require.NoError(t, store.Put(cashierSession()))

	op, err := store.Lookup(context.Background(), " tok-1 ")
	require.NoError(t, err)
	assert.Equal(t, int64(3), op.BranchID)

	_, err = store.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	now = now.Add(9 * time.Hour)
	_, err = store.Lookup(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrSessionExpired)

	store.Delete("tok-1")
	_, err = store.Lookup(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, store.Put(domain.Operator{}), ErrInvalidSession)
}

type redisFixture struct {
	mr    *miniredis.Miniredis
	store *RedisStore
	now   *time.Time
}

func newRedisFixture(t *testing.T, cacheTTL time.Duration) redisFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := sessionNow
	store, err := NewRedisStore(client, RedisOptions{
		CacheTTL: cacheTTL,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return redisFixture{mr: mr, store: store, now: &now}
}

func TestRedisStoreReadsBackOfficeSession(t *testing.T) {
	fx := newRedisFixture(t, 0)
	fx.mr.Set("pos:session:tok-raw", `{"userId":9,"userName":"an","branch":{"id":5,"name":"Thủ Đức"}}`)

	op, err := fx.store.Lookup(context.Background(), "tok-raw")
	require.NoError(t, err)
	assert.Equal(t, domain.Operator{Token: "tok-raw", UserID: 9, Username: "an", BranchID: 5, BranchName: "Thủ Đức"}, op)
	assert.True(t, op.HasBranch())
}

func TestRedisStorePutLookupAndExpiry(t *testing.T) {
	fx := newRedisFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, fx.store.Put(ctx, cashierSession()))

	ttl := fx.mr.TTL("pos:session:tok-1")
	assert.Equal(t, 8*time.Hour, ttl)

	op, err := fx.store.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "thu.ngan", op.Username)
	assert.True(t, op.ExpiresAt.Equal(sessionNow.Add(8*time.Hour)))

	*fx.now = sessionNow.Add(8 * time.Hour)
	_, err = fx.store.Lookup(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrSessionExpired)

	require.NoError(t, fx.store.Delete(ctx, "tok-1"))
	_, err = fx.store.Lookup(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreCachesLookups(t *testing.T) {
	fx := newRedisFixture(t, 30*time.Second)
	ctx := context.Background()
	require.NoError(t, fx.store.Put(ctx, cashierSession()))

	_, err := fx.store.Lookup(ctx, "tok-1")
	require.NoError(t, err)

	fx.mr.Del("pos:session:tok-1")
	_, err = fx.store.Lookup(ctx, "tok-1")
	require.NoError(t, err, "expected cached session within TTL")

	*fx.now = sessionNow.Add(31 * time.Second)
	_, err = fx.store.Lookup(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreConcurrentLookups(t *testing.T) {
	fx := newRedisFixture(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, fx.store.Put(ctx, cashierSession()))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op, err := fx.store.Lookup(ctx, "tok-1")
			if err == nil && op.UserID != 7 {
				err = errors.New("unexpected operator")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRedisStoreRejectsCorruptSession(t *testing.T) {
	fx := newRedisFixture(t, 0)
	fx.mr.Set("pos:session:bad", "not-json")

	_, err := fx.store.Lookup(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRedisStorePing(t *testing.T) {
	fx := newRedisFixture(t, 0)
	require.NoError(t, fx.store.Ping(context.Background()))
}

func TestRedisStorePrunesAbandonedCacheEntries(t *testing.T) {
	fx := newRedisFixture(t, 30*time.Second)
	ctx := context.Background()
	for _, token := range []string{"tok-a", "tok-b"} {
		op := cashierSession()
		op.Token = token
		require.NoError(t, fx.store.Put(ctx, op))
		_, err := fx.store.Lookup(ctx, token)
		require.NoError(t, err)
	}
	assert.Len(t, fx.store.cache, 2)

	// tok-a and tok-b are never looked up again; a later insert sweeps them.
	*fx.now = sessionNow.Add(31 * time.Second)
	require.NoError(t, fx.store.Put(ctx, cashierSession()))
	_, err := fx.store.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	assert.Len(t, fx.store.cache, 1)
	assert.Contains(t, fx.store.cache, "tok-1")

	*fx.now = sessionNow.Add(62 * time.Second)
	assert.Equal(t, 1, fx.store.PruneCache(*fx.now))
	assert.Empty(t, fx.store.cache)
}
