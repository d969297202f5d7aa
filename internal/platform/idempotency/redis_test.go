package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "")
	require.NoError(t, err)
	return store, mr
}

func TestRedisStoreReserveLifecycle(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "k", "other", fixedTime, time.Minute)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	err = store.SaveResponse(ctx, "k", "fp", Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"Content-Type": {"application/json"}, "Content-Length": {"2"}},
		Body:    []byte(`{}`),
	}, fixedTime, time.Minute)
	require.NoError(t, err)

	res, err = store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, http.StatusCreated, res.Record.ResponseStatus)
	assert.Equal(t, []byte(`{}`), res.Record.ResponseBody)
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")
}

func TestRedisStoreReleaseAndExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "k", "someone-else"))
	assert.True(t, mr.Exists(store.redisKey("k")), "foreign release must not delete")

	require.NoError(t, store.Release(ctx, "k", "fp"))
	assert.False(t, mr.Exists(store.redisKey("k")))

	_, err = store.Reserve(ctx, "k2", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	res, err := store.Reserve(ctx, "k2", "new", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	removed, err := store.CleanupExpired(ctx, fixedTime, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	assert.Error(t, err)
}
