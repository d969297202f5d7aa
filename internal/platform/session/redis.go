package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/TienDattttt/Retail-Chain-Management-sub000/internal/domain"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

const defaultKeyPrefix = "pos:session:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	KeyPrefix string
	// CacheTTL keeps resolved sessions in process for this long. Zero disables the cache.
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

type cachedSession struct {
	op       domain.Operator
	cachedAt time.Time
}

// RedisStore resolves sessions written to redis by the back office login flow.
// Concurrent lookups of one token share a single redis round trip.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	cacheTTL time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	group    singleflight.Group

	mu        sync.RWMutex
	cache     map[string]cachedSession
	lastPrune time.Time
}

var _ services.OperatorSessions = (*RedisStore)(nil)

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		cacheTTL: opts.CacheTTL,
		clock:    clock,
		logger:   logger,
		cache:    make(map[string]cachedSession),
	}, nil
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Lookup implements services.OperatorSessions.
func (s *RedisStore) Lookup(ctx context.Context, token string) (domain.Operator, error) {
	token, err := normalizeToken(token)
	if err != nil {
		return domain.Operator{}, err
	}
	now := s.clock()
	if op, ok := s.cached(token, now); ok {
		if err := checkExpiry(op, now); err != nil {
			s.evict(token)
			return domain.Operator{}, err
		}
		return op, nil
	}

	value, err, shared := s.group.Do(token, func() (any, error) {
		return s.fetch(ctx, token)
	})
	if err != nil {
		return domain.Operator{}, err
	}
	op := value.(domain.Operator)
	if shared {
		s.logger.Debug("session: lookup shared", zap.Int64("user_id", op.UserID))
	}
	if err := checkExpiry(op, now); err != nil {
		return domain.Operator{}, err
	}
	return op, nil
}

func (s *RedisStore) fetch(ctx context.Context, token string) (domain.Operator, error) {
	raw, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Operator{}, ErrSessionNotFound
		}
		return domain.Operator{}, fmt.Errorf("session: redis get: %w", err)
	}
	op, err := decode(token, raw)
	if err != nil {
		s.logger.Warn("session: undecodable session", zap.Error(err))
		return domain.Operator{}, err
	}
	if s.cacheTTL > 0 {
		now := s.clock()
		s.mu.Lock()
		s.cache[token] = cachedSession{op: op, cachedAt: now}
		if now.Sub(s.lastPrune) >= s.cacheTTL {
			s.pruneLocked(now)
		}
		s.mu.Unlock()
	}
	return op, nil
}

// PruneCache drops cached sessions older than the cache TTL and reports how many were removed.
func (s *RedisStore) PruneCache(now time.Time) int {
	if s.cacheTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *RedisStore) pruneLocked(now time.Time) int {
	removed := 0
	for token, entry := range s.cache {
		if now.Sub(entry.cachedAt) >= s.cacheTTL {
			delete(s.cache, token)
			removed++
		}
	}
	s.lastPrune = now
	return removed
}

func (s *RedisStore) cached(token string, now time.Time) (domain.Operator, bool) {
	if s.cacheTTL <= 0 {
		return domain.Operator{}, false
	}
	s.mu.RLock()
	entry, ok := s.cache[token]
	s.mu.RUnlock()
	if !ok || now.Sub(entry.cachedAt) >= s.cacheTTL {
		return domain.Operator{}, false
	}
	return entry.op, true
}

func (s *RedisStore) evict(token string) {
	s.mu.Lock()
	delete(s.cache, token)
	s.mu.Unlock()
}

// Put writes a session. The redis TTL follows ExpiresAt when set.
func (s *RedisStore) Put(ctx context.Context, op domain.Operator) error {
	payload, err := encode(op)
	if err != nil {
		return err
	}
	token := strings.TrimSpace(op.Token)
	var ttl time.Duration
	if !op.ExpiresAt.IsZero() {
		ttl = op.ExpiresAt.Sub(s.clock())
		if ttl <= 0 {
			return ErrSessionExpired
		}
	}
	if err := s.client.Set(ctx, s.key(token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	s.evict(token)
	return nil
}

// Delete removes a session from redis and the local cache.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	s.evict(token)
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Ping checks redis connectivity for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
