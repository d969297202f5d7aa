package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultBreakerMaxRequests   = 1
	defaultBreakerInterval      = time.Minute
	defaultBreakerOpenTimeout   = 30 * time.Second
	defaultBreakerTripFailures  = 5
	defaultSessionBackend       = SessionBackendMemory
	defaultSessionKeyPrefix     = "pos:session:"
	defaultSessionCacheTTL      = 30 * time.Second
	defaultTerminalIdleTTL      = 12 * time.Hour
	defaultTerminalSweep        = 5 * time.Minute
	defaultCallbackDelay        = 5 * time.Second
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

const (
	// SessionBackendMemory keeps operator sessions in process.
	SessionBackendMemory = "memory"
	// SessionBackendRedis reads operator sessions written by the back office into redis.
	SessionBackendRedis = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Sales       SalesConfig
	Session     SessionConfig
	Redis       RedisConfig
	Terminal    TerminalConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SalesConfig points at the retail back office that persists sales and serves catalog lookups.
type SalesConfig struct {
	BaseURL  string
	APIToken string
	// Timeout bounds each outbound call. Zero leaves calls unbounded.
	Timeout time.Duration
	Breaker BreakerConfig
}

// BreakerConfig tunes the circuit breaker in front of the sales API.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
	TripFailures uint32
}

// SessionConfig selects where operator sessions are resolved from.
type SessionConfig struct {
	Backend   string
	KeyPrefix string
	CacheTTL  time.Duration
}

// RedisConfig holds connection settings for the redis session backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TerminalConfig controls POS terminal lifetimes.
type TerminalConfig struct {
	IdleTTL               time.Duration
	SweepInterval         time.Duration
	CallbackRedirectDelay time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the process
// environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles configuration from defaults, .env overrides, the process environment and the
// explicit env map, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "POS_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "POS_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "POS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "POS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "POS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Sales: SalesConfig{
			BaseURL:  strings.TrimRight(stringWithDefault(lookup, "POS_SALES_BASE_URL", ""), "/"),
			APIToken: stringWithDefault(lookup, "POS_SALES_API_TOKEN", ""),
			Timeout:  durationWithDefault(lookup, "POS_SALES_TIMEOUT", 0),
			Breaker: BreakerConfig{
				MaxRequests:  uint32(intWithDefault(lookup, "POS_SALES_BREAKER_MAX_REQUESTS", defaultBreakerMaxRequests)),
				Interval:     durationWithDefault(lookup, "POS_SALES_BREAKER_INTERVAL", defaultBreakerInterval),
				OpenTimeout:  durationWithDefault(lookup, "POS_SALES_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
				TripFailures: uint32(intWithDefault(lookup, "POS_SALES_BREAKER_TRIP_FAILURES", defaultBreakerTripFailures)),
			},
		},
		Session: SessionConfig{
			Backend:   strings.ToLower(stringWithDefault(lookup, "POS_SESSION_BACKEND", defaultSessionBackend)),
			KeyPrefix: stringWithDefault(lookup, "POS_SESSION_KEY_PREFIX", defaultSessionKeyPrefix),
			CacheTTL:  durationWithDefault(lookup, "POS_SESSION_CACHE_TTL", defaultSessionCacheTTL),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "POS_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "POS_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "POS_REDIS_DB", 0),
		},
		Terminal: TerminalConfig{
			IdleTTL:               durationWithDefault(lookup, "POS_TERMINAL_IDLE_TTL", defaultTerminalIdleTTL),
			SweepInterval:         durationWithDefault(lookup, "POS_TERMINAL_SWEEP_INTERVAL", defaultTerminalSweep),
			CallbackRedirectDelay: durationWithDefault(lookup, "POS_CALLBACK_REDIRECT_DELAY", defaultCallbackDelay),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "POS_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "POS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "POS_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "POS_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	secretFields := []*string{&cfg.Sales.APIToken, &cfg.Redis.Password}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := strings.TrimSpace(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Sales.BaseURL == "" {
		missing = append(missing, "Sales.BaseURL")
	} else if u, err := url.Parse(cfg.Sales.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Sales.BaseURL")
	}
	if cfg.Sales.Timeout < 0 {
		missing = append(missing, "Sales.Timeout")
	}
	if cfg.Sales.Breaker.TripFailures == 0 {
		missing = append(missing, "Sales.Breaker.TripFailures")
	}
	switch cfg.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Session.Backend")
	}
	if cfg.Terminal.CallbackRedirectDelay <= 0 {
		missing = append(missing, "Terminal.CallbackRedirectDelay")
	}
	if cfg.Terminal.SweepInterval <= 0 {
		missing = append(missing, "Terminal.SweepInterval")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "file://")
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values, err := ParseKeyValues(bufio.NewScanner(file))
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// ParseKeyValues reads dotenv-style KEY=VALUE lines. Blank lines, comments and `export ` prefixes are
// tolerated; surrounding quotes are stripped from values.
func ParseKeyValues(scanner *bufio.Scanner) (map[string]string, error) {
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
