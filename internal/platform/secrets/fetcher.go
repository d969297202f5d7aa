package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/config"
)

const (
	defaultFallbackPath = ".secrets.local"
	envPrefix           = "POS_SECRET_"
)

// ErrSecretNotFound is returned when no source holds a value for the reference.
var ErrSecretNotFound = errors.New("secrets: secret not found")

// Fetcher resolves secret:// and file:// references from local sources with caching.
//
// secret://name is looked up in the process environment as POS_SECRET_NAME first, then in the
// KEY=VALUE fallback file. file://path reads the file and trims surrounding whitespace.
type Fetcher struct {
	logger       *zap.Logger
	lookupEnv    func(string) (string, bool)
	fallbackPath string

	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
}

type fetcherConfig struct {
	logger       *zap.Logger
	fallbackPath string
	lookupEnv    func(string) (string, bool)
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithEnvLookup replaces os.LookupEnv, primarily for tests.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(cfg *fetcherConfig) {
		cfg.lookupEnv = lookup
	}
}

// NewFetcher builds a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		lookupEnv:    os.LookupEnv,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.lookupEnv == nil {
		cfg.lookupEnv = func(string) (string, bool) { return "", false }
	}
	return &Fetcher{
		logger:       cfg.logger,
		lookupEnv:    cfg.lookupEnv,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
	}
}

var _ config.SecretResolver = (*Fetcher)(nil)

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref = strings.TrimSpace(ref)
	if value, ok := f.lookupCache(ref); ok {
		return value, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}

	var value string
	switch u.Scheme {
	case "secret":
		name := strings.Trim(u.Host+u.Path, "/")
		if name == "" {
			return "", fmt.Errorf("secrets: missing secret name in %q", ref)
		}
		value, err = f.resolveNamed(name)
	case "file":
		value, err = readSecretFile(u.Host + u.Path)
	default:
		return "", fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[ref] = value
	f.mu.Unlock()
	f.logger.Debug("secrets: resolved", zap.String("scheme", u.Scheme))
	return value, nil
}

// Invalidate drops a cached value so the next Resolve rereads its source.
func (f *Fetcher) Invalidate(ref string) {
	f.mu.Lock()
	delete(f.cache, strings.TrimSpace(ref))
	f.mu.Unlock()
}

func (f *Fetcher) lookupCache(ref string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[ref]
	return value, ok
}

func (f *Fetcher) resolveNamed(name string) (string, error) {
	if value, ok := f.lookupEnv(envKey(name)); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}

	f.loadFallback()
	if f.fallbackErr != nil {
		return "", f.fallbackErr
	}
	if value, ok := f.fallbackVals["secret://"+name]; ok {
		return value, nil
	}
	if value, ok := f.fallbackVals[name]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: secret://%s", ErrSecretNotFound, name)
}

func (f *Fetcher) loadFallback() {
	f.fallbackOnce.Do(func() {
		f.fallbackVals = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		file, err := os.Open(filepath.Clean(f.fallbackPath))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: open fallback file: %w", err)
			}
			return
		}
		defer file.Close()

		values, err := config.ParseKeyValues(bufio.NewScanner(file))
		if err != nil {
			f.fallbackErr = fmt.Errorf("secrets: read fallback file: %w", err)
			return
		}
		f.fallbackVals = values
	})
}

func readSecretFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("secrets: missing file path")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: file://%s", ErrSecretNotFound, path)
		}
		return "", fmt.Errorf("secrets: read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// envKey maps "sales/api-token" to POS_SECRET_SALES_API_TOKEN.
func envKey(name string) string {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return envPrefix + strings.ToUpper(replacer.Replace(name))
}
