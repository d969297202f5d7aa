package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"POS_SALES_BASE_URL": "http://backoffice.local:8080/api/",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Sales.BaseURL != "http://backoffice.local:8080/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Sales.BaseURL)
	}
	if cfg.Sales.Timeout != 0 {
		t.Errorf("expected unbounded sales timeout, got %s", cfg.Sales.Timeout)
	}
	if cfg.Sales.Breaker.TripFailures != defaultBreakerTripFailures {
		t.Errorf("unexpected breaker trip failures: %d", cfg.Sales.Breaker.TripFailures)
	}
	if cfg.Session.Backend != SessionBackendMemory {
		t.Errorf("expected memory session backend, got %s", cfg.Session.Backend)
	}
	if cfg.Terminal.CallbackRedirectDelay != 5*time.Second {
		t.Errorf("expected 5s callback delay, got %s", cfg.Terminal.CallbackRedirectDelay)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"POS_ENVIRONMENT":                 "PROD",
		"POS_SERVER_PORT":                 "9090",
		"POS_SERVER_READ_TIMEOUT":         "20s",
		"POS_SALES_BASE_URL":              "https://backoffice.example.com",
		"POS_SALES_API_TOKEN":             "secret://sales/token",
		"POS_SALES_TIMEOUT":               "12s",
		"POS_SALES_BREAKER_TRIP_FAILURES": "3",
		"POS_SESSION_BACKEND":             "Redis",
		"POS_REDIS_ADDR":                  "redis:6379",
		"POS_REDIS_PASSWORD":              "secret://redis/password",
		"POS_REDIS_DB":                    "2",
		"POS_CALLBACK_REDIRECT_DELAY":     "3s",
		"POS_IDEMPOTENCY_TTL":             "1h",
	}

	var refs []string
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Sales.APIToken != "resolved:secret://sales/token" {
		t.Errorf("expected resolved token, got %s", cfg.Sales.APIToken)
	}
	if cfg.Redis.Password != "resolved:secret://redis/password" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Session.Backend != SessionBackendRedis {
		t.Errorf("expected redis backend, got %s", cfg.Session.Backend)
	}
	if cfg.Sales.Timeout != 12*time.Second || cfg.Sales.Breaker.TripFailures != 3 {
		t.Errorf("unexpected sales config %+v", cfg.Sales)
	}
	if cfg.Terminal.CallbackRedirectDelay != 3*time.Second {
		t.Errorf("unexpected callback delay %s", cfg.Terminal.CallbackRedirectDelay)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 secret lookups, got %v", refs)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"POS_SESSION_BACKEND": "redis",
		"POS_IDEMPOTENCY_TTL": "-1s",
		"POS_SERVER_PORT":     "",
		"POS_SALES_BASE_URL":  "not a url",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := map[string]bool{}
	for _, field := range vErr.Fields() {
		fields[field] = true
	}
	for _, want := range []string{"Sales.BaseURL", "Redis.Addr", "Idempotency.TTL"} {
		if !fields[want] {
			t.Errorf("expected %s in %v", want, vErr.Fields())
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"POS_SALES_BASE_URL":  "https://backoffice.example.com",
		"POS_SALES_API_TOKEN": "secret://sales/token",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver-not-configured cause, got %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# local overrides\nexport POS_SALES_BASE_URL=\"http://dotenv.local\"\nPOS_SERVER_PORT=7000\nPOS_REDIS_DB=4\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("POS_SERVER_PORT", "7100")

	cfg, err := Load(context.Background(), WithEnvFile(envFile), WithEnvMap(map[string]string{"POS_REDIS_DB": "5"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Sales.BaseURL != "http://dotenv.local" {
		t.Errorf("expected dotenv base url, got %s", cfg.Sales.BaseURL)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected system env to win over dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Redis.DB != 5 {
		t.Errorf("expected env map to win, got %d", cfg.Redis.DB)
	}
}
