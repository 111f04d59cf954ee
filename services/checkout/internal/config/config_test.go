package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
appURL: http://localhost:8080
stripeSecretKey: sk_test_file
stripeWebhookSecret: whsec_file
redisAddr: localhost:6379
allowedOrigins: [http://localhost:8080]
`)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CHECKOUT_ALLOWED_ORIGINS", "https://mentalia.app, https://www.mentalia.app ,")
	t.Setenv("CHECKOUT_WEBHOOK_RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("CHECKOUT_LOCALE", " en ")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StripeSecretKey != "sk_test_env" || cfg.StripeWebhookSecret != "whsec_file" {
		t.Fatalf("unexpected stripe keys: %+v", cfg)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.WebhookRateLimitPerMinute != 120 || cfg.Locale != "en" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if want := []string{"https://mentalia.app", "https://www.mentalia.app"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("origins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.Port != "3001" || cfg.EventStream == "" || cfg.PremiumIssuer != "mentalia-checkout" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if d, _ := ParseDuration("premiumCacheTTL", cfg.PremiumCacheTTL); d != 5*time.Minute {
		t.Fatalf("premium cache ttl = %v", d)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing secret", "appURL: x\nstripeWebhookSecret: w\nredisAddr: r\n", "stripeSecretKey is required"},
		{"missing webhook secret", "appURL: x\nstripeSecretKey: s\nredisAddr: r\n", "stripeWebhookSecret is required"},
		{"missing redis", "appURL: x\nstripeSecretKey: s\nstripeWebhookSecret: w\n", "redisAddr is required"},
		{"missing app url", "stripeSecretKey: s\nstripeWebhookSecret: w\nredisAddr: r\n", "appURL is required"},
		{"bad ttl", "appURL: x\nstripeSecretKey: s\nstripeWebhookSecret: w\nredisAddr: r\npremiumCacheTTL: soon\n", "premiumCacheTTL"},
		{"negative limit", "appURL: x\nstripeSecretKey: s\nstripeWebhookSecret: w\nredisAddr: r\nportalRateLimitPerMinute: -1\n", "portalRateLimitPerMinute"},
	}
	for _, key := range []string{"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "REDIS_ADDR", "CHECKOUT_APP_URL"} {
		t.Setenv(key, "")
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
