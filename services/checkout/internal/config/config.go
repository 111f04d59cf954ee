package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the checkout configuration file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	LogsDir        string   `yaml:"logsDir"`
	AppURL         string   `yaml:"appURL"`
	Locale         string   `yaml:"locale"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	StripeSecretKey     string `yaml:"stripeSecretKey"`
	StripeWebhookSecret string `yaml:"stripeWebhookSecret"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	PremiumCacheTTL       string `yaml:"premiumCacheTTL"`
	PremiumPrivateKeyPath string `yaml:"premiumPrivateKeyPath"`
	PremiumKeyID          string `yaml:"premiumKeyId"`
	PremiumIssuer         string `yaml:"premiumIssuer"`
	PremiumTokenTTL       string `yaml:"premiumTokenTTL"`

	EventStream    string `yaml:"eventStream"`
	EventStreamMax int64  `yaml:"eventStreamMaxLen"`
	EventDedupeTTL string `yaml:"eventDedupeTTL"`

	CheckoutRateLimitPerMinute int `yaml:"checkoutRateLimitPerMinute"`
	PortalRateLimitPerMinute   int `yaml:"portalRateLimitPerMinute"`
	PremiumRateLimitPerMinute  int `yaml:"premiumRateLimitPerMinute"`
	WebhookRateLimitPerMinute  int `yaml:"webhookRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	// Override with environment variables
	if v := os.Getenv("CHECKOUT_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHECKOUT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHECKOUT_LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("CHECKOUT_APP_URL"); v != "" {
		cfg.AppURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHECKOUT_LOCALE"); v != "" {
		cfg.Locale = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHECKOUT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("CHECKOUT_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.StripeSecretKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.StripeWebhookSecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CHECKOUT_PREMIUM_CACHE_TTL"); v != "" {
		cfg.PremiumCacheTTL = v
	}
	if v := os.Getenv("CHECKOUT_PREMIUM_PRIVATE_KEY_PATH"); v != "" {
		cfg.PremiumPrivateKeyPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHECKOUT_PREMIUM_ISSUER"); v != "" {
		cfg.PremiumIssuer = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHECKOUT_EVENT_STREAM"); v != "" {
		cfg.EventStream = strings.TrimSpace(v)
	}
	if v := os.Getenv("CHECKOUT_CHECKOUT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.CheckoutRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CHECKOUT_WEBHOOK_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.WebhookRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "3001"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PremiumCacheTTL == "" {
		cfg.PremiumCacheTTL = "5m"
	}
	if cfg.EventStream == "" {
		cfg.EventStream = "mentalia:billing:events"
	}
	if cfg.PremiumIssuer == "" {
		cfg.PremiumIssuer = "mentalia-checkout"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		return errors.New("config: stripeSecretKey is required (set in config.yaml or STRIPE_SECRET_KEY)")
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		return errors.New("config: stripeWebhookSecret is required (set in config.yaml or STRIPE_WEBHOOK_SECRET)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if strings.TrimSpace(cfg.AppURL) == "" {
		return errors.New("config: appURL is required (set in config.yaml or CHECKOUT_APP_URL)")
	}
	for name, raw := range map[string]string{
		"premiumCacheTTL": cfg.PremiumCacheTTL,
		"premiumTokenTTL": cfg.PremiumTokenTTL,
		"eventDedupeTTL":  cfg.EventDedupeTTL,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	for name, n := range map[string]int{
		"checkoutRateLimitPerMinute": cfg.CheckoutRateLimitPerMinute,
		"portalRateLimitPerMinute":   cfg.PortalRateLimitPerMinute,
		"premiumRateLimitPerMinute":  cfg.PremiumRateLimitPerMinute,
		"webhookRateLimitPerMinute":  cfg.WebhookRateLimitPerMinute,
	} {
		if n < 0 {
			return fmt.Errorf("config: %s must be >= 0", name)
		}
	}
	return nil
}

// ParseDuration parses an optional duration string; empty yields zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
