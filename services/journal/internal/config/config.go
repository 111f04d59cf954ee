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

// ConfigPath is the default location of the journal configuration file.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogsDir     string `yaml:"logsDir"`
	DatabaseURL string `yaml:"databaseURL"`
	KeyFile     string `yaml:"keyFile"`
	Timezone    string `yaml:"timezone"`

	InitInitialInterval string  `yaml:"initInitialInterval"`
	InitMultiplier      float64 `yaml:"initMultiplier"`
	InitMaxInterval     string  `yaml:"initMaxInterval"`
	InitMaxAttempts     int     `yaml:"initMaxAttempts"`
	DecryptWorkers      int     `yaml:"decryptWorkers"`

	ReportMode        string         `yaml:"reportMode"`
	AttemptTimeout    string         `yaml:"attemptTimeout"`
	PrimaryProvider   ProviderConfig `yaml:"primaryProvider"`
	SecondaryProvider ProviderConfig `yaml:"secondaryProvider"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	CheckoutServiceURL   string `yaml:"checkoutServiceURL"`
	PremiumPublicKeyPath string `yaml:"premiumPublicKeyPath"`
	PremiumKeyID         string `yaml:"premiumKeyId"`
	PremiumIssuer        string `yaml:"premiumIssuer"`
	PremiumLeeway        string `yaml:"premiumLeeway"`
}

// ProviderConfig selects one external report provider.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"apiKey"`
	BaseURL  string `yaml:"baseURL"`
	Model    string `yaml:"model"`
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
	if v := os.Getenv("JOURNAL_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("JOURNAL_KEY_FILE"); v != "" {
		cfg.KeyFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("JOURNAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("JOURNAL_LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("JOURNAL_TIMEZONE"); v != "" {
		cfg.Timezone = strings.TrimSpace(v)
	}
	if v := os.Getenv("JOURNAL_REPORT_MODE"); v != "" {
		cfg.ReportMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("JOURNAL_ATTEMPT_TIMEOUT"); v != "" {
		cfg.AttemptTimeout = v
	}
	if v := os.Getenv("JOURNAL_INIT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.InitMaxAttempts = n
		}
	}
	if v := os.Getenv("CLAUDE_API_KEY"); v != "" {
		cfg.PrimaryProvider.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.SecondaryProvider.APIKey = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("JOURNAL_CHECKOUT_SERVICE_URL"); v != "" {
		cfg.CheckoutServiceURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("JOURNAL_PREMIUM_PUBLIC_KEY_PATH"); v != "" {
		cfg.PremiumPublicKeyPath = strings.TrimSpace(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PrimaryProvider.Provider == "" {
		cfg.PrimaryProvider.Provider = "claude"
	}
	if cfg.SecondaryProvider.Provider == "" {
		cfg.SecondaryProvider.Provider = "gemini"
	}
	if cfg.ReportMode == "" {
		cfg.ReportMode = "fast"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or JOURNAL_DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.KeyFile) == "" {
		return errors.New("config: keyFile is required (set in config.yaml or JOURNAL_KEY_FILE)")
	}
	switch cfg.ReportMode {
	case "fast", "local":
	default:
		return fmt.Errorf("config: reportMode must be fast or local, got %q", cfg.ReportMode)
	}
	if cfg.InitMaxAttempts < 0 || cfg.DecryptWorkers < 0 {
		return errors.New("config: initMaxAttempts and decryptWorkers must be >= 0")
	}
	if cfg.InitMultiplier != 0 && cfg.InitMultiplier < 1 {
		return errors.New("config: initMultiplier must be >= 1")
	}
	for name, raw := range map[string]string{
		"initInitialInterval": cfg.InitInitialInterval,
		"initMaxInterval":     cfg.InitMaxInterval,
		"attemptTimeout":      cfg.AttemptTimeout,
		"premiumLeeway":       cfg.PremiumLeeway,
	} {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("config: invalid timezone: %w", err)
		}
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if cfg.PremiumPublicKeyPath != "" && cfg.PremiumIssuer == "" {
		return errors.New("config: premiumIssuer is required when premiumPublicKeyPath is set")
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

// Location resolves the configured timezone, defaulting to the local zone.
func (c FileConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
