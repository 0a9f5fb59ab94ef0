// Package config loads server settings from the environment and an optional YAML file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP Server
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Database
	DBPath string `yaml:"db_path"`

	// Auth
	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`

	LogLevel string `yaml:"log_level"`

	// Item cards
	SwipeThreshold float64 `yaml:"swipe_threshold"`

	// Receipt scanning
	GeminiAPIKey       string `yaml:"gemini_api_key"`
	GeminiModel        string `yaml:"gemini_model"`
	ParseRatePerMinute int    `yaml:"parse_rate_per_minute"`

	// Receipt images
	GCSBucket          string `yaml:"gcs_bucket"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`

	// AMQP
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	// Receipt snapshot cache
	ReceiptCacheSize int           `yaml:"receipt_cache_size"`
	ReceiptCacheTTL  time.Duration `yaml:"receipt_cache_ttl"`
}

func defaults() *Config {
	return &Config{
		Port:               "8080",
		AllowedOrigins:     []string{"*"},
		DBPath:             "./data/receipts.db",
		JWTIssuer:          "receipt-splitter",
		JWTTTL:             24 * time.Hour,
		LogLevel:           "info",
		SwipeThreshold:     100,
		GeminiModel:        "gemini-2.5-flash",
		ParseRatePerMinute: 10,
		AMQPExchange:       "receipt-splitter",
		ReceiptCacheSize:   128,
		ReceiptCacheTTL:    5 * time.Minute,
	}
}

// Load builds the configuration in three layers: built-in defaults, then the
// YAML file named by CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigins = getEnvList("CORS_ORIGINS", cfg.AllowedOrigins)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTTTL = getEnvDuration("JWT_TTL", cfg.JWTTTL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SwipeThreshold = getEnvFloat("SWIPE_THRESHOLD", cfg.SwipeThreshold)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.ParseRatePerMinute = getEnvInt("PARSE_RATE_PER_MINUTE", cfg.ParseRatePerMinute)
	cfg.GCSBucket = getEnv("GCS_BUCKET", cfg.GCSBucket)
	cfg.GCSCredentialsFile = getEnv("GCS_CREDENTIALS_FILE", cfg.GCSCredentialsFile)
	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.ReceiptCacheSize = getEnvInt("RECEIPT_CACHE_SIZE", cfg.ReceiptCacheSize)
	cfg.ReceiptCacheTTL = getEnvDuration("RECEIPT_CACHE_TTL", cfg.ReceiptCacheTTL)

	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	}

	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT secret must be at least 32 characters")
	}
	if c.JWTIssuer == "" {
		errors = append(errors, "JWT issuer cannot be empty")
	}
	if c.JWTTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid JWT TTL %v: must be at least 1 minute", c.JWTTTL))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if c.SwipeThreshold <= 0 {
		errors = append(errors, fmt.Sprintf("invalid swipe threshold %v: must be positive", c.SwipeThreshold))
	}

	if c.ParseRatePerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid parse rate %d: must be at least 1 per minute", c.ParseRatePerMinute))
	}

	if c.GCSCredentialsFile != "" {
		if _, err := os.Stat(c.GCSCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("GCS credentials file does not exist: %s", c.GCSCredentialsFile))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ReceiptCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid receipt cache size %d: must be at least 1", c.ReceiptCacheSize))
	}
	if c.ReceiptCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid receipt cache TTL %v: must be positive", c.ReceiptCacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ParsingEnabled reports whether a Gemini key is configured.
func (c *Config) ParsingEnabled() bool { return c.GeminiAPIKey != "" }

// ImagesEnabled reports whether receipt images are uploaded to GCS.
func (c *Config) ImagesEnabled() bool { return c.GCSBucket != "" }

// EventsEnabled reports whether events are published to AMQP.
func (c *Config) EventsEnabled() bool { return c.AMQPURL != "" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
