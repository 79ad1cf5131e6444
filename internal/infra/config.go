package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	GeoIPDBPath string

	DefaultLocale  string
	AllowedOrigins []string

	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderTimeout time.Duration
	WebhookURL      string
	WebhookSecret   string

	DefaultPrice decimal.Decimal
	ModelPrices  map[string]decimal.Decimal

	PollInterval   time.Duration
	JobTimeout     time.Duration
	MaxPollErrors  int
	SettleTimeout  time.Duration
	PreemptWait    time.Duration
	IdempotencyTTL time.Duration
	OrphanAge      time.Duration

	Guard GuardSettings

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// GuardSettings mirrors the abuse guard thresholds.
type GuardSettings struct {
	BlockDuration     time.Duration
	BlockAfterStrikes int
	CooldownBase      time.Duration
	CooldownRepeat    time.Duration
	DedupTTL          time.Duration
	HeavyLimit        int
	HeavyWindow       time.Duration
	ActionLimit       int
	ActionWindow      time.Duration
	BurstLimit        int
	BurstWindow       time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		GeoIPDBPath:     os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:   getEnv("DEFAULT_LOCALE", "en"),
		AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.kie.ai/api/v1"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		ProviderTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		WebhookURL:      os.Getenv("DELIVERY_WEBHOOK_URL"),
		WebhookSecret:   os.Getenv("DELIVERY_WEBHOOK_SECRET"),

		PollInterval:   time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 3000)),
		JobTimeout:     time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 600)),
		MaxPollErrors:  getEnvInt("MAX_POLL_ERRORS", 5),
		SettleTimeout:  time.Second * time.Duration(getEnvInt("SETTLE_TIMEOUT_SECONDS", 30)),
		PreemptWait:    time.Second * time.Duration(getEnvInt("PREEMPT_WAIT_SECONDS", 30)),
		IdempotencyTTL: time.Second * time.Duration(getEnvInt("IDEMPOTENCY_TTL_SECONDS", 600)),
		OrphanAge:      time.Second * time.Duration(getEnvInt("ORPHAN_AGE_SECONDS", 0)),

		Guard: GuardSettings{
			BlockDuration:     time.Hour * time.Duration(getEnvInt("GUARD_BLOCK_HOURS", 24)),
			BlockAfterStrikes: getEnvInt("GUARD_STRIKES", 3),
			CooldownBase:      time.Second * time.Duration(getEnvInt("GUARD_COOLDOWN_SECONDS", 60)),
			CooldownRepeat:    time.Second * time.Duration(getEnvInt("GUARD_COOLDOWN_REPEAT_SECONDS", 300)),
			DedupTTL:          time.Second * time.Duration(getEnvInt("GUARD_DEDUP_TTL_SECONDS", 3600)),
			HeavyLimit:        getEnvInt("GUARD_HEAVY_LIMIT", 3),
			HeavyWindow:       time.Second * time.Duration(getEnvInt("GUARD_HEAVY_WINDOW_SECONDS", 600)),
			ActionLimit:       getEnvInt("GUARD_ACTION_LIMIT", 20),
			ActionWindow:      time.Second * time.Duration(getEnvInt("GUARD_ACTION_WINDOW_SECONDS", 300)),
			BurstLimit:        getEnvInt("GUARD_BURST_LIMIT", 3),
			BurstWindow:       time.Millisecond * time.Duration(getEnvInt("GUARD_BURST_WINDOW_MS", 2000)),
		},

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	var err error
	if cfg.DefaultPrice, err = getEnvDecimal("DEFAULT_PRICE", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.ModelPrices, err = parsePrices(os.Getenv("MODEL_PRICES")); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.JobTimeout < cfg.PollInterval {
		return nil, fmt.Errorf("JOB_TIMEOUT_SECONDS must be at least one poll interval")
	}

	return cfg, nil
}

// UsesDatabase reports whether a Postgres connection is configured.
func (c *Config) UsesDatabase() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// PriceFor returns the configured price of a model.
func (c *Config) PriceFor(modelID string) decimal.Decimal {
	if p, ok := c.ModelPrices[strings.TrimSpace(modelID)]; ok {
		return p
	}
	return c.DefaultPrice
}

// parsePrices reads "model=price" pairs separated by commas.
func parsePrices(raw string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		model, amount, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(model) == "" {
			return nil, fmt.Errorf("MODEL_PRICES: malformed entry %q", part)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("MODEL_PRICES: invalid price for %s", model)
		}
		prices[strings.TrimSpace(model)] = price
	}
	return prices, nil
}

func getEnvDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return fallback, fmt.Errorf("%s must be a non-negative decimal", key)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
