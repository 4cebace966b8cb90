package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// TransferLimits bounds the transfer anti-abuse windows. Sender limits cap
// how many transfers one user can originate per rolling window; receiver
// limits cap incoming count and volume.
type TransferLimits struct {
	Window            time.Duration
	SenderMaxCount    int
	ReceiverMaxCount  int
	ReceiverMaxVolume decimal.Decimal
}

type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseDSN string

	Transfer TransferLimits

	// Providers that signal settlement through a created/active lifecycle
	// event instead of a separate payment_success event.
	SettleOnActivate []string

	// Retry budget for serialization conflicts before the request is failed
	// as transient.
	TxRetryBudget int
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c Config) SettlesOnActivate(provider string) bool {
	provider = strings.ToLower(strings.TrimSpace(provider))
	for _, candidate := range c.SettleOnActivate {
		if strings.ToLower(strings.TrimSpace(candidate)) == provider {
			return true
		}
	}
	return false
}

// Load binds configuration from the environment. A .env file is honored in
// development when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: envString("BILLFOLD_ENV", "development"),
		HTTPAddr:    envString("BILLFOLD_HTTP_ADDR", ":8080"),
		DatabaseDSN: envString("BILLFOLD_DATABASE_DSN", "file:billfold.db?cache=shared"),
		Transfer: TransferLimits{
			Window:            envDuration("BILLFOLD_TRANSFER_WINDOW", 24*time.Hour),
			SenderMaxCount:    envInt("BILLFOLD_TRANSFER_SENDER_MAX", 5),
			ReceiverMaxCount:  envInt("BILLFOLD_TRANSFER_RECEIVER_MAX", 20),
			ReceiverMaxVolume: envDecimal("BILLFOLD_TRANSFER_RECEIVER_VOLUME", decimal.NewFromInt(10000)),
		},
		SettleOnActivate: envList("BILLFOLD_SETTLE_ON_ACTIVATE"),
		TxRetryBudget:    envInt("BILLFOLD_TX_RETRY_BUDGET", 2),
	}
	return cfg, nil
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
