package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrokerConfig captures all tunable parameters for the bot process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type BrokerConfig struct {
	BotToken             string
	PaymentProviderToken string

	GoogleMapsAPIKey  string
	DirectionsBackend string // "google" or "osrm"
	OSRMEndpoint      string

	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	PositionsKey  string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN        string
	RegistryPath string

	Currency          string
	MinInvoiceMinor   int64
	RequestExpiry     time.Duration
	LivePeriodSeconds int

	LogLevel      string
	RunMigrations bool
}

func defaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		DirectionsBackend: "google",
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		PositionsKey:      "bikers_geo",
		KafkaTopic:        "biker-positions",
		RegistryPath:      "bikers.json",
		Currency:          "EUR",
		MinInvoiceMinor:   100,
		RequestExpiry:     15 * time.Minute,
		LivePeriodSeconds: 86400,
		LogLevel:          "info",
	}
}

func LoadBrokerConfig() (BrokerConfig, error) {
	cfg := defaultBrokerConfig()
	var errs []error

	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	cfg.PaymentProviderToken = strings.TrimSpace(os.Getenv("PAYMENT_PROVIDER_TOKEN"))
	cfg.GoogleMapsAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))

	setStringFromEnv(&cfg.DirectionsBackend, "DIRECTIONS_BACKEND")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.PositionsKey, "REDIS_POSITIONS_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	setStringFromEnv(&cfg.RegistryPath, "REGISTRY_PATH")

	setStringFromEnv(&cfg.Currency, "CURRENCY")
	setInt64FromEnv(&cfg.MinInvoiceMinor, "MIN_INVOICE_MINOR", &errs)
	setDurationFromEnv(&cfg.RequestExpiry, "REQUEST_EXPIRY", &errs)
	setIntFromEnv(&cfg.LivePeriodSeconds, "LIVE_PERIOD_SECONDS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.BotToken == "" {
		errs = append(errs, fmt.Errorf("BOT_TOKEN is required"))
	}
	if cfg.DirectionsBackend != "google" && cfg.DirectionsBackend != "osrm" {
		errs = append(errs, fmt.Errorf("DIRECTIONS_BACKEND must be google or osrm"))
	}
	if cfg.MinInvoiceMinor < 0 {
		errs = append(errs, fmt.Errorf("MIN_INVOICE_MINOR must be >= 0"))
	}
	if cfg.RequestExpiry <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_EXPIRY must be > 0"))
	}
	if cfg.LivePeriodSeconds <= 0 {
		errs = append(errs, fmt.Errorf("LIVE_PERIOD_SECONDS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
