package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Port        string `env:"PORT" envDefault:"8080"`

	PostgresURL    string `env:"POSTGRES_URL,required,notEmpty"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	Mongo Mongo `envPrefix:"MONGO_"`
	Redis Redis `envPrefix:"REDIS_"`
	Kafka Kafka `envPrefix:"KAFKA_"`

	// NotifyTimeout bounds each background event publish.
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`

	Razorpay  Razorpay  `envPrefix:"RAZORPAY_"`
	Telemetry Telemetry `envPrefix:"OTEL_"`
}

type Mongo struct {
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"storefront"`
}

type Redis struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	CartTTL  time.Duration `env:"CART_TTL" envDefault:"15m"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
}

type Razorpay struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://api.razorpay.com"`
	KeyID   string        `env:"KEY_ID"`
	Secret  string        `env:"SECRET"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type Telemetry struct {
	Endpoint       string `env:"EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"0.1.0"`
}

// Notifier configures cmd/notifier.
type Notifier struct {
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	Kafka           Kafka         `envPrefix:"KAFKA_"`
	GroupID         string        `env:"NOTIFIER_GROUP_ID" envDefault:"order-notifier"`
	EmailServiceURL string        `env:"EMAIL_SERVICE_URL,required,notEmpty"`
	EmailDomain     string        `env:"EMAIL_DOMAIN" envDefault:"example.com"`
	HTTPTimeout     time.Duration `env:"NOTIFIER_HTTP_TIMEOUT" envDefault:"10s"`
	Telemetry       Telemetry     `envPrefix:"OTEL_"`
}

// Load reads an optional .env file and parses the environment into cfg.
func Load[T any]() (*T, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := new(T)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
