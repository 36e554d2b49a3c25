package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration of the service
type Config struct {
	Port         int
	LogLevel     string
	Env          string
	StoreDriver  string
	DB           DBConfig
	Kafka        KafkaConfig
	Auth         AuthConfig
	Wallet       WalletConfig
	RateLimit    RateLimitConfig
	Carrier      ClientConfig
	Payment      ClientConfig
	Notification NotificationConfig
	Storage      StorageConfig
	Workers      WorkerConfig
	Outbox       OutboxConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// KafkaConfig configures the shipment event stream
type KafkaConfig struct {
	Enabled             bool
	Brokers             []string
	ShipmentEventsTopic string
	ConsumerGroup       string
}

// AuthConfig holds the credentials the access guard verifies against
type AuthConfig struct {
	JWTSecret  string
	CronSecret string
}

// WalletConfig holds service-boundary wallet rules
type WalletConfig struct {
	MinRecharge decimal.Decimal
	MinBalance  decimal.Decimal
	TaxRate     decimal.Decimal
}

// RateLimitConfig configures per-caller mutation throttling
type RateLimitConfig struct {
	Burst         float64
	PerSecond     float64
	BookingBurst  float64
	BookingPerSec float64
	IdleTTL       time.Duration
}

// ClientConfig configures an outbound HTTP collaborator
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NotificationConfig selects where status notifications are queued
type NotificationConfig struct {
	QueueURL  string
	AWSRegion string
}

// StorageConfig configures the document storage collaborator
type StorageConfig struct {
	// Driver is "local" or "s3"
	Driver        string
	Bucket        string
	BaseDir       string
	PublicBaseURL string
}

// WorkerConfig configures the in-process schedules. A zero interval disables the schedule.
type WorkerConfig struct {
	SyncInterval       time.Duration
	SimulationInterval time.Duration
	SimulationStep     time.Duration
	BatchSize          int
}

// OutboxConfig configures delivery of committed shipment events
type OutboxConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	ProcessingLease time.Duration
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	var p parser

	cfg := &Config{
		Port:        p.int("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Env:         getEnv("APP_ENV", "development"),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     p.int("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "courier"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Enabled:             p.bool("KAFKA_ENABLED", "false"),
			Brokers:             splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			ShipmentEventsTopic: getEnv("KAFKA_SHIPMENT_EVENTS_TOPIC", "shipment-events"),
			ConsumerGroup:       getEnv("KAFKA_CONSUMER_GROUP", "courier-notifications"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			CronSecret: getEnv("CRON_SECRET", ""),
		},
		Wallet: WalletConfig{
			MinRecharge: p.decimal("WALLET_MIN_RECHARGE", "100"),
			MinBalance:  p.decimal("WALLET_MIN_BALANCE", "0"),
			TaxRate:     p.decimal("WALLET_TAX_RATE", "0.18"),
		},
		RateLimit: RateLimitConfig{
			Burst:         p.float("RATE_LIMIT_BURST", "20"),
			PerSecond:     p.float("RATE_LIMIT_PER_SECOND", "2"),
			BookingBurst:  p.float("RATE_LIMIT_BOOKING_BURST", "5"),
			BookingPerSec: p.float("RATE_LIMIT_BOOKING_PER_SECOND", "0.2"),
			IdleTTL:       p.duration("RATE_LIMIT_IDLE_TTL", "10m"),
		},
		Carrier: ClientConfig{
			BaseURL: getEnv("CARRIER_BASE_URL", ""),
			APIKey:  getEnv("CARRIER_API_KEY", ""),
			Timeout: p.duration("CARRIER_TIMEOUT", "5s"),
		},
		Payment: ClientConfig{
			BaseURL: getEnv("PAYMENT_BASE_URL", ""),
			APIKey:  getEnv("PAYMENT_API_KEY", ""),
			Timeout: p.duration("PAYMENT_TIMEOUT", "5s"),
		},
		Notification: NotificationConfig{
			QueueURL:  getEnv("NOTIFICATION_QUEUE_URL", ""),
			AWSRegion: getEnv("AWS_REGION", "ap-south-1"),
		},
		Storage: StorageConfig{
			Driver:        getEnv("STORAGE_DRIVER", "local"),
			Bucket:        getEnv("STORAGE_BUCKET", "courier-documents"),
			BaseDir:       getEnv("STORAGE_DIR", "./data/uploads"),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_URL", ""),
		},
		Workers: WorkerConfig{
			SyncInterval:       p.duration("SYNC_INTERVAL", "0"),
			SimulationInterval: p.duration("SIMULATION_INTERVAL", "0"),
			SimulationStep:     p.duration("SIMULATION_STEP", "2m"),
			BatchSize:          p.int("WORKER_BATCH_SIZE", "100"),
		},
		Outbox: OutboxConfig{
			PollingInterval: p.duration("OUTBOX_POLL_INTERVAL", "2s"),
			BatchSize:       p.int("OUTBOX_BATCH_SIZE", "50"),
			MaxRetries:      p.int("OUTBOX_MAX_RETRIES", "5"),
			ProcessingLease: p.duration("OUTBOX_PROCESSING_LEASE", "1m"),
		},
	}

	if p.err != nil {
		return nil, p.err
	}

	// S3 falls back to its own object URLs; local files need a server to expose them
	if cfg.Storage.Driver == "local" && cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%d/files", cfg.Port)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}

	if c.Wallet.TaxRate.IsNegative() {
		return fmt.Errorf("invalid WALLET_TAX_RATE: must not be negative")
	}

	if c.Storage.Driver != "local" && c.Storage.Driver != "s3" {
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}

	if c.Outbox.PollingInterval <= 0 {
		return fmt.Errorf("invalid OUTBOX_POLL_INTERVAL: must be positive")
	}

	if c.Workers.BatchSize <= 0 {
		return fmt.Errorf("invalid WORKER_BATCH_SIZE: must be positive")
	}

	return nil
}

// IsProduction reports whether the service runs against real carriers
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// parser keeps the first conversion error so Load can report it once
type parser struct {
	err error
}

func (p *parser) int(key, def string) int {
	v, err := strconv.Atoi(getEnv(key, def))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) float(key, def string) float64 {
	v, err := strconv.ParseFloat(getEnv(key, def), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) bool(key, def string) bool {
	v, err := strconv.ParseBool(getEnv(key, def))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) duration(key, def string) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func (p *parser) decimal(key, def string) decimal.Decimal {
	v, err := decimal.NewFromString(getEnv(key, def))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
