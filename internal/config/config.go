// internal/config/config.go
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"finthos-payments/pkg/db" // Import db package for its Config struct
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// RedisConfig selects the durable queue. An empty URL keeps the queue in process.
type RedisConfig struct {
	URL         string `envconfig:"URL"`
	QueuePrefix string `envconfig:"QUEUE_PREFIX" default:"payments:settlement"`
}

// KafkaConfig selects where outbox events go. No brokers means events are only logged.
type KafkaConfig struct {
	Brokers       []string      `envconfig:"BROKERS"`
	Topic         string        `envconfig:"TOPIC" default:"payments.events"`
	RelayInterval time.Duration `envconfig:"RELAY_INTERVAL" default:"1s"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100"`
	MaxAttempts   int           `envconfig:"MAX_ATTEMPTS" default:"10"`
}

// PaymentsConfig holds the business rules of the pipeline.
type PaymentsConfig struct {
	SupportedCurrencies  []string        `envconfig:"SUPPORTED_CURRENCIES" default:"USD,EUR,BTC,ETH,USDC,EURC"`
	CryptoCurrencies     []string        `envconfig:"CRYPTO_CURRENCIES" default:"BTC,ETH,USDC,EURC"`
	NetworkFeeCurrencies []string        `envconfig:"NETWORK_FEE_CURRENCIES" default:"BTC,ETH"`
	LargeTransaction     decimal.Decimal `envconfig:"LARGE_TRANSACTION_THRESHOLD" default:"10000"`
	BaseFee              decimal.Decimal `envconfig:"BASE_FEE" default:"0.25"`
	FeeRate              decimal.Decimal `envconfig:"FEE_RATE" default:"0.01"`
	NetworkFee           decimal.Decimal `envconfig:"NETWORK_FEE" default:"0.001"`
	PerTransactionLimit  decimal.Decimal `envconfig:"PER_TRANSACTION_LIMIT" default:"10000"`
	DailyLimit           decimal.Decimal `envconfig:"DAILY_LIMIT" default:"50000"`
	MonthlyLimit         decimal.Decimal `envconfig:"MONTHLY_LIMIT" default:"200000"`
	SettlementDelay      time.Duration   `envconfig:"SETTLEMENT_DELAY" default:"5s"`
	FeeAccount           string          `envconfig:"FEE_ACCOUNT" default:"platform:fees"`
	RateStaleAfter       time.Duration   `envconfig:"RATE_STALE_AFTER" default:"5m"`
}

// WorkerConfig tunes settlement workers and their retries.
type WorkerConfig struct {
	Concurrency       int           `envconfig:"CONCURRENCY" default:"4"`
	AttemptTimeout    time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"10s"`
	MaxAttempts       uint64        `envconfig:"MAX_ATTEMPTS" default:"3"`
	BackoffInitial    time.Duration `envconfig:"BACKOFF_INITIAL" default:"200ms"`
	BackoffMax        time.Duration `envconfig:"BACKOFF_MAX" default:"5s"`
	MaxDeliveries     int           `envconfig:"MAX_DELIVERIES" default:"5"`
	RetryDelay        time.Duration `envconfig:"RETRY_DELAY" default:"2s"`
	VisibilityTimeout time.Duration `envconfig:"VISIBILITY_TIMEOUT" default:"2m"`
	BreakerFailures   uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpenFor    time.Duration `envconfig:"BREAKER_OPEN_FOR" default:"30s"`
}

// ReconciliationConfig schedules periodic reconciliation.
type ReconciliationConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"true"`
	Interval time.Duration `envconfig:"INTERVAL" default:"1h"`
	Window   time.Duration `envconfig:"WINDOW" default:"24h"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"5m"`
	// MatchSlack widens the confirmation lookup beyond each period edge.
	MatchSlack time.Duration `envconfig:"MATCH_SLACK" default:"15m"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
}

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	Server         ServerConfig         `envconfig:"SERVER"`
	DB             db.Config            `envconfig:"DB"`
	Redis          RedisConfig          `envconfig:"REDIS"`
	Kafka          KafkaConfig          `envconfig:"KAFKA"`
	Payments       PaymentsConfig       `envconfig:"PAYMENTS"`
	Worker         WorkerConfig         `envconfig:"WORKER"`
	Reconciliation ReconciliationConfig `envconfig:"RECONCILIATION"`
	Log            LogConfig            `envconfig:"LOG"`
}

// LoadConfig loads configuration from an optional .env file and then the environment.
// It returns an AppConfig instance or an error if any variable is invalid.
func LoadConfig(logger *slog.Logger, envFilePath ...string) (*AppConfig, error) {
	var err error
	if len(envFilePath) > 0 && envFilePath[0] != "" {
		err = godotenv.Load(envFilePath[0])
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		logger.Debug("no .env file loaded, using system environment variables")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info("app config loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.DB.Driver,
		"db_host", cfg.DB.Host,
		"redis", maskURL(cfg.Redis.URL),
		"kafka_brokers", cfg.Kafka.Brokers,
		"currencies", cfg.Payments.SupportedCurrencies,
		"settlement_delay", cfg.Payments.SettlementDelay,
		"worker_concurrency", cfg.Worker.Concurrency,
	)
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.DB.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: DB_DRIVER must be postgres or memory, got %q", c.DB.Driver)
	}
	if len(c.Payments.SupportedCurrencies) == 0 {
		return fmt.Errorf("config: PAYMENTS_SUPPORTED_CURRENCIES is empty")
	}
	if c.Payments.FeeRate.IsNegative() || c.Payments.BaseFee.IsNegative() || c.Payments.NetworkFee.IsNegative() {
		return fmt.Errorf("config: fees must not be negative")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("config: WORKER_CONCURRENCY must be positive")
	}
	return nil
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}
