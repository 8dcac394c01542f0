package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Queue backends
const (
	QueueLocal = "local"
	QueueSQS   = "sqs"
	QueueKafka = "kafka"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. DatabaseURL, when set, wins over the DB_* fields.
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis config. Idempotency and API rate limiting are off when
	// RedisHost is empty.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Async queue
	QueueBackend   string // local, sqs or kafka
	LocalQueueSize int

	SQSRegion   string
	SQSQueueURL string
	SQSEndpoint string // LocalStack and friends

	KafkaBrokers string // comma separated
	KafkaTopic   string
	KafkaGroupID string

	// Record events, published only when SNSTopicARN is set
	SNSTopicARN string
	SNSRegion   string
	SNSEndpoint string

	AWSRegion string

	// Dispatch
	AdapterTimeout     time.Duration
	DispatchRatePerSec float64 // 0 disables the outbound limit
	WorkerConcurrency  int

	// Stale pending sweep
	SweepSchedule     string
	SweepPendingAfter time.Duration

	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "beacon",
		DBName:    "beacon",
		DBSSLMode: "disable",

		RedisPort: 6379,

		QueueBackend:   QueueLocal,
		LocalQueueSize: 1024,

		KafkaTopic:   "beacon.jobs",
		KafkaGroupID: "beacon-workers",

		AWSRegion: "us-east-1",

		AdapterTimeout:    10 * time.Second,
		WorkerConcurrency: 4,

		SweepSchedule:     "@every 5m",
		SweepPendingAfter: 15 * time.Minute,

		RateLimitPerMinute: 120,
	}

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = envInt("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	cfg.RedisHost = os.Getenv("REDIS_HOST")

	if cfg.RedisPort, err = envInt("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = envInt("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// Queue config
	if backend := os.Getenv("QUEUE_BACKEND"); backend != "" {
		cfg.QueueBackend = backend
	}

	if cfg.LocalQueueSize, err = envInt("LOCAL_QUEUE_SIZE", cfg.LocalQueueSize); err != nil {
		return nil, err
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	cfg.SQSQueueURL = os.Getenv("SQS_QUEUE_URL")
	cfg.SQSEndpoint = os.Getenv("SQS_ENDPOINT")

	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.KafkaTopic = topic
	}
	if group := os.Getenv("KAFKA_GROUP_ID"); group != "" {
		cfg.KafkaGroupID = group
	}

	// SNS config for record events
	cfg.SNSTopicARN = os.Getenv("SNS_TOPIC_ARN")
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}
	cfg.SNSEndpoint = os.Getenv("SNS_ENDPOINT")

	// Dispatch config
	if cfg.AdapterTimeout, err = envDuration("ADAPTER_TIMEOUT", cfg.AdapterTimeout); err != nil {
		return nil, err
	}

	if rate := os.Getenv("DISPATCH_RATE_PER_SEC"); rate != "" {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_RATE_PER_SEC: %w", err)
		}
		cfg.DispatchRatePerSec = r
	}

	if cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency); err != nil {
		return nil, err
	}

	if schedule := os.Getenv("SWEEP_SCHEDULE"); schedule != "" {
		cfg.SweepSchedule = schedule
	}

	if cfg.SweepPendingAfter, err = envDuration("SWEEP_PENDING_AFTER", cfg.SweepPendingAfter); err != nil {
		return nil, err
	}

	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected queue backend has what it needs.
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case QueueLocal:
		if c.LocalQueueSize < 1 {
			return fmt.Errorf("LOCAL_QUEUE_SIZE must be positive, got %d", c.LocalQueueSize)
		}
	case QueueSQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when QUEUE_BACKEND=sqs")
		}
	case QueueKafka:
		if c.KafkaBrokers == "" || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when QUEUE_BACKEND=kafka")
		}
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q: want local, sqs or kafka", c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.DispatchRatePerSec < 0 {
		return fmt.Errorf("DISPATCH_RATE_PER_SEC must not be negative")
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
