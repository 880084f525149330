package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port          string
	WebhookSecret string

	AMQPURL          string
	QueueName        string
	QueueMaxAttempts int

	DatabaseURL string

	GorgiasDomain      string
	GorgiasEmail       string
	GorgiasAPIKey      string
	GorgiasSenderEmail string

	WorkerConcurrency int

	// Optional S3 archive of posted draft notes.
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables. A .env file is loaded
// first if present; real environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		QueueName:          getEnv("QUEUE_NAME", "ticket-events"),
		QueueMaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GorgiasDomain:      os.Getenv("GORGIAS_DOMAIN"),
		GorgiasEmail:       os.Getenv("GORGIAS_EMAIL"),
		GorgiasAPIKey:      os.Getenv("GORGIAS_API_KEY"),
		GorgiasSenderEmail: os.Getenv("GORGIAS_SENDER_EMAIL"),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3PathStyle:        getEnvBool("S3_PATH_STYLE", false),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LogFormat:          os.Getenv("LOG_FORMAT"),
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if len(cfg.WebhookSecret) < 8 {
		return nil, fmt.Errorf("WEBHOOK_SECRET must be at least 8 characters")
	}
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("AMQP_URL is required")
	}
	if cfg.GorgiasDomain == "" {
		return nil, fmt.Errorf("GORGIAS_DOMAIN is required")
	}
	if cfg.GorgiasEmail == "" {
		return nil, fmt.Errorf("GORGIAS_EMAIL is required")
	}
	if cfg.GorgiasAPIKey == "" {
		return nil, fmt.Errorf("GORGIAS_API_KEY is required")
	}
	if cfg.GorgiasSenderEmail == "" {
		return nil, fmt.Errorf("GORGIAS_SENDER_EMAIL is required")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.QueueMaxAttempts < 1 {
		return nil, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, using default")
		return fallback
	}
	return b
}
