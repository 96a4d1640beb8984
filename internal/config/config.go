package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	PushGatewayURL      string `env:"PUSH_GATEWAY_URL,required=true"`
	SmsGatewayURL       string `env:"SMS_GATEWAY_URL,required=true"`
	PortalBaseURL       string `env:"PORTAL_BASE_URL,required=true"`
	FallbackWindowSecs  int    `env:"FALLBACK_WINDOW_SECONDS,default=30"`
	MaxDeliveryAttempts int    `env:"MAX_DELIVERY_ATTEMPTS,default=2"`
	BatchSize           int    `env:"BATCH_SIZE,default=50"`
	SweepIntervalSecs   int    `env:"SWEEP_INTERVAL_SECONDS,default=5"`
	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency   int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
