package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

// Config описывает настройки запуска приложения; значения читаются из
// переменных окружения.
type Config struct {
	HTTPAddr    string `env:"ESTORE_HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"ESTORE_METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Пустой DSN переключает приложение на in-memory хранилище
	// (локальная разработка и демо).
	DatabaseDSN string `env:"DATABASE_URI"`

	// Пустой адрес Redis переключает кэш и блокировки на in-memory
	// реализации.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Пустой список брокеров отключает публикацию событий.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"order-events"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dontexposethis"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Периоды фоновых задач. Lease каждой блокировки короче интервала,
	// чтобы блокировка истекала до следующего запуска. MinHold —
	// минимальное удержание блокировки: реплика с отстающим тикером не
	// должна повторить задачу в том же интервале.
	StatusAdvanceInterval time.Duration `env:"STATUS_ADVANCE_INTERVAL" envDefault:"5m"`
	StatusAdvanceLease    time.Duration `env:"STATUS_ADVANCE_LEASE" envDefault:"4m"`
	StatusAdvanceMinHold  time.Duration `env:"STATUS_ADVANCE_MIN_HOLD" envDefault:"1m"`
	CleanupInterval       time.Duration `env:"CANCELLED_CLEANUP_INTERVAL" envDefault:"24h"`
	CleanupLease          time.Duration `env:"CANCELLED_CLEANUP_LEASE" envDefault:"55m"`
	CleanupMinHold        time.Duration `env:"CANCELLED_CLEANUP_MIN_HOLD" envDefault:"5m"`
	CleanupRetentionDays  int           `env:"CANCELLED_RETENTION_DAYS" envDefault:"30"`
}

// NewConfig читает конфигурацию из окружения.
func NewConfig() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	return cfg, nil
}

// DefaultConfig возвращает конфигурацию для тестов и локального запуска
// без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		KafkaTopic:            "order-events",
		JWTSecret:             "dontexposethis",
		JWTTTL:                24 * time.Hour,
		StatusAdvanceInterval: 5 * time.Minute,
		StatusAdvanceLease:    4 * time.Minute,
		StatusAdvanceMinHold:  time.Minute,
		CleanupInterval:       24 * time.Hour,
		CleanupLease:          55 * time.Minute,
		CleanupMinHold:        5 * time.Minute,
		CleanupRetentionDays:  30,
	}
}
