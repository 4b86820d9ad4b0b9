// Package config содержит логику чтения конфигурации сервиса выдачи цифровых товаров.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/digital-fulfillment/internal/webhook"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultFilesDir          = "files"
	defaultKafkaTopic        = "purchase.fulfilled"
	defaultDodoAPIBase       = "https://live.dodopayments.com"
	defaultTokenTTL          = 24 * time.Hour
	defaultSweepInterval     = time.Hour
	defaultPlaceholderMaxAge = 72 * time.Hour
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	FilesDir    string `env:"FILES_DIR"`

	RedisURL     string   `env:"REDIS_URL"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"`

	DodoAPIBase    string `env:"DODO_API_BASE"`
	DodoAPIKey     string `env:"DODO_API_KEY"`
	DodoBusinessID string `env:"DODO_BUSINESS_ID"`

	DodoWebhookSecret   string `env:"DODO_WEBHOOK_SECRET"`
	PaddleWebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`

	DodoAmountUnit   string `env:"DODO_AMOUNT_UNIT"`
	PaddleAmountUnit string `env:"PADDLE_AMOUNT_UNIT"`

	TokenTTL          time.Duration `env:"TOKEN_TTL"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"`
	PlaceholderMaxAge time.Duration `env:"PLACEHOLDER_MAX_AGE"`

	ThankYouURL       string `env:"THANK_YOU_URL"`
	CheckoutReturnURL string `env:"CHECKOUT_RETURN_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envFilesDir := cfg.FilesDir

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.FilesDir, "f", defaultFilesDir, "directory with product files")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envFilesDir != "" {
		cfg.FilesDir = envFilesDir
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	if c.FilesDir == "" {
		c.FilesDir = defaultFilesDir
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = defaultKafkaTopic
	}
	if c.DodoAPIBase == "" {
		c.DodoAPIBase = defaultDodoAPIBase
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.PlaceholderMaxAge <= 0 {
		c.PlaceholderMaxAge = defaultPlaceholderMaxAge
	}

	brokers := c.KafkaBrokers[:0]
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.KafkaBrokers = brokers
}

func (c *Config) validate() error {
	if _, err := c.AmountUnits(); err != nil {
		return err
	}
	return nil
}

// AmountUnits возвращает единицы сумм, заявленные для каждого провайдера.
func (c *Config) AmountUnits() (map[string]webhook.AmountUnit, error) {
	dodo, err := webhook.ParseAmountUnit(c.DodoAmountUnit)
	if err != nil {
		return nil, fmt.Errorf("DODO_AMOUNT_UNIT: %w", err)
	}
	paddle, err := webhook.ParseAmountUnit(c.PaddleAmountUnit)
	if err != nil {
		return nil, fmt.Errorf("PADDLE_AMOUNT_UNIT: %w", err)
	}
	return map[string]webhook.AmountUnit{
		webhook.ProviderDodo:   dodo,
		webhook.ProviderPaddle: paddle,
	}, nil
}

// WebhookSecrets возвращает секреты подписи уведомлений по провайдерам.
func (c *Config) WebhookSecrets() map[string]string {
	return map[string]string{
		webhook.ProviderDodo:   c.DodoWebhookSecret,
		webhook.ProviderPaddle: c.PaddleWebhookSecret,
	}
}
