package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"library/internal/ledger"
)

// Config holds the application configuration
type Config struct {
	TelegramToken  string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUserIDs []int64 `env:"ALLOWED_USER_IDS" envSeparator:","`
	NotifyChatID   int64   `env:"NOTIFY_CHAT_ID"` // Chat that receives lending events, 0 disables

	// Bot mode configuration
	WebhookMode bool   `env:"WEBHOOK_MODE"` // If true, use webhook mode; if false, use polling mode
	WebhookURL  string `env:"WEBHOOK_URL"`  // URL for webhook (required if WebhookMode is true)
	Port        string `env:"PORT" envDefault:"8080"`

	// ClickHouse audit log configuration
	ClickHouseHost     string `env:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseUseTLS   bool   `env:"CLICKHOUSE_USE_TLS"`

	UseMockDB    bool   `env:"USE_MOCK_DB"`
	AuditEnabled bool   `env:"AUDIT_ENABLED" envDefault:"true"`
	FineLogPath  string `env:"FINE_LOG_PATH"`

	// SMTP is optional; email notifications are off without a host
	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	EmailTimeout time.Duration `env:"EMAIL_TIMEOUT" envDefault:"10s"`

	// Per-event timeout for the Telegram chat and ClickHouse audit observers
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	// How often the bot reconciles overdue loans in the background, 0 disables
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`

	AdminUser         string `env:"ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	PaidFinePolicy ledger.PaidFinePolicy `env:"PAID_FINE_POLICY" envDefault:"new_charge"`
	SeedSampleData bool                  `env:"SEED_SAMPLE_DATA" envDefault:"true"`
	LogDev         bool                  `env:"LOG_DEV"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings that depend on each other
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if len(c.AllowedUserIDs) == 0 {
		return fmt.Errorf("ALLOWED_USER_IDS is required (comma-separated list of Telegram user IDs)")
	}
	if c.WebhookMode && c.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
	}
	if c.AuditEnabled && !c.UseMockDB && c.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when USE_MOCK_DB is not set")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	if c.EmailTimeout <= 0 {
		return fmt.Errorf("EMAIL_TIMEOUT must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL cannot be negative")
	}
	if _, err := ledger.ParsePaidFinePolicy(string(c.PaidFinePolicy)); err != nil {
		return fmt.Errorf("invalid PAID_FINE_POLICY: %w", err)
	}
	return nil
}

// EmailEnabled reports whether SMTP delivery is configured
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}
