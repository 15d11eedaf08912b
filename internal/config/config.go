// Package config содержит логику чтения конфигурации партнёрской консоли.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/partner-console/internal/model"
)

// Config содержит параметры конфигурации партнёрской консоли.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	PartnerAPIAddress string `env:"PARTNER_API_ADDRESS"`
	PartnerUserID     string `env:"PARTNER_USER_ID"`

	// PartnerUserRole - роль пользователя в ресторанах, для которых сервер роль не передаёт.
	PartnerUserRole string `env:"PARTNER_USER_ROLE" envDefault:"kitchen_staff"`

	PollInterval           time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	BackgroundPollInterval time.Duration `env:"BACKGROUND_POLL_INTERVAL" envDefault:"60s"`
	OrderTimeout           time.Duration `env:"ORDER_TIMEOUT" envDefault:"300s"`
	NotifyGraceDelay       time.Duration `env:"NOTIFY_GRACE_DELAY" envDefault:"2s"`
	NotifySettleDelay      time.Duration `env:"NOTIFY_SETTLE_DELAY" envDefault:"310s"`
	ResolveRetryDelay      time.Duration `env:"RESOLVE_RETRY_DELAY" envDefault:"3s"`
	ResolveMaxAttempts     int           `env:"RESOLVE_MAX_ATTEMPTS" envDefault:"2"`

	AuthSecret string `env:"AUTH_SECRET"`
	Timezone   string `env:"TIMEZONE" envDefault:"UTC"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPartnerAddress := cfg.PartnerAPIAddress
	envPartnerUserID := cfg.PartnerUserID

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PartnerAPIAddress, "r", "", "partner order API address")
	flag.StringVar(&cfg.PartnerUserID, "u", "", "partner user id")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPartnerAddress != "" {
		cfg.PartnerAPIAddress = envPartnerAddress
	}
	if envPartnerUserID != "" {
		cfg.PartnerUserID = envPartnerUserID
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if _, err := cfg.Role(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location возвращает временную зону ресторана.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Role возвращает роль пользователя по умолчанию.
func (c *Config) Role() (model.Role, error) {
	r, err := model.ParseRole(c.PartnerUserRole)
	if err != nil {
		return 0, fmt.Errorf("parse PARTNER_USER_ROLE %q: %w", c.PartnerUserRole, err)
	}
	return r, nil
}
