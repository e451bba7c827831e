package core

import (
	"fmt"
	"strings"
	"time"
)

const DefaultWithdrawDelaySeconds int64 = 3 * 60 * 60

type CustodyConfig struct {
	Authority string `koanf:"authority" mapstructure:"authority"`
	Namespace string `koanf:"namespace" mapstructure:"namespace"`
}

type BootstrapConfig struct {
	Admin                string `koanf:"admin" mapstructure:"admin"`
	WithdrawDelaySeconds int64  `koanf:"withdraw_delay_seconds" mapstructure:"withdraw_delay_seconds"`
}

type MandateConfig struct {
	SettlementWindowSeconds int64  `koanf:"settlement_window_seconds" mapstructure:"settlement_window_seconds"`
	MaxRetries              int    `koanf:"max_retries" mapstructure:"max_retries"`
	PollIntervalMillis      int    `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	BatchSize               int    `koanf:"batch_size" mapstructure:"batch_size"`
	AgentSecretKey          string `koanf:"agent_secret_key" mapstructure:"agent_secret_key"`
}

func (c MandateConfig) SettlementWindow() time.Duration {
	return time.Duration(c.SettlementWindowSeconds) * time.Second
}

func (c MandateConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

type RateLimitConfig struct {
	AgentRPS   float64 `koanf:"agent_rps" mapstructure:"agent_rps"`
	AgentBurst int     `koanf:"agent_burst" mapstructure:"agent_burst"`
}

func (c RateLimitConfig) Enabled() bool {
	return c.AgentRPS > 0 && c.AgentBurst > 0
}

type EventsConfig struct {
	BatchSize   int `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts int `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type HTTPConfig struct {
	Address string `koanf:"address" mapstructure:"address"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Custody     CustodyConfig   `koanf:"custody" mapstructure:"custody"`
	Bootstrap   BootstrapConfig `koanf:"bootstrap" mapstructure:"bootstrap"`
	Mandates    MandateConfig   `koanf:"mandates" mapstructure:"mandates"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit"`
	Events      EventsConfig    `koanf:"events" mapstructure:"events"`
	Database    DatabaseConfig  `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig      `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "custody",
		Custody: CustodyConfig{
			Authority: "custody-authority",
			Namespace: "go-custody",
		},
		Bootstrap: BootstrapConfig{
			WithdrawDelaySeconds: DefaultWithdrawDelaySeconds,
		},
		Mandates: MandateConfig{
			SettlementWindowSeconds: 3 * 60 * 60,
			MaxRetries:              3,
			PollIntervalMillis:      1500,
			BatchSize:               10,
		},
		Events: EventsConfig{
			BatchSize:   50,
			MaxAttempts: 5,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:custody.db?cache=shared&_foreign_keys=on",
		},
		HTTP: HTTPConfig{
			Address: ":8080",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Custody.Authority) == "" {
		return fmt.Errorf("core: custody.authority is required")
	}
	if c.Bootstrap.WithdrawDelaySeconds < 0 {
		return fmt.Errorf("core: bootstrap.withdraw_delay_seconds must not be negative")
	}
	if c.Mandates.SettlementWindowSeconds < 0 {
		return fmt.Errorf("core: mandates.settlement_window_seconds must not be negative")
	}
	if c.Mandates.MaxRetries < 0 {
		return fmt.Errorf("core: mandates.max_retries must not be negative")
	}
	if c.RateLimit.AgentRPS < 0 || c.RateLimit.AgentBurst < 0 {
		return fmt.Errorf("core: rate_limit values must not be negative")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is invalid", c.Database.Driver)
	}
	return nil
}
