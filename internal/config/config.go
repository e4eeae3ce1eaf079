package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultCountryCode   = "55"
	DefaultZAPIBaseURL   = "https://api.z-api.io"
	DefaultDedupTTL      = "24h"
	DefaultMediaDelayMs  = 1200
	DefaultRetryAttempts = 2
	DefaultRetryBackoff  = "2s"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "zapiwoot"
	DefaultPGSSLMode     = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	ZAPI     ZAPIConfig     `toml:"zapi"`
	Chatwoot ChatwootConfig `toml:"chatwoot"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Postgres PostgresConfig `toml:"postgres"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ZAPIConfig holds Z-API gateway credentials. SecurityToken, when set, is
// required in the client-token header of inbound Z-API webhooks.
type ZAPIConfig struct {
	BaseURL       string `toml:"base_url" validate:"required,url"`
	InstanceID    string `toml:"instance_id" validate:"required"`
	Token         string `toml:"token" validate:"required"`
	SecurityToken string `toml:"security_token"`
}

type ChatwootConfig struct {
	BaseURL   string `toml:"base_url" validate:"required,url"`
	APIToken  string `toml:"api_token" validate:"required"`
	AccountID int    `toml:"account_id" validate:"required,gt=0"`
	InboxID   int    `toml:"inbox_id" validate:"required,gt=0"`
}

// BridgeConfig tunes the message-bridging engine itself.
type BridgeConfig struct {
	CountryCode   string `toml:"country_code"`
	DedupTTL      string `toml:"dedup_ttl"`
	MediaDelayMs  int    `toml:"media_delay_ms"`
	RetryAttempts int    `toml:"retry_attempts"`
	RetryBackoff  string `toml:"retry_backoff"`
}

// PostgresConfig configures the persistent identity-mapping and dedup
// stores. When Host is empty the bridge falls back to in-memory stores.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		ZAPI: ZAPIConfig{
			BaseURL: DefaultZAPIBaseURL,
		},
		Bridge: BridgeConfig{
			CountryCode:   DefaultCountryCode,
			DedupTTL:      DefaultDedupTTL,
			MediaDelayMs:  DefaultMediaDelayMs,
			RetryAttempts: DefaultRetryAttempts,
			RetryBackoff:  DefaultRetryBackoff,
		},
		Postgres: PostgresConfig{
			Port:    DefaultPGPort,
			User:    DefaultPGUser,
			SSLMode: DefaultPGSSLMode,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if cfg.Postgres.Enabled() && cfg.Postgres.Database == "" {
		cfg.Postgres.Database = DefaultPGDatabase
	}

	return cfg, nil
}

// Validate checks that the credentials required to talk to both remote
// platforms are present. Load does not validate so that commands which
// never touch the remotes can still run without a full config.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.ZAPI); err != nil {
		return fmt.Errorf("zapi config: %w", err)
	}
	if err := v.Struct(c.Chatwoot); err != nil {
		return fmt.Errorf("chatwoot config: %w", err)
	}
	return nil
}
