package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string `mapstructure:"PORT"`
	Env             string `mapstructure:"ENV"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	JWTSecret       string `mapstructure:"JWT_SECRET"`
	AuthIssuer      string `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string `mapstructure:"AUTH_AUDIENCE"`
	DeliveryTimeout int    `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`
	OutboundRetries int    `mapstructure:"OUTBOUND_RETRY_MAX"`
	SyncWorkers     int    `mapstructure:"SYNC_WORKERS"`
	MLLPListen      string `mapstructure:"MLLP_LISTEN"`
	MLLPAPIKey      string `mapstructure:"MLLP_API_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DELIVERY_TIMEOUT_SECONDS", 15)
	v.SetDefault("OUTBOUND_RETRY_MAX", 0)
	v.SetDefault("SYNC_WORKERS", 8)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DELIVERY_TIMEOUT_SECONDS")
	v.BindEnv("OUTBOUND_RETRY_MAX")
	v.BindEnv("SYNC_WORKERS")
	v.BindEnv("MLLP_LISTEN")
	v.BindEnv("MLLP_API_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DeliveryDeadline returns the per-call deadline applied to every outbound
// HTTP delivery so that one unresponsive integration cannot stall a fan-out
// or sync job.
func (c *Config) DeliveryDeadline() time.Duration {
	if c.DeliveryTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.DeliveryTimeout) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret must be set so that the sync and admin surfaces enforce real
// authentication, and an MLLP listener must be paired with an API key so the
// credential gate applies to TCP traffic too.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.MLLPListen != "" && strings.TrimSpace(c.MLLPAPIKey) == "" {
		return fmt.Errorf("MLLP_API_KEY is required when MLLP_LISTEN is set")
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	if c.OutboundRetries < 0 {
		return fmt.Errorf("OUTBOUND_RETRY_MAX must not be negative, got %d", c.OutboundRetries)
	}
	return nil
}
