package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/patientdesk/pkg/pagination"
)

const DefaultBaseURL = "https://r3.smarthealthit.org"

type Config struct {
	FHIRBaseURL string        `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeout time.Duration `mapstructure:"FHIR_TIMEOUT"`
	Env         string        `mapstructure:"ENV"`
	LogLevel    string        `mapstructure:"LOG_LEVEL"`
	Port        string        `mapstructure:"PORT"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	SearchCount int           `mapstructure:"SEARCH_COUNT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("FHIR_BASE_URL", DefaultBaseURL)
	v.SetDefault("FHIR_TIMEOUT", "30s")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("SEARCH_COUNT", pagination.DefaultLimit)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("FHIR_BASE_URL")
	v.BindEnv("FHIR_TIMEOUT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("PORT")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SEARCH_COUNT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SearchCount = pagination.Clamp(cfg.SearchCount)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// RequestLogEnabled reports whether remote interactions are recorded in
// Postgres.
func (c *Config) RequestLogEnabled() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the remote API can be reached with this
// configuration: an absolute http(s) base URL and a positive timeout.
func (c *Config) Validate() error {
	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil {
		return fmt.Errorf("FHIR_BASE_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("FHIR_BASE_URL must be an http or https URL, got %q", c.FHIRBaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URL has no host: %q", c.FHIRBaseURL)
	}
	if c.FHIRTimeout <= 0 {
		return fmt.Errorf("FHIR_TIMEOUT must be positive, got %s", c.FHIRTimeout)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
