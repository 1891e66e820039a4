package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const orgPrefix = "Organization/"

type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"ENV"`
	DBMaxConns int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns int32  `mapstructure:"DB_MIN_CONNS"`

	// DatabaseURL holds the ledger and staging tables; EMRDatabaseURL is the
	// source system and is only ever read from.
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	EMRDatabaseURL string `mapstructure:"EMR_DATABASE_URL"`

	MappingsDir   string   `mapstructure:"MAPPINGS_DIR"`
	ResourceTypes []string `mapstructure:"RESOURCE_TYPES"`

	ManagingOrgReference string `mapstructure:"MANAGING_ORG_REFERENCE"`
	ManagingOrgDisplay   string `mapstructure:"MANAGING_ORG_DISPLAY"`
	DefaultCountryCode   string `mapstructure:"DEFAULT_COUNTRY_CODE"`

	IdleBackoff  time.Duration `mapstructure:"IDLE_BACKOFF"`
	ErrorBackoff time.Duration `mapstructure:"ERROR_BACKOFF"`

	ValidationEnabled bool `mapstructure:"VALIDATION_ENABLED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MAPPINGS_DIR", "mappings")
	v.SetDefault("RESOURCE_TYPES", "Patient")
	v.SetDefault("DEFAULT_COUNTRY_CODE", "234")
	v.SetDefault("IDLE_BACKOFF", "180s")
	v.SetDefault("ERROR_BACKOFF", "60s")
	v.SetDefault("VALIDATION_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("EMR_DATABASE_URL")
	v.BindEnv("MAPPINGS_DIR")
	v.BindEnv("RESOURCE_TYPES")
	v.BindEnv("MANAGING_ORG_REFERENCE")
	v.BindEnv("MANAGING_ORG_DISPLAY")
	v.BindEnv("DEFAULT_COUNTRY_CODE")
	v.BindEnv("IDLE_BACKOFF")
	v.BindEnv("ERROR_BACKOFF")
	v.BindEnv("VALIDATION_ENABLED")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ResourceTypes == nil {
		if types := v.GetString("RESOURCE_TYPES"); types != "" {
			cfg.ResourceTypes = strings.Split(types, ",")
		}
	}
	for i, t := range cfg.ResourceTypes {
		cfg.ResourceTypes[i] = strings.TrimSpace(t)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. The managing
// organization reference doubles as the facility identity stamped on every
// staged record, so extraction refuses to start without it.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.EMRDatabaseURL == "" {
		return fmt.Errorf("EMR_DATABASE_URL is required")
	}
	if len(c.ResourceTypes) == 0 {
		return fmt.Errorf("RESOURCE_TYPES must name at least one resource type")
	}
	if strings.TrimSpace(c.ManagingOrgReference) == "" {
		return fmt.Errorf("MANAGING_ORG_REFERENCE is required; cannot determine facility id")
	}
	if !strings.HasPrefix(c.ManagingOrgReference, orgPrefix) {
		return fmt.Errorf("MANAGING_ORG_REFERENCE must start with %q, got %q", orgPrefix, c.ManagingOrgReference)
	}
	return nil
}

// FacilityID is the managing organization reference without its
// "Organization/" prefix.
func (c *Config) FacilityID() string {
	return strings.TrimPrefix(c.ManagingOrgReference, orgPrefix)
}
