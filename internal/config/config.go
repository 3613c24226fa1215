package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration values.
type Config struct {
	Env         string
	HTTPPort    string
	DatabaseDSN string
	MaxOpenConn int

	Secret   string
	TokenTTL time.Duration

	LogLevel  string
	LogFormat string

	// Login attempts allowed per client IP per minute.
	LoginRatePerMinute int

	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	SeedMedicationsCSV string
	AdminEmail         string
	AdminPassword      string
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from the environment (and an optional .env file)
// with reasonable defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_PORT", "3001")
	v.SetDefault("DATABASE_DSN", "medigo.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("SECRET", "dev_secret")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLE_RATE", 0.1)
	v.SetDefault("SEED_MEDICATIONS_CSV", "assets/medications.csv")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")

	cfg := Config{
		Env:                v.GetString("APP_ENV"),
		HTTPPort:           strings.TrimSpace(v.GetString("HTTP_PORT")),
		DatabaseDSN:        v.GetString("DATABASE_DSN"),
		MaxOpenConn:        v.GetInt("DB_MAX_OPEN_CONNS"),
		Secret:             v.GetString("SECRET"),
		TokenTTL:           v.GetDuration("TOKEN_TTL"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		LoginRatePerMinute: v.GetInt("LOGIN_RATE_PER_MINUTE"),
		TracingEnabled:     v.GetBool("TRACING_ENABLED"),
		OTLPEndpoint:       v.GetString("OTLP_ENDPOINT"),
		TracingSampleRate:  v.GetFloat64("TRACING_SAMPLE_RATE"),
		SeedMedicationsCSV: v.GetString("SEED_MEDICATIONS_CSV"),
		AdminEmail:         strings.ToLower(strings.TrimSpace(v.GetString("ADMIN_EMAIL"))),
		AdminPassword:      v.GetString("ADMIN_PASSWORD"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []string

	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		errs = append(errs, fmt.Sprintf("HTTP_PORT must be numeric, got %q", c.HTTPPort))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, "DATABASE_DSN is required")
	}
	if c.Secret == "" {
		errs = append(errs, "SECRET is required")
	} else if c.IsProduction() && len(c.Secret) < 32 {
		errs = append(errs, "SECRET must be at least 32 characters in production")
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, "TOKEN_TTL must be positive")
	}
	if c.LoginRatePerMinute <= 0 {
		errs = append(errs, "LOGIN_RATE_PER_MINUTE must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
