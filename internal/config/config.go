package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	JWTExpireMin int    `mapstructure:"JWT_EXPIRE_MIN"`

	OpenAIAPIKey       string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModelChat    string `mapstructure:"OPENAI_MODEL_CHAT"`
	OpenAIModelSummary string `mapstructure:"OPENAI_MODEL_SUMMARY"`
	LLMTimeoutSeconds  int    `mapstructure:"LLM_TIMEOUT_SECONDS"`
	UseLLMTriage       bool   `mapstructure:"USE_LLM_TRIAGE"`

	ASRLanguage string `mapstructure:"ASR_LANGUAGE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	AbuseStrikeLimit    int `mapstructure:"ABUSE_STRIKE_LIMIT"`
	AbuseLockoutMinutes int `mapstructure:"ABUSE_LOCKOUT_MINUTES"`

	DefaultClinicID string `mapstructure:"DEFAULT_CLINIC_ID"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_EXPIRE_MIN", 4320)
	v.SetDefault("OPENAI_MODEL_CHAT", "gpt-4o-mini")
	v.SetDefault("OPENAI_MODEL_SUMMARY", "")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 30)
	v.SetDefault("USE_LLM_TRIAGE", true)
	v.SetDefault("ASR_LANGUAGE", "en-US")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("ABUSE_STRIKE_LIMIT", 200)
	v.SetDefault("ABUSE_LOCKOUT_MINUTES", 10)
	v.SetDefault("DEFAULT_CLINIC_ID", "00000000-0000-0000-0000-000000001001")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "CORS_ORIGINS",
		"JWT_SECRET", "JWT_EXPIRE_MIN",
		"OPENAI_API_KEY", "OPENAI_MODEL_CHAT", "OPENAI_MODEL_SUMMARY",
		"LLM_TIMEOUT_SECONDS", "USE_LLM_TRIAGE", "ASR_LANGUAGE",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"ABUSE_STRIKE_LIMIT", "ABUSE_LOCKOUT_MINUTES",
		"DEFAULT_CLINIC_ID",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.OpenAIModelSummary == "" {
		cfg.OpenAIModelSummary = cfg.OpenAIModelChat
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

// LLMTimeout returns the bounded timeout applied to generation and
// summarization collaborator calls.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// AbuseLockout returns the fixed lockout duration applied to a blocked
// identity.
func (c *Config) AbuseLockout() time.Duration {
	return time.Duration(c.AbuseLockoutMinutes) * time.Minute
}

// TokenTTL returns the lifetime of issued JWTs.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMin) * time.Minute
}

// ClinicID parses DEFAULT_CLINIC_ID. Every signup is attached to this clinic;
// multi-clinic onboarding is out of scope.
func (c *Config) ClinicID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.DefaultClinicID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("DEFAULT_CLINIC_ID is not a valid UUID: %w", err)
	}
	return id, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a real JWT secret is mandatory so token authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q; refusing to start without authentication configuration", c.Env)
	}
	if c.JWTExpireMin <= 0 {
		return fmt.Errorf("JWT_EXPIRE_MIN must be positive, got %d", c.JWTExpireMin)
	}
	if c.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", c.LLMTimeoutSeconds)
	}
	if c.UseLLMTriage && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when USE_LLM_TRIAGE is enabled")
	}
	if _, err := c.ClinicID(); err != nil {
		return err
	}
	return nil
}
