// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Prefix is prepended to every variable name. Unprefixed names are accepted
// as a fallback, so MONGODB_URI works as well as FIELDSYNC_MONGODB_URI.
const Prefix = "FIELDSYNC"

const devSecret = "change-me-in-production"

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds every tunable of the API process.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Storage
	MongoURI string `envconfig:"MONGODB_URI"`
	DBName   string `envconfig:"DB_NAME" default:"field_data"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"168h"`

	// Listeners
	HTTPPort       int      `envconfig:"HTTP_PORT" default:"8001"`
	GRPCPort       int      `envconfig:"GRPC_PORT" default:"50051"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Rate limiting for register/login
	RateLimitRPM   int `envconfig:"RATE_LIMIT_RPM" default:"10"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"3"`

	// AI assistant
	GeminiAPIKey  string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`

	// Cross-process event relay; empty keeps fan-out in-process
	RedisURL     string `envconfig:"REDIS_URL"`
	RedisChannel string `envconfig:"REDIS_CHANNEL" default:"fieldsync:events"`

	// Background jobs; empty schedule disables the sweep
	SurveyExpiryCron string `envconfig:"SURVEY_EXPIRY_CRON"`

	// Domain tunables
	ActiveWindow        time.Duration `envconfig:"ACTIVE_WINDOW" default:"10m"`
	EditWindow          time.Duration `envconfig:"EDIT_WINDOW" default:"15m"`
	BulkDefaultPassword string        `envconfig:"BULK_DEFAULT_PASSWORD" default:"password123"`
	WSSendQueue         int           `envconfig:"WS_SEND_QUEUE" default:"32"`
}

// New loads an optional .env file, processes the environment and validates
// the result.
func New() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_name", cfg.DBName).
		Int("http_port", cfg.HTTPPort).
		Int("grpc_port", cfg.GRPCPort).
		Bool("ai_enabled", cfg.GeminiAPIKey != "").
		Bool("redis_relay", cfg.RedisURL != "").
		Str("survey_expiry_cron", cfg.SurveyExpiryCron).
		Msg("configuration loaded")

	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI must be set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.Environment == EnvProduction && c.JWTSecret == devSecret {
		errs = append(errs, errors.New("JWT_SECRET must be changed in production"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.WSSendQueue <= 0 {
		errs = append(errs, errors.New("WS_SEND_QUEUE must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddr is the listen address of the REST/WebSocket server.
func (c *Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// GRPCAddr is the listen address of the gRPC health service.
func (c *Config) GRPCAddr() string { return fmt.Sprintf(":%d", c.GRPCPort) }
