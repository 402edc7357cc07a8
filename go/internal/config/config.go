// Package config loads service settings from an optional YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	TransportLog       = "log"
	TransportHTTP      = "http"
	TransportJetStream = "jetstream"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Worker WorkerConfig `yaml:"worker"`
	Email  EmailConfig  `yaml:"email"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type WorkerConfig struct {
	// Embedded runs the delivery worker inside the API process.
	Embedded       bool          `yaml:"embedded"`
	Port           int           `yaml:"port"` // health and progress endpoints of the worker binary
	Concurrency    int           `yaml:"concurrency"`
	EmptyBackoff   time.Duration `yaml:"empty_backoff"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxRetryWait   time.Duration `yaml:"max_retry_wait"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	Listen         bool          `yaml:"listen"` // LISTEN for enqueue notifications
}

type EmailConfig struct {
	Transport string        `yaml:"transport"`
	Sender    string        `yaml:"sender"`
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
	NatsURL   string        `yaml:"nats_url"`
	Stream    string        `yaml:"stream"`
	Subject   string        `yaml:"subject"`
}

// TelemetryConfig controls the OTLP metric export of the delivery instruments.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"` // OTLP gRPC collector, host:port
	ServiceName    string        `yaml:"service_name"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Worker: WorkerConfig{
			Port:           8081,
			Concurrency:    1,
			EmptyBackoff:   10 * time.Second,
			ErrorBackoff:   time.Second,
			RetryBackoff:   30 * time.Second,
			MaxRetryWait:   time.Hour,
			StallThreshold: 10 * time.Minute,
			Listen:         true,
		},
		Email: EmailConfig{
			Transport: TransportLog,
			Sender:    "newsletter@example.com",
			Timeout:   10 * time.Second,
			NatsURL:   "nats://localhost:4222",
			Stream:    "NEWSLETTER_EMAILS",
			Subject:   "newsletter.emails.outbound",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			ServiceName:    "newsletter",
			ExportInterval: time.Minute,
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Email.Transport = getEnv("EMAIL_TRANSPORT", c.Email.Transport)
	c.Email.BaseURL = getEnv("EMAIL_BASE_URL", c.Email.BaseURL)
	c.Email.AuthToken = getEnv("EMAIL_AUTH_TOKEN", c.Email.AuthToken)
	c.Email.Sender = getEnv("EMAIL_SENDER", c.Email.Sender)
	c.Email.NatsURL = getEnv("NATS_URL", c.Email.NatsURL)

	c.Worker.Port = getEnvAsInt("WORKER_PORT", c.Worker.Port)
	c.Worker.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
	c.Worker.MaxAttempts = getEnvAsInt("WORKER_MAX_ATTEMPTS", c.Worker.MaxAttempts)
	c.Worker.Embedded = getEnvAsBool("WORKER_EMBEDDED", c.Worker.Embedded)

	c.Telemetry.Enabled = getEnvAsBool("TELEMETRY_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	if c.Worker.MaxAttempts < 0 {
		errs = append(errs, errors.New("worker.max_attempts cannot be negative"))
	}
	if c.Worker.EmptyBackoff <= 0 || c.Worker.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("worker backoffs must be positive"))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.ExportInterval <= 0 {
			errs = append(errs, errors.New("telemetry.export_interval must be positive"))
		}
	}

	switch c.Email.Transport {
	case TransportLog:
	case TransportHTTP:
		if c.Email.BaseURL == "" {
			errs = append(errs, errors.New("email.base_url is required for the http transport"))
		}
		if c.Email.Sender == "" {
			errs = append(errs, errors.New("email.sender is required for the http transport"))
		}
	case TransportJetStream:
		if c.Email.NatsURL == "" {
			errs = append(errs, errors.New("email.nats_url is required for the jetstream transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email.transport %q", c.Email.Transport))
	}

	return errors.Join(errs...)
}

// SetupLogging configures the global zerolog logger.
func (c LogConfig) SetupLogging() {
	if c.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
