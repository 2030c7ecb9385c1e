// Package config defines the application configuration, composed from the
// section configs each component declares for itself.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/skedy/conversation-core/internal/connectors/telegram"
	"github.com/skedy/conversation-core/internal/escalation"
	"github.com/skedy/conversation-core/internal/router"
	"github.com/skedy/conversation-core/internal/scheduler"
	"github.com/skedy/conversation-core/internal/server"
	"github.com/skedy/conversation-core/internal/transcription"
	"github.com/skedy/conversation-core/pkg/logger"
)

// AppConfig holds all application configuration.
type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"conversation-core"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	Logging       LoggingConfig             `yaml:"logging"`
	Database      DatabaseConfig            `yaml:"database"`
	LLM           LLMConfig                 `yaml:"llm"`
	Scheduler     scheduler.Config          `yaml:"scheduler"`
	Session       router.Config             `yaml:"session"`
	Escalation    escalation.DetectorConfig `yaml:"escalation"`
	Transcription transcription.Config      `yaml:"transcription"`
	Telegram      telegram.Config           `yaml:"telegram"`
	Server        server.Config             `yaml:"server"`
	Monitoring    MonitoringConfig          `yaml:"monitoring"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" yaml:"level" default:"info"`
	Format string `env:"LOG_FORMAT" yaml:"format" default:"json"`
}

// DatabaseConfig holds Postgres configuration. When URL is empty the service
// runs on the in-memory stores, which is intended for local development only.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" yaml:"url"`
	MaxConnections  int           `env:"DATABASE_MAX_CONNECTIONS" yaml:"max_connections" default:"25"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" yaml:"conn_max_lifetime" default:"5m"`
	ConnMaxIdleTime time.Duration `env:"DATABASE_CONN_MAX_IDLE_TIME" yaml:"conn_max_idle_time" default:"5m"`
	MigrateOnStart  bool          `env:"DATABASE_MIGRATE_ON_START" yaml:"migrate_on_start" default:"true"`
}

// LLMConfig selects the model provider and its credentials.
type LLMConfig struct {
	Provider  string          `env:"LLM_PROVIDER" yaml:"provider" default:"openai"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey string `env:"OPENAI_API_KEY" yaml:"api_key"`
	Model  string `env:"OPENAI_MODEL" yaml:"model" default:"gpt-4o-mini"`
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey string `env:"ANTHROPIC_API_KEY" yaml:"api_key"`
	Model  string `env:"CLAUDE_MODEL" yaml:"model" default:"claude-3-5-sonnet-20241022"`
}

// MonitoringConfig holds monitoring configuration.
type MonitoringConfig struct {
	MetricsEnabled bool `env:"METRICS_ENABLED" yaml:"metrics_enabled" default:"true"`
	MetricsPort    int  `env:"METRICS_PORT" yaml:"metrics_port" default:"9090"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *AppConfig) Validate() error {
	var result error

	validLevels := []string{"debug", "info", "warn", "error"}
	level := strings.ToLower(c.Logging.Level)
	valid := false
	for _, validLevel := range validLevels {
		if level == validLevel {
			valid = true
			break
		}
	}
	if !valid {
		result = multierror.Append(result, fmt.Errorf("log_level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("log_format must be either 'json' or 'text', got %q", c.Logging.Format))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Monitoring.MetricsEnabled && (c.Monitoring.MetricsPort < 1 || c.Monitoring.MetricsPort > 65535) {
		result = multierror.Append(result, fmt.Errorf("metrics_port must be between 1 and 65535, got %d", c.Monitoring.MetricsPort))
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("OPENAI_API_KEY is required when llm provider is openai"))
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("ANTHROPIC_API_KEY is required when llm provider is anthropic"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("llm provider must be either 'openai' or 'anthropic', got %q", c.LLM.Provider))
	}

	if c.Session.SessionTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("session_timeout must be greater than 0"))
	}

	if err := c.Scheduler.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.Database.URL != "" && c.Database.MaxConnections <= 0 {
		result = multierror.Append(result, fmt.Errorf("database_max_connections must be greater than 0 when database is configured"))
	}

	return result
}

// GetLogLevel returns the parsed logger level.
func (c *AppConfig) GetLogLevel() logger.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return logger.DebugLevel
	case "warn", "warning":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// IsProduction returns true if running in the production environment.
func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// LogConfig logs the effective configuration without sensitive values.
func (c *AppConfig) LogConfig(log logger.Logger) {
	log.Info("application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("environment", c.Environment),
		logger.StringField("log_level", c.Logging.Level),
		logger.StringField("log_format", c.Logging.Format),
		logger.StringField("llm_provider", c.LLM.Provider),
		logger.IntField("server_port", c.Server.Port),
		logger.BoolField("metrics_enabled", c.Monitoring.MetricsEnabled),
		logger.BoolField("database_configured", c.Database.URL != ""),
		logger.BoolField("escalation_detector_enabled", c.Escalation.Enabled),
		logger.DurationField("session_timeout", c.Session.SessionTimeout),
	)
}
