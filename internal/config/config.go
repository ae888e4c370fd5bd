package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Events   EventsConfig   `mapstructure:"events"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig tunes the engine and assignment manager
type WorkflowConfig struct {
	AssignmentRetryAttempts int               `mapstructure:"assignment_retry_attempts"`
	CatalogRefreshInterval  time.Duration     `mapstructure:"catalog_refresh_interval"`
	StatusAliases           map[string]string `mapstructure:"status_aliases"`
}

// EventsConfig holds the outbound event bus settings
type EventsConfig struct {
	Topic      string `mapstructure:"topic"`
	BufferSize int64  `mapstructure:"buffer_size"`
}

// TracingConfig holds OpenTelemetry export settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadWithEnv(configPath, "")
}

// LoadWithEnv loads an optional dotenv file into the process environment
// and then reads configPath. Variables already set in the environment win
// over the dotenv file.
func LoadWithEnv(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("workflow.assignment_retry_attempts", 3)
	v.SetDefault("workflow.catalog_refresh_interval", 30*time.Second)

	v.SetDefault("events.topic", "service_requests.events")
	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "service-workflow")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.port", "WORKFLOW_PORT")
	_ = v.BindEnv("database.path", "WORKFLOW_DB_PATH")
	_ = v.BindEnv("logger.level", "WORKFLOW_LOG_LEVEL")
	_ = v.BindEnv("tracing.enabled", "WORKFLOW_TRACING_ENABLED")
	_ = v.BindEnv("tracing.service_name", "OTEL_SERVICE_NAME")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Workflow.AssignmentRetryAttempts < 1 {
		return fmt.Errorf("workflow.assignment_retry_attempts must be at least 1")
	}
	if c.Workflow.CatalogRefreshInterval <= 0 {
		return fmt.Errorf("workflow.catalog_refresh_interval must be positive")
	}
	if c.Events.Topic == "" {
		return fmt.Errorf("events.topic is required")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	for label, key := range c.Workflow.StatusAliases {
		if strings.TrimSpace(label) == "" || strings.TrimSpace(key) == "" {
			return fmt.Errorf("workflow.status_aliases entries need a label and a step key")
		}
	}
	return nil
}
