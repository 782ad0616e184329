package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "DEVICE_RULES_"

type Config struct {
	API       APIConfig       `yaml:"api"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LogConfig       `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Builder   BuilderConfig   `yaml:"builder"`
}

// APIConfig points at the admin REST API that owns rule storage.
type APIConfig struct {
	BaseURL string `yaml:"baseUrl" env:"API_BASE_URL"`
	Token   string `yaml:"token" env:"API_TOKEN"`
	Timeout string `yaml:"timeout" env:"API_TIMEOUT"` // Duration string
}

type ServerConfig struct {
	Address string `yaml:"address" env:"SERVER_ADDRESS"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`          // debug, info, warn, error
	OutputPath string `yaml:"outputPath" env:"LOG_OUTPUT"`    // file path or "stdout"
	Encoding   string `yaml:"encoding" env:"LOG_ENCODING"`    // json or console
	MaxSize    int    `yaml:"maxSize"`                        // megabytes, file output only
	MaxAge     int    `yaml:"maxAge"`                         // days
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `yaml:"path" env:"METRICS_PATH"`
}

// TelemetryConfig selects the broker used to sample live telemetry for
// field discovery. An empty Broker disables sampling.
type TelemetryConfig struct {
	Broker        string     `yaml:"broker" env:"TELEMETRY_BROKER"` // "", mqtt or nats
	TopicTemplate string     `yaml:"topicTemplate"`
	SampleTimeout string     `yaml:"sampleTimeout"` // Duration string
	MQTT          MQTTConfig `yaml:"mqtt"`
	NATS          NATSConfig `yaml:"nats"`
}

type MQTTConfig struct {
	Broker   string    `yaml:"broker" env:"MQTT_BROKER"`
	ClientID string    `yaml:"clientId"`
	Username string    `yaml:"username" env:"MQTT_USERNAME"`
	Password string    `yaml:"password" env:"MQTT_PASSWORD"`
	TLS      TLSConfig `yaml:"tls"`
}

type NATSConfig struct {
	URLs     []string  `yaml:"urls" env:"NATS_URLS" envSeparator:","`
	ClientID string    `yaml:"clientId"`
	Username string    `yaml:"username" env:"NATS_USERNAME"`
	Password string    `yaml:"password" env:"NATS_PASSWORD"`
	TLS      TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enable   bool   `yaml:"enable"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	CAFile   string `yaml:"caFile"`
}

// BuilderConfig picks between the rich rule panel (alert title required)
// and the simple one (blank title replaced by DefaultAlertTitle).
type BuilderConfig struct {
	RequireAlertTitle bool   `yaml:"requireAlertTitle"`
	DefaultAlertTitle string `yaml:"defaultAlertTitle"`
}

// Load reads and parses the configuration file, then applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(config *Config) {
	if config.API.Timeout == "" {
		config.API.Timeout = "15s"
	}
	config.API.BaseURL = strings.TrimRight(config.API.BaseURL, "/")

	if config.Server.Address == "" {
		config.Server.Address = ":8085"
	}

	// Set defaults for logging
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.OutputPath == "" {
		config.Logging.OutputPath = "stdout"
	}
	if config.Logging.Encoding == "" {
		config.Logging.Encoding = "json"
	}
	if config.Logging.MaxSize <= 0 {
		config.Logging.MaxSize = 100
	}

	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	if config.Telemetry.TopicTemplate == "" {
		config.Telemetry.TopicTemplate = "devices/{device_id}/telemetry"
	}
	if config.Telemetry.SampleTimeout == "" {
		config.Telemetry.SampleTimeout = "3s"
	}
	if config.Telemetry.MQTT.ClientID == "" {
		config.Telemetry.MQTT.ClientID = "device-rules-sampler"
	}
	if config.Telemetry.NATS.ClientID == "" {
		config.Telemetry.NATS.ClientID = "device-rules-sampler"
	}

	if config.Builder.DefaultAlertTitle == "" {
		config.Builder.DefaultAlertTitle = "Rule triggered"
	}
}

// validateConfig performs validation of all configuration values
func validateConfig(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api base url: %s", cfg.API.BaseURL)
	}
	if _, err := time.ParseDuration(cfg.API.Timeout); err != nil {
		return fmt.Errorf("invalid api timeout: %w", err)
	}

	// Validate logging config
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	switch cfg.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", cfg.Logging.Encoding)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %s", cfg.Metrics.Path)
	}

	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validateTelemetry(t *TelemetryConfig) error {
	if _, err := time.ParseDuration(t.SampleTimeout); err != nil {
		return fmt.Errorf("invalid telemetry sample timeout: %w", err)
	}
	if !strings.Contains(t.TopicTemplate, "{device_id}") {
		return fmt.Errorf("telemetry topic template must contain {device_id}")
	}

	switch t.Broker {
	case "":
	case "mqtt":
		if t.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker address is required")
		}
		if err := validateTLS(t.MQTT.TLS, true); err != nil {
			return err
		}
	case "nats":
		if len(t.NATS.URLs) == 0 {
			return fmt.Errorf("at least one nats url is required")
		}
		if err := validateTLS(t.NATS.TLS, false); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid telemetry broker: %s", t.Broker)
	}

	return nil
}

func validateTLS(tls TLSConfig, requireCA bool) error {
	if !tls.Enable {
		return nil
	}
	if tls.CertFile == "" {
		return fmt.Errorf("tls cert file is required when tls is enabled")
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("tls key file is required when tls is enabled")
	}
	if requireCA && tls.CAFile == "" {
		return fmt.Errorf("tls ca file is required when tls is enabled")
	}
	return nil
}

// APITimeout returns the parsed API timeout. Load has already validated it.
func (c *Config) APITimeout() time.Duration {
	d, _ := time.ParseDuration(c.API.Timeout)
	return d
}

// SampleTimeout returns the parsed telemetry sample timeout.
func (c *Config) SampleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Telemetry.SampleTimeout)
	return d
}

// Validate re-checks the configuration, typically after ApplyOverrides.
func (c *Config) Validate() error {
	return validateConfig(c)
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(listenAddr, logLevel string, metricsEnabled bool) {
	if listenAddr != "" {
		c.Server.Address = listenAddr
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if metricsEnabled {
		c.Metrics.Enabled = true
	}
}
