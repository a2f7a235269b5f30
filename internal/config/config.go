// Package config loads application configuration from environment variables
// and an optional YAML file. Environment variables take precedence over the
// file, which takes precedence over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of all configuration environment variables,
// e.g. CARDKEY_LICENSE_VERIFY_URL.
const EnvPrefix = "CARDKEY"

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LicenseConfig contains verification and trust cache configuration.
type LicenseConfig struct {
	VerifyURL         string        `yaml:"verify_url" envconfig:"VERIFY_URL" validate:"required,url"`
	RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
	CacheFile         string        `yaml:"cache_file" envconfig:"CACHE_FILE" validate:"required"`
	LegacyCacheFile   string        `yaml:"legacy_cache_file" envconfig:"LEGACY_CACHE_FILE" validate:"required"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	HeartbeatTick     time.Duration `yaml:"heartbeat_tick" envconfig:"HEARTBEAT_TICK" validate:"gt=0"`
	StopTimeout       time.Duration `yaml:"stop_timeout" envconfig:"STOP_TIMEOUT" validate:"gt=0"`
	VerifyRPS         float64       `yaml:"verify_rps" envconfig:"VERIFY_RPS" validate:"gt=0"`
	VerifyBurst       int           `yaml:"verify_burst" envconfig:"VERIFY_BURST" validate:"gt=0"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Load reads configuration from the environment and the optional config file.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg.merge(fileCfg)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// merge fills fields the environment left unset from the file config.
func (c *Config) merge(file *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = file.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}

	if c.License.VerifyURL == "" {
		c.License.VerifyURL = file.License.VerifyURL
	}
	if c.License.RequestTimeout == 0 {
		c.License.RequestTimeout = file.License.RequestTimeout
	}
	if c.License.CacheFile == "" {
		c.License.CacheFile = file.License.CacheFile
	}
	if c.License.LegacyCacheFile == "" {
		c.License.LegacyCacheFile = file.License.LegacyCacheFile
	}
	if c.License.HeartbeatInterval == 0 {
		c.License.HeartbeatInterval = file.License.HeartbeatInterval
	}
	if c.License.HeartbeatTick == 0 {
		c.License.HeartbeatTick = file.License.HeartbeatTick
	}
	if c.License.StopTimeout == 0 {
		c.License.StopTimeout = file.License.StopTimeout
	}
	if c.License.VerifyRPS == 0 {
		c.License.VerifyRPS = file.License.VerifyRPS
	}
	if c.License.VerifyBurst == 0 {
		c.License.VerifyBurst = file.License.VerifyBurst
	}

	if c.Logging.Level == "" {
		c.Logging.Level = file.Logging.Level
	}
	if c.Logging.Output == "" {
		c.Logging.Output = file.Logging.Output
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = file.Logging.FilePath
	}
}

// applyDefaults fills any field still unset after env and file loading.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.License.RequestTimeout == 0 {
		c.License.RequestTimeout = 10 * time.Second
	}
	if c.License.CacheFile == "" {
		c.License.CacheFile = "verification.bin"
	}
	if c.License.LegacyCacheFile == "" {
		c.License.LegacyCacheFile = "verification.json"
	}
	if c.License.HeartbeatInterval == 0 {
		c.License.HeartbeatInterval = 5 * time.Minute
	}
	if c.License.HeartbeatTick == 0 {
		c.License.HeartbeatTick = time.Second
	}
	if c.License.StopTimeout == 0 {
		c.License.StopTimeout = 5 * time.Second
	}
	if c.License.VerifyRPS == 0 {
		c.License.VerifyRPS = 1
	}
	if c.License.VerifyBurst == 0 {
		c.License.VerifyBurst = 3
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/cardkeyd.log"
	}
}

// validate checks the assembled configuration.
func (c *Config) validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging file_path required for output %q", c.Logging.Output)
	}
	return nil
}
