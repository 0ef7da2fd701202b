// Package config loads the application configuration from an optional YAML
// file overlaid by LOTX_-prefixed environment variables. Precedence:
// defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "LOTX"

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Browser    BrowserConfig    `yaml:"browser" envconfig:"BROWSER"`
	Extraction ExtractionConfig `yaml:"extraction" envconfig:"EXTRACTION"`
	Store      StoreConfig      `yaml:"store" envconfig:"STORE"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:"127.0.0.1"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
}

// BrowserConfig controls how the tool reaches the brokerage session. The
// tool attaches to an already logged-in browser over the DevTools protocol
// rather than driving its own login.
type BrowserConfig struct {
	// DevToolsURL is the ws:// or http:// endpoint of a running browser
	// started with --remote-debugging-port. Required.
	DevToolsURL string `yaml:"devtools_url" envconfig:"DEVTOOLS_URL"`

	// AttachTimeout bounds the initial connection to the browser.
	AttachTimeout time.Duration `yaml:"attach_timeout" envconfig:"ATTACH_TIMEOUT" default:"30s"`
}

// ExtractionConfig tunes the extraction run.
type ExtractionConfig struct {
	// PositionsURLFragment must appear in the page URL for a run to start.
	PositionsURLFragment string `yaml:"positions_url_fragment" envconfig:"POSITIONS_URL_FRAGMENT" default:"client.schwab.com/app/accounts/positions"`

	// Pace is the minimum interval between consecutive positions.
	Pace time.Duration `yaml:"pace" envconfig:"PACE" default:"2s"`

	RetryAttempts  int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY" default:"1s"`

	// Settle delays between interaction steps.
	MenuSettle      time.Duration `yaml:"menu_settle" envconfig:"MENU_SETTLE" default:"1500ms"`
	MenuCloseSettle time.Duration `yaml:"menu_close_settle" envconfig:"MENU_CLOSE_SETTLE" default:"500ms"`
	ModalSettle     time.Duration `yaml:"modal_settle" envconfig:"MODAL_SETTLE" default:"2s"`
	CloseSettle     time.Duration `yaml:"close_settle" envconfig:"CLOSE_SETTLE" default:"1s"`
}

// StoreConfig contains persistence configuration.
type StoreConfig struct {
	// DataDir is the badger database directory.
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
}

// Load reads the configuration. The file is optional; a missing path is not
// an error. Environment variables always win over file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("could not read config file %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %q: %w", path, err)
		}
	}

	// envconfig overrides fields with set variables and applies defaults
	// only to fields still at their zero value.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("could not load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Extraction.PositionsURLFragment == "" {
		return fmt.Errorf("positions_url_fragment must not be empty")
	}
	if c.Extraction.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.Extraction.RetryAttempts)
	}
	if c.Extraction.Pace < 0 {
		return fmt.Errorf("pace must not be negative, got %s", c.Extraction.Pace)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store data_dir must not be empty")
	}
	return nil
}
