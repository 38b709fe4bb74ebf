package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/guseggert/appviewer/internal/files"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file looked up from the working directory towards the root.
	FileName = "appviewer.yaml"
	// EnvPrefix prefixes the environment variables that override the config file, e.g. APPVIEWER_PORT.
	EnvPrefix = "APPVIEWER"
)

// Config holds the settings of the viewer and of the front-end it talks to.
type Config struct {
	// Host is the interface the app listens on.
	Host string `yaml:"host" envconfig:"HOST"`
	// Port is the app's port. 0 picks an ephemeral port on every show.
	Port int `yaml:"port" envconfig:"PORT"`
	// URL, when set, is announced to the front-end instead of a computed URL.
	URL string `yaml:"url" envconfig:"URL"`

	// FrontendURL is the WebSocket endpoint of the front-end. Empty means no front-end.
	FrontendURL string `yaml:"frontendURL" envconfig:"FRONTEND_URL"`
	// Proxy serves the app behind the front-end's base URL instead of directly on host:port.
	Proxy          bool          `yaml:"proxy" envconfig:"PROXY"`
	BaseURLTimeout time.Duration `yaml:"baseURLTimeout" envconfig:"BASE_URL_TIMEOUT"`

	ReadySubstring   string        `yaml:"readySubstring" envconfig:"READY_SUBSTRING"`
	ReadyAttempts    int           `yaml:"readyAttempts" envconfig:"READY_ATTEMPTS"`
	ReadyInterval    time.Duration `yaml:"readyInterval" envconfig:"READY_INTERVAL"`
	PortReleaseDelay time.Duration `yaml:"portReleaseDelay" envconfig:"PORT_RELEASE_DELAY"`

	LogLevel string `yaml:"logLevel" envconfig:"LOG_LEVEL"`
}

func Default() *Config {
	return &Config{
		Host:           "127.0.0.1",
		BaseURLTimeout: 10 * time.Second,
		ReadySubstring: "Running on",
		ReadyAttempts:  100,
		ReadyInterval:  100 * time.Millisecond,
		LogLevel:       "info",
	}
}

// Load builds the config from the defaults, then the config file found from dir upwards (if any), then the environment.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path, err := files.FindUp(FileName, dir)
	if err != nil {
		return nil, fmt.Errorf("looking for %s: %w", FileName, err)
	}
	if path != "" {
		err = cfg.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	err = envconfig.Process(EnvPrefix, cfg)
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	err = yaml.Unmarshal(b, c)
	if err != nil {
		return fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.URL != "" {
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", c.URL, err)
		}
	}
	if c.Proxy && c.FrontendURL == "" {
		return errors.New("proxy requires a front-end URL")
	}
	if c.FrontendURL != "" {
		u, err := url.Parse(c.FrontendURL)
		if err != nil {
			return fmt.Errorf("invalid front-end URL %q: %w", c.FrontendURL, err)
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return fmt.Errorf("front-end URL %q must be a ws, wss, http or https URL", c.FrontendURL)
		}
	}
	if c.BaseURLTimeout <= 0 {
		return errors.New("base URL timeout must be positive")
	}
	if c.ReadySubstring == "" {
		return errors.New("ready substring is required")
	}
	if c.ReadyAttempts <= 0 {
		return errors.New("ready attempts must be positive")
	}
	if c.ReadyInterval <= 0 {
		return errors.New("ready interval must be positive")
	}
	if c.PortReleaseDelay < 0 {
		return errors.New("port release delay must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
