package infra

import (
	"fmt"
	"os"

	"deribit_go/internal/domain"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. Credentials can be
// overridden via environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Deribit struct {
			BaseURL      string   `yaml:"base_url"`
			WSURL        string   `yaml:"ws_url"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Symbols      []string `yaml:"symbols"`
		} `yaml:"deribit"`
	} `yaml:"api"`

	Server struct {
		WebsocketPort int `yaml:"websocket_port"`
	} `yaml:"server"`

	Engine struct {
		Workers        int `yaml:"workers"`
		QueueCapacity  int `yaml:"queue_capacity"`
		LatencySamples int `yaml:"latency_samples"`
	} `yaml:"engine"`

	Orders struct {
		Workers       int `yaml:"workers"`
		QueueCapacity int `yaml:"queue_capacity"`
	} `yaml:"orders"`

	Strategy struct {
		Enabled     bool    `yaml:"enabled"`
		Instrument  string  `yaml:"instrument"`
		SpreadBps   float64 `yaml:"spread_bps"`
		QuoteAmount float64 `yaml:"quote_amount"`
		MaxPosition float64 `yaml:"max_position"`
		TickSize    float64 `yaml:"tick_size"`
	} `yaml:"strategy"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides for credentials and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Deribit.WSURL == "" || (!hasPrefix(c.API.Deribit.WSURL, "ws://") && !hasPrefix(c.API.Deribit.WSURL, "wss://")) {
		return fmt.Errorf("invalid Deribit WS URL: %s", c.API.Deribit.WSURL)
	}
	if c.API.Deribit.BaseURL == "" || (!hasPrefix(c.API.Deribit.BaseURL, "http://") && !hasPrefix(c.API.Deribit.BaseURL, "https://")) {
		return fmt.Errorf("invalid Deribit base URL: %s", c.API.Deribit.BaseURL)
	}
	if len(c.API.Deribit.Symbols) == 0 {
		return fmt.Errorf("at least one subscription symbol is required")
	}
	if c.Server.WebsocketPort <= 0 || c.Server.WebsocketPort > 65535 {
		return fmt.Errorf("invalid websocket port: %d", c.Server.WebsocketPort)
	}
	if c.Strategy.Enabled && c.Strategy.Instrument == "" {
		return fmt.Errorf("strategy enabled without an instrument")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv lets the environment supply credentials so they never need
// to live in the config file.
func overrideWithEnv(cfg *Config) {
	if id := os.Getenv("DERIBIT_CLIENT_ID"); id != "" {
		cfg.API.Deribit.ClientID = id
	}
	if secret := os.Getenv("DERIBIT_CLIENT_SECRET"); secret != "" {
		cfg.API.Deribit.ClientSecret = secret
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.QueueCapacity <= 0 {
		cfg.Engine.QueueCapacity = 65536
	}
	if cfg.Engine.LatencySamples <= 0 {
		cfg.Engine.LatencySamples = 10000
	}
	if cfg.Orders.Workers <= 0 {
		cfg.Orders.Workers = 4
	}
	if cfg.Orders.QueueCapacity <= 0 {
		cfg.Orders.QueueCapacity = 1024
	}
}
