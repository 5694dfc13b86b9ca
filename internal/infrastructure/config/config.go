package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Hub       HubConfig
	Agent     AgentConfig
	HyperDeck HyperDeckConfig
	Console   ConsoleConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// HubConfig holds websocket keepalive and command relay settings for the hub.
type HubConfig struct {
	PingInterval   time.Duration `envconfig:"HUB_PING_INTERVAL" default:"5s"`
	IdleTimeout    time.Duration `envconfig:"HUB_IDLE_TIMEOUT" default:"15s"`
	CommandTimeout time.Duration `envconfig:"HUB_COMMAND_TIMEOUT" default:"10s"`
}

// AgentConfig holds configuration for the agent process. When Enabled is set,
// cmd/server also runs an agent that dials its own hub.
type AgentConfig struct {
	Enabled        bool          `envconfig:"AGENT_ENABLED" default:"false"`
	ID             string        `envconfig:"AGENT_ID"`
	HubURL         string        `envconfig:"AGENT_HUB_URL" default:"ws://127.0.0.1:8080"`
	Shell          string        `envconfig:"AGENT_SHELL" default:"sh"`
	ShellCols      int           `envconfig:"AGENT_SHELL_COLS" default:"80"`
	ShellRows      int           `envconfig:"AGENT_SHELL_ROWS" default:"24"`
	ReconnectDelay time.Duration `envconfig:"AGENT_RECONNECT_DELAY" default:"5s"`
	PingInterval   time.Duration `envconfig:"AGENT_PING_INTERVAL" default:"5s"`
	IdleTimeout    time.Duration `envconfig:"AGENT_IDLE_TIMEOUT" default:"15s"`
	ScanEnabled    bool          `envconfig:"AGENT_SCAN_ENABLED" default:"true"`
	ScanInterval   time.Duration `envconfig:"AGENT_SCAN_INTERVAL" default:"15s"`
	DeviceTimeout  time.Duration `envconfig:"AGENT_DEVICE_TIMEOUT" default:"60s"`
	ProbeInterval  time.Duration `envconfig:"AGENT_PROBE_INTERVAL" default:"60s"`
	ProcRoot       string        `envconfig:"AGENT_PROC_ROOT" default:"/proc"`
	SweepEnabled   bool          `envconfig:"AGENT_SWEEP_ENABLED" default:"true"`
	SweepWindow    time.Duration `envconfig:"AGENT_SWEEP_WINDOW" default:"8s"`
}

// HyperDeckConfig holds device protocol settings.
type HyperDeckConfig struct {
	Port    int           `envconfig:"HYPERDECK_PORT" default:"9993"`
	Timeout time.Duration `envconfig:"HYPERDECK_TIMEOUT" default:"2s"`
}

// ConsoleConfig holds settings for c2ctl.
type ConsoleConfig struct {
	Host    string        `envconfig:"C2_HOST" default:"127.0.0.1:8080"`
	APIHost string        `envconfig:"C2_API_HOST"`
	Secure  bool          `envconfig:"C2_SECURE" default:"false"`
	Timeout time.Duration `envconfig:"C2_TIMEOUT" default:"15s"`
	LogFile string        `envconfig:"C2_LOG_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the hub API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Hub: HubConfig{
			PingInterval:   5 * time.Second,
			IdleTimeout:    15 * time.Second,
			CommandTimeout: 10 * time.Second,
		},
		Agent: AgentConfig{
			HubURL:         "ws://127.0.0.1:8080",
			Shell:          "sh",
			ShellCols:      80,
			ShellRows:      24,
			ReconnectDelay: 5 * time.Second,
			PingInterval:   5 * time.Second,
			IdleTimeout:    15 * time.Second,
			ScanEnabled:    true,
			ScanInterval:   15 * time.Second,
			DeviceTimeout:  60 * time.Second,
			ProbeInterval:  60 * time.Second,
			ProcRoot:       "/proc",
			SweepEnabled:   true,
			SweepWindow:    8 * time.Second,
		},
		HyperDeck: HyperDeckConfig{
			Port:    9993,
			Timeout: 2 * time.Second,
		},
		Console: ConsoleConfig{
			Host:    "127.0.0.1:8080",
			Timeout: 15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
