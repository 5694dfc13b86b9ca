package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())

	assert.Equal(t, 5*time.Second, cfg.Hub.PingInterval)
	assert.Equal(t, 15*time.Second, cfg.Hub.IdleTimeout)

	assert.False(t, cfg.Agent.Enabled)
	assert.Equal(t, "sh", cfg.Agent.Shell)
	assert.Equal(t, 15*time.Second, cfg.Agent.ScanInterval)
	assert.Equal(t, 60*time.Second, cfg.Agent.DeviceTimeout)
	assert.Equal(t, "/proc", cfg.Agent.ProcRoot)

	assert.Equal(t, 9993, cfg.HyperDeck.Port)
	assert.Equal(t, 2*time.Second, cfg.HyperDeck.Timeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"HOST":                 "127.0.0.1",
		"HUB_IDLE_TIMEOUT":     "30s",
		"AGENT_ENABLED":        "true",
		"AGENT_ID":             "studio-a",
		"AGENT_HUB_URL":        "wss://hub.example.com",
		"AGENT_SCAN_ENABLED":   "false",
		"AGENT_PROBE_INTERVAL": "2m",
		"HYPERDECK_TIMEOUT":    "500ms",
		"C2_API_HOST":          "api.example.com",
		"C2_SECURE":            "true",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"RATE_LIMIT_RPS":       "500",
		"RATE_LIMIT_ENABLED":   "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Hub.IdleTimeout)
	assert.True(t, cfg.Agent.Enabled)
	assert.Equal(t, "studio-a", cfg.Agent.ID)
	assert.Equal(t, "wss://hub.example.com", cfg.Agent.HubURL)
	assert.False(t, cfg.Agent.ScanEnabled)
	assert.Equal(t, 2*time.Minute, cfg.Agent.ProbeInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.HyperDeck.Timeout)
	assert.Equal(t, "api.example.com", cfg.Console.APIHost)
	assert.True(t, cfg.Console.Secure)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, 9993, cfg.HyperDeck.Port)
	assert.Equal(t, 5*time.Second, cfg.Hub.PingInterval)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("HUB_PING_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 5*time.Second, cfg.Hub.PingInterval)
}
