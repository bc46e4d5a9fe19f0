package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mqttrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
listeners:
  tcp:
    addr: "127.0.0.1:1884"
  websocket:
    addr: ""
delivery:
  retry_interval: 250ms
session:
  send_queue: 16
  write_timeout: 3s
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:1884", cfg.Listeners.TCP.Addr)
	require.Empty(t, cfg.Listeners.WebSocket.Addr)
	require.Equal(t, "/mqtt", cfg.Listeners.WebSocket.Path, "unset keys keep their defaults")
	require.Equal(t, 250*time.Millisecond, cfg.Delivery.RetryInterval)
	require.Equal(t, 16, cfg.Session.SendQueue)
	require.Equal(t, 1<<20, cfg.Session.MaxPacketSize)
	require.Equal(t, 3*time.Second, cfg.Session.WriteTimeout)
	require.Equal(t, 10*time.Second, cfg.Session.ConnectTimeout)
	require.Equal(t, LoggingConfig{Level: "debug", Format: FormatConsole}, cfg.Logging)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "listeners: [unclosed"))
		require.ErrorContains(t, err, "parsing config file")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "delivery:\n  retry_interval: soon\n"))
		require.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "session:\n  send_queue: 0\n"))
		require.ErrorContains(t, err, "validating config")
	})
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listeners:\n  tcp:\n    addr: \":1\"\n")
	t.Setenv("MQTTRELAY_TCP_ADDR", ":2883")
	t.Setenv("MQTTRELAY_WS_ADDR", "")
	t.Setenv("MQTTRELAY_RETRY_INTERVAL", "2s")
	t.Setenv("MQTTRELAY_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":2883", cfg.Listeners.TCP.Addr)
	require.Empty(t, cfg.Listeners.WebSocket.Addr, "an empty variable turns the listener off")
	require.Equal(t, 2*time.Second, cfg.Delivery.RetryInterval)
	require.Equal(t, "warn", cfg.Logging.Level)

	t.Run("unparseable retry interval", func(t *testing.T) {
		t.Setenv("MQTTRELAY_RETRY_INTERVAL", "often")
		_, err := Load(path)
		require.ErrorContains(t, err, "MQTTRELAY_RETRY_INTERVAL")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		description string
		modify      func(*Config)
		wantErr     bool
	}{
		{"defaults", func(*Config) {}, false},
		{"tcp only", func(c *Config) { c.Listeners.WebSocket.Addr = "" }, false},
		{"websocket only", func(c *Config) { c.Listeners.TCP.Addr = "" }, false},
		{"no listeners", func(c *Config) {
			c.Listeners.TCP.Addr = ""
			c.Listeners.WebSocket.Addr = ""
		}, true},
		{"relative websocket path", func(c *Config) { c.Listeners.WebSocket.Path = "mqtt" }, true},
		{"websocket path ignored when off", func(c *Config) {
			c.Listeners.WebSocket.Addr = ""
			c.Listeners.WebSocket.Path = ""
		}, false},
		{"zero retry interval", func(c *Config) { c.Delivery.RetryInterval = 0 }, true},
		{"sub millisecond retry interval", func(c *Config) { c.Delivery.RetryInterval = time.Microsecond }, true},
		{"negative send queue", func(c *Config) { c.Session.SendQueue = -1 }, true},
		{"zero max packet size", func(c *Config) { c.Session.MaxPacketSize = 0 }, true},
		{"max packet size at the protocol limit", func(c *Config) { c.Session.MaxPacketSize = 268435455 }, false},
		{"max packet size past the protocol limit", func(c *Config) { c.Session.MaxPacketSize = 268435456 }, true},
		{"negative write timeout", func(c *Config) { c.Session.WriteTimeout = -time.Second }, true},
		{"zero connect timeout disables it", func(c *Config) { c.Session.ConnectTimeout = 0 }, false},
		{"negative connect timeout", func(c *Config) { c.Session.ConnectTimeout = -time.Second }, true},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}
	for _, cs := range cases {
		t.Run(cs.description, func(t *testing.T) {
			cfg := Default()
			cs.modify(cfg)
			err := cfg.Validate()
			if cs.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
