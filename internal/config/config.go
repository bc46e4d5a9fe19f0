// Package config loads the relay's YAML configuration.
//
// Values are resolved in order: built in defaults, then the YAML file,
// then MQTTRELAY_* environment variables. The result is validated
// before it is returned.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration
type Config struct {
	Listeners ListenersConfig `yaml:"listeners"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ListenersConfig holds the network endpoints. An empty address turns
// that listener off.
type ListenersConfig struct {
	TCP       TCPConfig       `yaml:"tcp"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type TCPConfig struct {
	Addr string `yaml:"addr"`
}

type WebSocketConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// DeliveryConfig controls QoS 1 retries
type DeliveryConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// SessionConfig bounds each client connection
type SessionConfig struct {
	SendQueue      int           `yaml:"send_queue"`
	MaxPacketSize  int           `yaml:"max_packet_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LoggingConfig selects the log level and encoding
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Log formats
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// maxPacketSize is the largest packet body MQTT can express
const maxPacketSize = 268435455

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Listeners: ListenersConfig{
			TCP: TCPConfig{Addr: ":1883"},
			WebSocket: WebSocketConfig{
				Addr: ":8083",
				Path: "/mqtt",
			},
		},
		Delivery: DeliveryConfig{
			RetryInterval: 5 * time.Second,
		},
		Session: SessionConfig{
			SendQueue:      256,
			MaxPacketSize:  1 << 20,
			WriteTimeout:   10 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatJSON,
		},
	}
}

// Load reads the file at path over the defaults. An empty path skips
// the file, environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config file")
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("MQTTRELAY_TCP_ADDR"); ok {
		cfg.Listeners.TCP.Addr = v
	}
	if v, ok := os.LookupEnv("MQTTRELAY_WS_ADDR"); ok {
		cfg.Listeners.WebSocket.Addr = v
	}
	if v := os.Getenv("MQTTRELAY_RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "MQTTRELAY_RETRY_INTERVAL")
		}
		cfg.Delivery.RetryInterval = d
	}
	if v := os.Getenv("MQTTRELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Listeners.TCP.Addr == "" && c.Listeners.WebSocket.Addr == "" {
		return errors.New("no listener configured")
	}
	if c.Listeners.WebSocket.Addr != "" && !strings.HasPrefix(c.Listeners.WebSocket.Path, "/") {
		return errors.Errorf("websocket path %q must start with /", c.Listeners.WebSocket.Path)
	}
	if c.Delivery.RetryInterval < time.Millisecond {
		return errors.Errorf("retry_interval %s below 1ms", c.Delivery.RetryInterval)
	}
	if c.Session.SendQueue < 1 {
		return errors.Errorf("send_queue must be positive, got %d", c.Session.SendQueue)
	}
	if c.Session.MaxPacketSize < 1 || c.Session.MaxPacketSize > maxPacketSize {
		return errors.Errorf("max_packet_size %d out of range", c.Session.MaxPacketSize)
	}
	if c.Session.WriteTimeout < 0 {
		return errors.New("write_timeout must not be negative")
	}
	if c.Session.ConnectTimeout < 0 {
		return errors.New("connect_timeout must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging level")
	}
	switch c.Logging.Format {
	case FormatJSON, FormatConsole:
	default:
		return errors.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
