// Package config loads client configuration from environment variables
// (envconfig tags with defaults, the same scheme as the backend services),
// optionally overlaid with a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Duration wraps time.Duration so values like "3s" parse from both
// environment variables and YAML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for envconfig.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(b []byte) error {
	return d.UnmarshalText([]byte(strings.Trim(string(b), `"'`)))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all client configuration.
type Config struct {
	Chat    ChatConfig    `yaml:"chat"`
	Group   GroupConfig   `yaml:"group"`
	Socket  SocketConfig  `yaml:"socket"`
	Probe   ProbeConfig   `yaml:"probe"`
	History HistoryConfig `yaml:"history"`
	Ops     OpsConfig     `yaml:"ops"`
	Logging LogConfig     `yaml:"logging"`
}

// ChatConfig holds the one-on-one AI chat endpoint.
type ChatConfig struct {
	URL string `envconfig:"CHAT_WS_URL" default:"ws://localhost:8000/ws" yaml:"url"`
}

// GroupConfig holds the group chat endpoint and room settings.
type GroupConfig struct {
	URL         string   `envconfig:"GROUP_WS_URL" default:"ws://localhost:8000/ws/group-chat" yaml:"url"`
	RoomID      string   `envconfig:"GROUP_ROOM_ID" default:"general" yaml:"room_id"`
	RejoinDelay Duration `envconfig:"GROUP_REJOIN_DELAY" default:"500ms" yaml:"rejoin_delay"`
}

// SocketConfig holds transport-level settings shared by both chats.
type SocketConfig struct {
	ReconnectDelay    Duration `envconfig:"WS_RECONNECT_DELAY" default:"3s" yaml:"reconnect_delay"`
	HeartbeatInterval Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"30s" yaml:"heartbeat_interval"`
	// SendRatePerSecond caps outbound frames; 0 disables the limiter.
	SendRatePerSecond float64 `envconfig:"WS_SEND_RPS" default:"0" yaml:"send_rate_per_second"`
	SendBurst         int     `envconfig:"WS_SEND_BURST" default:"8" yaml:"send_burst"`
}

// ProbeConfig holds the backend HTTP health probe settings.
type ProbeConfig struct {
	URL      string   `envconfig:"PROBE_URL" default:"http://localhost:8000/health" yaml:"url"`
	Timeout  Duration `envconfig:"PROBE_TIMEOUT" default:"2s" yaml:"timeout"`
	Interval Duration `envconfig:"PROBE_INTERVAL" default:"1s" yaml:"interval"`
}

// HistoryConfig holds transcript persistence settings.
type HistoryConfig struct {
	Enabled bool   `envconfig:"HISTORY_ENABLED" default:"true" yaml:"enabled"`
	Path    string `envconfig:"HISTORY_PATH" default:"chatkit.db" yaml:"path"`
}

// OpsConfig holds the local health/metrics server settings.
type OpsConfig struct {
	Enabled bool   `envconfig:"OPS_ENABLED" default:"false" yaml:"enabled"`
	Addr    string `envconfig:"OPS_ADDR" default:":9090" yaml:"addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
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

// LoadFile loads configuration from the environment, then overlays the YAML
// file at path. File values win over environment values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			URL: "ws://localhost:8000/ws",
		},
		Group: GroupConfig{
			URL:         "ws://localhost:8000/ws/group-chat",
			RoomID:      "general",
			RejoinDelay: Duration(500 * time.Millisecond),
		},
		Socket: SocketConfig{
			ReconnectDelay:    Duration(3 * time.Second),
			HeartbeatInterval: Duration(30 * time.Second),
			SendRatePerSecond: 0,
			SendBurst:         8,
		},
		Probe: ProbeConfig{
			URL:      "http://localhost:8000/health",
			Timeout:  Duration(2 * time.Second),
			Interval: Duration(time.Second),
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "chatkit.db",
		},
		Ops: OpsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
