package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/printdeck/server/internal/timelapse"
)

// Duration wraps time.Duration so YAML values like "500ms" or "2s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
	DeviceLog DeviceLogConfig   `yaml:"device_log"`
	Messages  MessagesConfig    `yaml:"messages"`
	Timelapse timelapse.Config  `yaml:"timelapse"`
	Commands  map[string]string `yaml:"commands"`
	Logging   LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TelemetryConfig struct {
	// Source selects where temperature samples come from: "host" reads
	// hardware sensors, "simulated" generates a plausible heat-up curve.
	Source       string   `yaml:"source"`
	PollInterval Duration `yaml:"poll_interval"`
	HistorySize  int      `yaml:"history_size"`
}

type DeviceLogConfig struct {
	Path         string   `yaml:"path"`
	PollInterval Duration `yaml:"poll_interval"`
}

type MessagesConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			Source:       "host",
			PollInterval: Duration(time.Second),
			HistorySize:  300,
		},
		DeviceLog: DeviceLogConfig{
			PollInterval: Duration(500 * time.Millisecond),
		},
		Messages: MessagesConfig{
			Topic:    "printdeck/messages",
			ClientID: "printdeck-relay",
		},
		Timelapse: timelapse.Config{
			Type: "off",
			FPS:  25,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path and unmarshals it over the defaults. A missing file is
// not an error: the server runs fine on defaults alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// GenerateToken returns a random hex token suitable as an ad-hoc auth token
// when none is configured.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
