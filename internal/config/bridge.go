// Package config loads the bridge configuration file.
//
// The file uses the upper-case keys of the deployed MQTT-config.json so an
// existing installation can point -config at the file it already has.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/banshee-data/sensorbridge/internal/publish"
	"github.com/banshee-data/sensorbridge/internal/seriallink"
	"github.com/banshee-data/sensorbridge/internal/supervisor"
)

// DefaultConfigPath is the example configuration shipped with the repo.
const DefaultConfigPath = "config/sensorbridge.example.json"

// DefaultSerialPort is the XBee USB adapter on the deployed Raspberry Pi.
const DefaultSerialPort = "/dev/ttyUSB0"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// BridgeConfig is the on-disk configuration. Every field is optional in the
// struct; the Get* methods and the component builders supply defaults.
type BridgeConfig struct {
	// Broker
	MQTTBroker *string `json:"MQTT_BROKER,omitempty"`
	MQTTPort   *int    `json:"MQTT_PORT,omitempty"`
	MQTTTopic  *string `json:"MQTT_TOPIC,omitempty"`

	// Serial link
	SerialPort  *string `json:"SERIAL_PORT,omitempty"`
	BaudRate    *int    `json:"BAUD_RATE,omitempty"`
	ReadWindow  *string `json:"READ_WINDOW,omitempty"`  // duration string like "3s"
	SettleDelay *string `json:"SETTLE_DELAY,omitempty"` // duration string like "2s"

	// Supervisor timing
	StaleTimeout   *string `json:"STALE_TIMEOUT,omitempty"`
	OpenBackoff    *string `json:"OPEN_BACKOFF,omitempty"`
	RejectPause    *string `json:"REJECT_PAUSE,omitempty"`
	CycleInterval  *string `json:"CYCLE_INTERVAL,omitempty"`
	RestartBackoff *string `json:"RESTART_BACKOFF,omitempty"`
	MaxRestarts    *int    `json:"MAX_RESTARTS,omitempty"`
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. A file must name the broker, port and topic.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	if err := sonic.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	var missing []string
	if cfg.MQTTBroker == nil {
		missing = append(missing, "MQTT_BROKER")
	}
	if cfg.MQTTPort == nil {
		missing = append(missing, "MQTT_PORT")
	}
	if cfg.MQTTTopic == nil {
		missing = append(missing, "MQTT_TOPIC")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing %s in %s", strings.Join(missing, ", "), cleanPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *BridgeConfig) Validate() error {
	if c.MQTTBroker != nil && strings.TrimSpace(*c.MQTTBroker) == "" {
		return fmt.Errorf("MQTT_BROKER must not be empty")
	}
	if c.MQTTPort != nil && (*c.MQTTPort < 1 || *c.MQTTPort > 65535) {
		return fmt.Errorf("MQTT_PORT must be between 1 and 65535, got %d", *c.MQTTPort)
	}
	if c.MQTTTopic != nil {
		if *c.MQTTTopic == "" {
			return fmt.Errorf("MQTT_TOPIC must not be empty")
		}
		// Wildcards are only valid in subscriptions.
		if strings.ContainsAny(*c.MQTTTopic, "+#") {
			return fmt.Errorf("MQTT_TOPIC %q must not contain wildcards", *c.MQTTTopic)
		}
	}
	if c.BaudRate != nil {
		if *c.BaudRate <= 0 {
			return fmt.Errorf("BAUD_RATE must be positive, got %d", *c.BaudRate)
		}
		if _, err := (seriallink.PortOptions{BaudRate: *c.BaudRate}).Normalize(); err != nil {
			return fmt.Errorf("BAUD_RATE: %w", err)
		}
	}
	if c.MaxRestarts != nil && *c.MaxRestarts < 0 {
		return fmt.Errorf("MAX_RESTARTS must be non-negative, got %d", *c.MaxRestarts)
	}

	durations := []struct {
		key string
		val *string
	}{
		{"READ_WINDOW", c.ReadWindow},
		{"SETTLE_DELAY", c.SettleDelay},
		{"STALE_TIMEOUT", c.StaleTimeout},
		{"OPEN_BACKOFF", c.OpenBackoff},
		{"REJECT_PAUSE", c.RejectPause},
		{"CYCLE_INTERVAL", c.CycleInterval},
		{"RESTART_BACKOFF", c.RestartBackoff},
	}
	for _, d := range durations {
		if d.val == nil || *d.val == "" {
			continue
		}
		v, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.key, *d.val, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.key, *d.val)
		}
	}
	return nil
}

// durationOr parses s, falling back to def when s is unset or invalid.
func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetSerialPort returns the serial device path.
func (c *BridgeConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetBaudRate returns the serial line speed.
func (c *BridgeConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return seriallink.DefaultBaudRate
	}
	return *c.BaudRate
}

// SerialConfig returns the serial link configuration.
func (c *BridgeConfig) SerialConfig() seriallink.Config {
	return seriallink.Config{
		Path:        c.GetSerialPort(),
		Options:     seriallink.PortOptions{BaudRate: c.GetBaudRate()},
		ReadWindow:  durationOr(c.ReadWindow, seriallink.DefaultReadWindow),
		SettleDelay: durationOr(c.SettleDelay, 0),
	}
}

// SupervisorConfig returns the supervisor timing policy.
func (c *BridgeConfig) SupervisorConfig() supervisor.Config {
	cfg := supervisor.DefaultConfig()
	cfg.StaleTimeout = durationOr(c.StaleTimeout, cfg.StaleTimeout)
	cfg.OpenBackoff = durationOr(c.OpenBackoff, cfg.OpenBackoff)
	cfg.RejectPause = durationOr(c.RejectPause, cfg.RejectPause)
	cfg.CycleInterval = durationOr(c.CycleInterval, cfg.CycleInterval)
	cfg.RestartBackoff = durationOr(c.RestartBackoff, cfg.RestartBackoff)
	if c.MaxRestarts != nil {
		cfg.MaxRestarts = *c.MaxRestarts
	}
	return cfg
}

// MQTTConfig returns the broker connection settings.
func (c *BridgeConfig) MQTTConfig() publish.MQTTConfig {
	cfg := publish.MQTTConfig{
		Broker: publish.DefaultBroker,
		Port:   publish.DefaultPort,
		Topic:  publish.DefaultTopic,
	}
	if c.MQTTBroker != nil {
		cfg.Broker = *c.MQTTBroker
	}
	if c.MQTTPort != nil {
		cfg.Port = *c.MQTTPort
	}
	if c.MQTTTopic != nil {
		cfg.Topic = *c.MQTTTopic
	}
	return cfg
}
