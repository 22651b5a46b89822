package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/sensorbridge/internal/config"
	"github.com/banshee-data/sensorbridge/internal/publish"
	"github.com/banshee-data/sensorbridge/internal/seriallink"
)

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	old := *configPath
	*configPath = path
	t.Cleanup(func() { *configPath = old })
}

func TestFlagDefaults(t *testing.T) {
	if *port != config.DefaultSerialPort {
		t.Errorf("port default = %q, want %q", *port, config.DefaultSerialPort)
	}
	if *baud != seriallink.DefaultBaudRate {
		t.Errorf("baud default = %d, want %d", *baud, seriallink.DefaultBaudRate)
	}
	if *topic != publish.DefaultTopic {
		t.Errorf("topic default = %q, want %q", *topic, publish.DefaultTopic)
	}
	if *devMode {
		t.Error("dev mode should be off by default")
	}
}

func TestLoadConfig_FlagsOnly(t *testing.T) {
	withConfigPath(t, "")

	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.MQTTConfig().BrokerURL(); got != "tcp://localhost:1883" {
		t.Errorf("BrokerURL() = %q", got)
	}
	if got := cfg.GetSerialPort(); got != config.DefaultSerialPort {
		t.Errorf("GetSerialPort() = %q", got)
	}
}

func TestLoadConfig_FileThenExplicitFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MQTT-config.json")
	body := `{"MQTT_BROKER": "broker.lan", "MQTT_PORT": 8883, "MQTT_TOPIC": "garage/xbee", "SERIAL_PORT": "/dev/ttyAMA0"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	withConfigPath(t, path)

	// the file wins over flag defaults
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.MQTTConfig().Topic; got != "garage/xbee" {
		t.Errorf("topic = %q, want garage/xbee", got)
	}
	if got := cfg.GetSerialPort(); got != "/dev/ttyAMA0" {
		t.Errorf("serial port = %q, want /dev/ttyAMA0", got)
	}

	// an explicit flag wins over the file
	cfg, err = loadConfig(map[string]bool{"port": true})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.GetSerialPort(); got != config.DefaultSerialPort {
		t.Errorf("serial port = %q, want flag value %q", got, config.DefaultSerialPort)
	}
	if got := cfg.MQTTConfig().Broker; got != "broker.lan" {
		t.Errorf("broker = %q, want broker.lan", got)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	withConfigPath(t, filepath.Join(t.TempDir(), "missing.json"))
	if _, err := loadConfig(nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
