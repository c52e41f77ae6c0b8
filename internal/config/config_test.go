package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/fixtracker/internal/permission"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tracker_config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinTimeMs != 300000 || cfg.MinDistanceM != 10 {
		t.Errorf("thresholds = %d ms / %v m", cfg.MinTimeMs, cfg.MinDistanceM)
	}
	if cfg.OneShotTimeoutMs != 15000 || cfg.FreshnessWindowMs != 120000 {
		t.Errorf("one-shot = %d / %d", cfg.OneShotTimeoutMs, cfg.FreshnessWindowMs)
	}
	if cfg.NotifTitle != "Tracking location" || cfg.NotifText != "Background location is active" {
		t.Errorf("notification = %q / %q", cfg.NotifTitle, cfg.NotifText)
	}
	if !cfg.GrantedPermissions().AllowsTracking() {
		t.Errorf("default permissions %q do not allow tracking", cfg.Permissions)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	p := writeConfig(t, `
MQTT_BROKER: tcp://broker.lan:1883
GPS_ENABLED: true
GPS_SERIAL_PORT: /dev/ttyUSB0
GPS_BAUD_RATE: 38400
MIN_TIME_MS: 60000
MIN_DISTANCE_M: 25.5
PERMISSIONS: coarse,background
LOG_FORMAT: json
`)
	t.Setenv("TRACKER_MIN_TIME_MS", "1000")
	t.Setenv("TRACKER_AUTO_START", "true")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTTBroker != "tcp://broker.lan:1883" || !cfg.GPSEnabled || cfg.GPSSerialPort != "/dev/ttyUSB0" || cfg.GPSBaudRate != 38400 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.MinTimeMs != 1000 {
		t.Errorf("MIN_TIME_MS = %d, want env override 1000", cfg.MinTimeMs)
	}
	if cfg.MinDistanceM != 25.5 || !cfg.AutoStart || cfg.LogFormat != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.GrantedPermissions(); got != permission.Coarse|permission.Background {
		t.Errorf("permissions = %s", got)
	}
	// untouched keys keep their defaults
	if cfg.TopicEvents != "tracker/events" {
		t.Errorf("TOPIC_EVENTS = %q", cfg.TopicEvents)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"negative distance", "MIN_DISTANCE_M: -1\n", "MinDistanceM"},
		{"gps without port", "GPS_ENABLED: true\nGPS_SERIAL_PORT: \"\"\n", "GPSSerialPort"},
		{"bad permission", "PERMISSIONS: fine,camera\n", "PERMISSIONS"},
		{"bad log level", "LOG_LEVEL: loud\n", "LogLevel"},
		{"no sources", "NETWORK_ENABLED: false\n", "at least one"},
		{"bad port", "WEB_SERVER_PORT: 70000\n", "WebServerPort"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing explicit path")
	}
}

func TestMs(t *testing.T) {
	if Ms(1500) != 1500*time.Millisecond || Ms(int64(0)) != 0 {
		t.Fatal("Ms conversion wrong")
	}
}
