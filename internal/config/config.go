package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/relabs-tech/fixtracker/internal/permission"
)

// Config holds all application configuration values.
// Keys are UPPER_SNAKE in the YAML file; every key can be overridden by an
// environment variable with the TRACKER_ prefix, e.g. TRACKER_MIN_TIME_MS.
type Config struct {
	// MQTT
	MQTTBroker           string `koanf:"MQTT_BROKER" validate:"required"`
	MQTTClientIDTracker  string `koanf:"MQTT_CLIENT_ID_TRACKER" validate:"required"`
	MQTTClientIDConsole  string `koanf:"MQTT_CLIENT_ID_CONSOLE" validate:"required"`
	MQTTClientIDProducer string `koanf:"MQTT_CLIENT_ID_PRODUCER" validate:"required"`

	// Topics
	TopicEvents       string `koanf:"TOPIC_EVENTS" validate:"required"`
	TopicStatus       string `koanf:"TOPIC_STATUS" validate:"required"`
	TopicNetworkFixes string `koanf:"TOPIC_NETWORK_FIXES" validate:"required"`
	TopicPermissions  string `koanf:"TOPIC_PERMISSIONS" validate:"required"`

	// Sources
	GPSEnabled     bool    `koanf:"GPS_ENABLED"`
	GPSSerialPort  string  `koanf:"GPS_SERIAL_PORT" validate:"required_if=GPSEnabled true"`
	GPSBaudRate    uint    `koanf:"GPS_BAUD_RATE" validate:"required_if=GPSEnabled true"`
	NetworkEnabled bool    `koanf:"NETWORK_ENABLED"`
	MockEnabled    bool    `koanf:"MOCK_ENABLED"`
	MockLatitude   float64 `koanf:"MOCK_LATITUDE" validate:"latitude"`
	MockLongitude  float64 `koanf:"MOCK_LONGITUDE" validate:"longitude"`
	MockRadiusM    float64 `koanf:"MOCK_RADIUS_M" validate:"gt=0"`
	MockSpeedMps   float64 `koanf:"MOCK_SPEED_MPS" validate:"gte=0"`
	MockIntervalMs int     `koanf:"MOCK_INTERVAL_MS" validate:"gt=0"`

	// Web server
	WebServerPort int `koanf:"WEB_SERVER_PORT" validate:"min=1,max=65535"`
	// One-shot requests allowed per second, with LOCATION_RATE_BURST
	LocationRatePerSec float64 `koanf:"LOCATION_RATE_PER_SEC" validate:"gt=0"`
	LocationRateBurst  int     `koanf:"LOCATION_RATE_BURST" validate:"gt=0"`

	// Session defaults
	MinTimeMs    int64   `koanf:"MIN_TIME_MS" validate:"gte=0"`
	MinDistanceM float64 `koanf:"MIN_DISTANCE_M" validate:"gte=0"`
	NotifTitle   string  `koanf:"NOTIF_TITLE"`
	NotifText    string  `koanf:"NOTIF_TEXT"`
	AutoStart    bool    `koanf:"AUTO_START"`

	// One-shot
	OneShotTimeoutMs  int `koanf:"ONE_SHOT_TIMEOUT_MS" validate:"gt=0"`
	FreshnessWindowMs int `koanf:"FRESHNESS_WINDOW_MS" validate:"gt=0"`

	// Platform
	Permissions              string `koanf:"PERMISSIONS"`
	PermissionPollIntervalMs int    `koanf:"PERMISSION_POLL_INTERVAL_MS" validate:"gte=0"`
	ProviderRescanIntervalMs int    `koanf:"PROVIDER_RESCAN_INTERVAL_MS" validate:"gte=0"`

	// Delivery
	DeliveryTimeoutMs       int    `koanf:"DELIVERY_TIMEOUT_MS" validate:"gte=0"`
	BreakerFailureThreshold uint32 `koanf:"BREAKER_FAILURE_THRESHOLD" validate:"gt=0"`
	BreakerTimeoutMs        int    `koanf:"BREAKER_TIMEOUT_MS" validate:"gt=0"`

	// Mock network producer
	ProducerIntervalMs int `koanf:"PRODUCER_INTERVAL_MS" validate:"gt=0"`

	// Logging
	LogLevel  string `koanf:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFormat string `koanf:"LOG_FORMAT" validate:"oneof=console json"`
}

// EnvPrefix marks environment variables that override file values.
const EnvPrefix = "TRACKER_"

// ConfigPathEnvVar can point at the config file.
const ConfigPathEnvVar = "TRACKER_CONFIG"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"tracker_config.yaml",
	"/etc/fixtracker/tracker_config.yaml",
}

// Defaults returns the configuration used for any key not set elsewhere.
func Defaults() *Config {
	return &Config{
		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDTracker:  "fixtracker",
		MQTTClientIDConsole:  "fixtracker-console",
		MQTTClientIDProducer: "fixtracker-producer",

		TopicEvents:       "tracker/events",
		TopicStatus:       "tracker/status",
		TopicNetworkFixes: "tracker/network",
		TopicPermissions:  "tracker/permissions",

		GPSEnabled:     false,
		GPSSerialPort:  "/dev/serial0",
		GPSBaudRate:    9600,
		NetworkEnabled: true,
		MockEnabled:    false,
		MockLatitude:   48.1173,
		MockLongitude:  11.5167,
		MockRadiusM:    200,
		MockSpeedMps:   1.4,
		MockIntervalMs: 1000,

		WebServerPort:      8080,
		LocationRatePerSec: 1,
		LocationRateBurst:  3,

		MinTimeMs:    5 * 60 * 1000,
		MinDistanceM: 10,
		NotifTitle:   "Tracking location",
		NotifText:    "Background location is active",

		OneShotTimeoutMs:  15000,
		FreshnessWindowMs: 120000,

		Permissions:              "fine,background",
		PermissionPollIntervalMs: 5000,
		ProviderRescanIntervalMs: 10000,

		DeliveryTimeoutMs:       10000,
		BreakerFailureThreshold: 5,
		BreakerTimeoutMs:        30000,

		ProducerIntervalMs: 1000,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Global configuration instance.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load layers defaults, the YAML file and TRACKER_* environment variables,
// then validates the result. An empty configPath searches TRACKER_CONFIG
// and DefaultConfigPaths; a missing file there is not an error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		configPath = findConfigFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(s, EnvPrefix)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := permission.Parse(c.Permissions); err != nil {
		return fmt.Errorf("invalid config: PERMISSIONS: %w", err)
	}
	if !c.GPSEnabled && !c.NetworkEnabled && !c.MockEnabled {
		return fmt.Errorf("invalid config: at least one of GPS_ENABLED, NETWORK_ENABLED, MOCK_ENABLED must be true")
	}
	return nil
}

// GrantedPermissions parses PERMISSIONS. Validate has already checked it.
func (c *Config) GrantedPermissions() permission.Set {
	s, _ := permission.Parse(c.Permissions)
	return s
}

// Ms converts a *_MS value to a duration.
func Ms[T int | int64](v T) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
