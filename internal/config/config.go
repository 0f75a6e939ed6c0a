package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string `env:"MQTT_BROKER"`
	MQTTClientIDLocator string `env:"MQTT_CLIENT_ID_LOCATOR" envDefault:"family-locator"`
	MQTTClientIDGPS     string `env:"MQTT_CLIENT_ID_GPS"     envDefault:"family-locator-gps"`
	MQTTClientIDConsole string `env:"MQTT_CLIENT_ID_CONSOLE" envDefault:"family-locator-console"`

	// Topics
	TopicFix        string `env:"TOPIC_FIX"         envDefault:"locator/fix"`
	TopicDenied     string `env:"TOPIC_DENIED"      envDefault:"locator/denied"`
	TopicError      string `env:"TOPIC_ERROR"       envDefault:"locator/error"`
	TopicAutoEnable string `env:"TOPIC_AUTO_ENABLE" envDefault:"locator/auto_enabled"`
	TopicRequest    string `env:"TOPIC_REQUEST"     envDefault:"locator/request"`
	TopicFeedPrefix string `env:"TOPIC_FEED_PREFIX" envDefault:"locator/feed"`

	// GPS receiver; an empty port leaves the GPS provider disabled
	GPSSerialPort string `env:"GPS_SERIAL_PORT"`
	GPSBaudRate   int    `env:"GPS_BAUD_RATE" envDefault:"9600"`

	// Cascade stage timeouts
	GPSTimeout     time.Duration `env:"GPS_TIMEOUT"     envDefault:"15s"`
	NetworkTimeout time.Duration `env:"NETWORK_TIMEOUT" envDefault:"10s"`
	CellTimeout    time.Duration `env:"CELL_TIMEOUT"    envDefault:"20s"`

	// IP geolocation
	GeolocateEndpoint       string        `env:"GEOLOCATE_ENDPOINT"        envDefault:"https://ipapi.co/json/"`
	GeolocateConnectTimeout time.Duration `env:"GEOLOCATE_CONNECT_TIMEOUT" envDefault:"10s"`
	GeolocateReadTimeout    time.Duration `env:"GEOLOCATE_READ_TIMEOUT"    envDefault:"10s"`

	// Parent dashboard; an empty URL disables reporting and polling
	DashboardURL          string        `env:"DASHBOARD_URL"`
	DashboardTimeout      time.Duration `env:"DASHBOARD_TIMEOUT"       envDefault:"15s"`
	DashboardRetries      int           `env:"DASHBOARD_RETRIES"       envDefault:"3"`
	DashboardPollInterval time.Duration `env:"DASHBOARD_POLL_INTERVAL" envDefault:"3s"`

	// Device
	DeviceID           string   `env:"DEVICE_ID"`
	GrantedPermissions []string `env:"GRANTED_PERMISSIONS" envDefault:"fine,coarse" envSeparator:","`
	CellID             string   `env:"CELL_ID"`
	CellOperator       string   `env:"CELL_OPERATOR"`

	// Connectivity probe; empty means always online
	ConnectivityProbe        string        `env:"CONNECTIVITY_PROBE"         envDefault:"ipapi.co:443"`
	ConnectivityProbeTimeout time.Duration `env:"CONNECTIVITY_PROBE_TIMEOUT" envDefault:"3s"`

	// Web Server
	WebServerPort int `env:"WEB_SERVER_PORT" envDefault:"8080"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the KEY=VALUE configuration file and returns a Config struct.
// Variables set in the process environment override the file.
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			values[k] = v
		}
	}
	return parse(values)
}

func parse(values map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: values}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.GPSSerialPort != "" && c.GPSBaudRate <= 0 {
		return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", c.GPSBaudRate)
	}
	if c.GPSTimeout <= 0 || c.NetworkTimeout <= 0 || c.CellTimeout <= 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}
	if c.DashboardURL != "" && c.DashboardPollInterval <= 0 {
		return fmt.Errorf("DASHBOARD_POLL_INTERVAL must be positive")
	}
	if c.DashboardRetries < 0 {
		return fmt.Errorf("DASHBOARD_RETRIES must not be negative, got %d", c.DashboardRetries)
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
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
