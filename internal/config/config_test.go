package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locator_config.txt")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "# device\nMQTT_BROKER=tcp://localhost:1883\nDEVICE_ID=kid-phone\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GPSTimeout != 15*time.Second || cfg.NetworkTimeout != 10*time.Second || cfg.CellTimeout != 20*time.Second {
		t.Fatalf("stage timeouts = %v/%v/%v", cfg.GPSTimeout, cfg.NetworkTimeout, cfg.CellTimeout)
	}
	if cfg.GeolocateEndpoint != "https://ipapi.co/json/" {
		t.Fatalf("endpoint = %q", cfg.GeolocateEndpoint)
	}
	if !reflect.DeepEqual(cfg.GrantedPermissions, []string{"fine", "coarse"}) {
		t.Fatalf("permissions = %v", cfg.GrantedPermissions)
	}
	if cfg.DashboardPollInterval != 3*time.Second || cfg.WebServerPort != 8080 {
		t.Fatalf("poll = %v, port = %d", cfg.DashboardPollInterval, cfg.WebServerPort)
	}
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"MQTT_BROKER=tcp://broker:1883",
		"DEVICE_ID=kid-phone",
		"GPS_SERIAL_PORT=/dev/ttyUSB0",
		"GPS_BAUD_RATE=4800",
		"GPS_TIMEOUT=30s",
		"GRANTED_PERMISSIONS=coarse",
		"CELL_ID=4021",
		"CELL_OPERATOR=40445",
		"DASHBOARD_URL=https://dashboard.example.com",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GPSSerialPort != "/dev/ttyUSB0" || cfg.GPSBaudRate != 4800 {
		t.Fatalf("gps = %q @ %d", cfg.GPSSerialPort, cfg.GPSBaudRate)
	}
	if cfg.GPSTimeout != 30*time.Second {
		t.Fatalf("GPS_TIMEOUT = %v, want 30s", cfg.GPSTimeout)
	}
	if !reflect.DeepEqual(cfg.GrantedPermissions, []string{"coarse"}) {
		t.Fatalf("permissions = %v", cfg.GrantedPermissions)
	}
	if cfg.CellID != "4021" || cfg.CellOperator != "40445" {
		t.Fatalf("cell = %q/%q", cfg.CellID, cfg.CellOperator)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "MQTT_BROKER=tcp://file:1883\nDEVICE_ID=from-file\n")
	t.Setenv("DEVICE_ID", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeviceID != "from-env" {
		t.Fatalf("DEVICE_ID = %q, want from-env", cfg.DeviceID)
	}
	if cfg.MQTTBroker != "tcp://file:1883" {
		t.Fatalf("MQTT_BROKER = %q", cfg.MQTTBroker)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing broker", "DEVICE_ID=x\n", "MQTT_BROKER"},
		{"missing device", "MQTT_BROKER=tcp://b:1883\n", "DEVICE_ID"},
		{"bad duration", "MQTT_BROKER=tcp://b:1883\nDEVICE_ID=x\nGPS_TIMEOUT=soon\n", "parse config"},
		{"bad port", "MQTT_BROKER=tcp://b:1883\nDEVICE_ID=x\nWEB_SERVER_PORT=70000\n", "WEB_SERVER_PORT"},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want mention of %s", tc.name, err, tc.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatalf("Load of missing file succeeded")
	}
}
