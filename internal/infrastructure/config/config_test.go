package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
general:
  iata: "PDX"
serial:
  ports: ["/dev/ttyACM0"]
  baud_rate: 115200
destinations:
  - name: "local"
    enabled: true
    server: "localhost"
    port: 1883
    transport: "tcp"
    qos: 0
  - name: "cloud"
    enabled: true
    server: "mqtt.example.com"
    port: 443
    transport: "websockets"
    tls:
      enabled: true
      verify: true
    auth:
      method: "token"
      audience: "mqtt.example.com"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.General.IATA != "PDX" {
		t.Errorf("General.IATA = %q, want %q", cfg.General.IATA, "PDX")
	}
	if len(cfg.Destinations) != 2 {
		t.Fatalf("len(Destinations) = %d, want 2", len(cfg.Destinations))
	}
	if cfg.Destinations[1].Auth.Method != "token" {
		t.Errorf("Destinations[1].Auth.Method = %q, want %q", cfg.Destinations[1].Auth.Method, "token")
	}
	// Defaults survive partial files.
	if cfg.Serial.WatchdogTimeout != 900 {
		t.Errorf("Serial.WatchdogTimeout = %d, want default 900", cfg.Serial.WatchdogTimeout)
	}
	if cfg.RemoteSerial.NonceTTL != 120 {
		t.Errorf("RemoteSerial.NonceTTL = %d, want default 120", cfg.RemoteSerial.NonceTTL)
	}
	if !strings.Contains(cfg.Topics.Packets, "{PUBLIC_KEY}") {
		t.Errorf("Topics.Packets default = %q, missing placeholder", cfg.Topics.Packets)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Destinations = []DestinationConfig{{
			Name:    "local",
			Enabled: true,
			Server:  "localhost",
			Port:    1883,
		}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "bad iata",
			mutate:  func(c *Config) { c.General.IATA = "PORTLAND" },
			wantErr: "iata",
		},
		{
			name:    "no destinations",
			mutate:  func(c *Config) { c.Destinations = nil },
			wantErr: "no enabled destinations",
		},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Destinations = append(c.Destinations, c.Destinations[0])
			},
			wantErr: "duplicate destination name",
		},
		{
			name: "token auth without audience",
			mutate: func(c *Config) {
				c.Destinations[0].Auth.Method = "token"
			},
			wantErr: "audience",
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.Destinations[0].Transport = "carrier-pigeon"
			},
			wantErr: "transport",
		},
		{
			name: "invalid companion key",
			mutate: func(c *Config) {
				c.RemoteSerial.Enabled = true
				c.RemoteSerial.AllowedCompanions = []string{"not-a-key"}
			},
			wantErr: "invalid public key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
general:
  iata: "PDX"
destinations:
  - name: "local"
    enabled: true
    server: "localhost"
    port: 1883
`
	t.Setenv("MCTOMQTT_GENERAL_IATA", "SEA")
	t.Setenv("MCTOMQTT_SERIAL_PORT", "/dev/ttyUSB7")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.General.IATA != "SEA" {
		t.Errorf("General.IATA = %q, want env override %q", cfg.General.IATA, "SEA")
	}
	if len(cfg.Serial.Ports) != 1 || cfg.Serial.Ports[0] != "/dev/ttyUSB7" {
		t.Errorf("Serial.Ports = %v, want [/dev/ttyUSB7]", cfg.Serial.Ports)
	}
}
