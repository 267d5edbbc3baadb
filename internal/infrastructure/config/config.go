package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MeshCore bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	General      GeneralConfig       `yaml:"general"`
	Serial       SerialConfig        `yaml:"serial"`
	Topics       TopicsConfig        `yaml:"topics"`
	Destinations []DestinationConfig `yaml:"destinations"`
	RemoteSerial RemoteSerialConfig  `yaml:"remote_serial"`
	Database     DatabaseConfig      `yaml:"database"`
	InfluxDB     InfluxDBConfig      `yaml:"influxdb"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// GeneralConfig contains deployment-wide settings.
type GeneralConfig struct {
	// IATA is the three-letter site code used to namespace topics.
	IATA string `yaml:"iata"`

	// SyncTime enables the bounded wait for system clock synchronisation
	// at startup, and setting the repeater clock afterwards.
	SyncTime bool `yaml:"sync_time"`

	// Debug enables forwarding of DEBUG serial lines to the debug topic.
	Debug bool `yaml:"debug"`
}

// SerialConfig contains serial device settings.
type SerialConfig struct {
	// Ports is the list of candidate device paths, tried in order.
	Ports []string `yaml:"ports"`

	// BaudRate is the serial line speed. Default: 115200.
	BaudRate int `yaml:"baud_rate"`

	// ReadTimeout bounds a single line read (seconds). Default: 2.
	ReadTimeout int `yaml:"read_timeout"`

	// CommandTimeout bounds a device query (seconds). Default: 10.
	CommandTimeout int `yaml:"command_timeout"`

	// WatchdogTimeout forces a reopen when no data has arrived for this
	// many seconds. Default: 900.
	WatchdogTimeout int `yaml:"watchdog_timeout"`
}

// TopicsConfig contains topic templates.
// Templates may use the {IATA} and {PUBLIC_KEY} placeholders.
type TopicsConfig struct {
	IATA      string `yaml:"iata"` // per-destination IATA override only
	Status    string `yaml:"status"`
	Packets   string `yaml:"packets"`
	Debug     string `yaml:"debug"`
	Raw       string `yaml:"raw"`
	Commands  string `yaml:"commands"`
	Responses string `yaml:"responses"`
}

// DestinationConfig describes one publish/subscribe broker connection target.
// Destinations are loaded once and never mutated at runtime.
type DestinationConfig struct {
	// Name is the unique key identifying this destination in logs and stats.
	Name string `yaml:"name"`

	// Enabled gates whether a session is created for this destination.
	Enabled bool `yaml:"enabled"`

	Server    string `yaml:"server"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"` // "tcp" or "websockets"
	KeepAlive int    `yaml:"keepalive"` // seconds
	QoS       int    `yaml:"qos"`

	// Retain marks status publishes (the last-will and the connect-time
	// announcement) as retained. Omitted means retained.
	Retain *bool `yaml:"retain"`

	TLS    TLSConfig    `yaml:"tls"`
	Auth   AuthConfig   `yaml:"auth"`
	Topics TopicsConfig `yaml:"topics"` // per-destination overrides, empty = use global

	// ClientIDPrefix prefixes the sanitised MQTT client identifier.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// RetainStatus reports whether status publishes on this destination are
// retained. Unset defaults to retained.
func (d DestinationConfig) RetainStatus() bool {
	return d.Retain == nil || *d.Retain
}

// TLSConfig contains the TLS policy for a destination.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`
	Verify  bool `yaml:"verify"`
}

// AuthConfig contains the authentication policy for a destination.
type AuthConfig struct {
	// Method is one of "none", "password", or "token".
	Method   string `yaml:"method"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Audience is the token audience claim when Method is "token".
	Audience string `yaml:"audience"`

	// Owner and Email are optional claims included in auth tokens,
	// only when the destination uses verified TLS.
	Owner string `yaml:"owner"`
	Email string `yaml:"email"`
}

// RemoteSerialConfig contains the remote command channel settings.
type RemoteSerialConfig struct {
	Enabled bool `yaml:"enabled"`

	// AllowedCompanions lists issuer public keys (64 hex chars) permitted
	// to submit commands.
	AllowedCompanions []string `yaml:"allowed_companions"`

	// DisallowedCommands lists command prefixes that are never executed.
	DisallowedCommands []string `yaml:"disallowed_commands"`

	// NonceTTL is how long an accepted nonce blocks replays (seconds).
	NonceTTL int `yaml:"nonce_ttl"`

	// CommandTimeout bounds remote command execution (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// ExpiryWindow is the maximum accepted request age (seconds).
	ExpiryWindow int `yaml:"expiry_window"`
}

// DatabaseConfig contains SQLite settings for the nonce store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains the optional signal-metrics sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MCTOMQTT_SECTION_KEY
// For example: MCTOMQTT_SERIAL_PORT, MCTOMQTT_GENERAL_IATA
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			IATA:     "XXX",
			SyncTime: true,
		},
		Serial: SerialConfig{
			Ports:           []string{"/dev/ttyACM0", "/dev/ttyUSB0"},
			BaudRate:        115200,
			ReadTimeout:     2,
			CommandTimeout:  10,
			WatchdogTimeout: 900,
		},
		Topics: TopicsConfig{
			Status:    "meshcore/{IATA}/{PUBLIC_KEY}/status",
			Packets:   "meshcore/{IATA}/{PUBLIC_KEY}/packets",
			Debug:     "meshcore/{IATA}/{PUBLIC_KEY}/debug",
			Raw:       "meshcore/{IATA}/{PUBLIC_KEY}/raw",
			Commands:  "meshcore/{IATA}/{PUBLIC_KEY}/serial/commands",
			Responses: "meshcore/{IATA}/{PUBLIC_KEY}/serial/responses",
		},
		RemoteSerial: RemoteSerialConfig{
			DisallowedCommands: []string{"get prv.key", "set prv.key", "erase", "password"},
			NonceTTL:           120,
			CommandTimeout:     10,
			ExpiryWindow:       30,
		},
		Database: DatabaseConfig{
			Path:        "./data/mctomqtt.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MCTOMQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCTOMQTT_GENERAL_IATA"); v != "" {
		cfg.General.IATA = v
	}
	if v := os.Getenv("MCTOMQTT_SERIAL_PORT"); v != "" {
		cfg.Serial.Ports = []string{v}
	}
	if v := os.Getenv("MCTOMQTT_SERIAL_BAUD_RATE"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.Serial.BaudRate = baud
		}
	}
	if v := os.Getenv("MCTOMQTT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MCTOMQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("MCTOMQTT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors that must be fatal at startup.
func (c *Config) Validate() error {
	if len(c.General.IATA) != 3 {
		return fmt.Errorf("general.iata must be a three-letter code, got %q", c.General.IATA)
	}
	if len(c.Serial.Ports) == 0 {
		return fmt.Errorf("serial.ports must list at least one device path")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}

	seen := make(map[string]bool, len(c.Destinations))
	enabled := 0
	for i := range c.Destinations {
		d := &c.Destinations[i]
		if err := d.validate(); err != nil {
			return fmt.Errorf("destination %d: %w", i, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate destination name %q", d.Name)
		}
		seen[d.Name] = true
		if d.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled destinations configured")
	}

	if c.RemoteSerial.Enabled {
		for _, key := range c.RemoteSerial.AllowedCompanions {
			if !isHexKey(key, 64) {
				return fmt.Errorf("remote_serial.allowed_companions: invalid public key %q", truncateKey(key))
			}
		}
	}

	return nil
}

// validate checks a single destination definition.
func (d *DestinationConfig) validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !d.Enabled {
		return nil
	}
	if d.Server == "" {
		return fmt.Errorf("server is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("port %d out of range", d.Port)
	}
	switch d.Transport {
	case "", "tcp", "websockets":
	default:
		return fmt.Errorf("transport must be tcp or websockets, got %q", d.Transport)
	}
	switch d.Auth.Method {
	case "", "none":
	case "password":
		if d.Auth.Username == "" {
			return fmt.Errorf("auth.username is required for password auth")
		}
	case "token":
		if d.Auth.Audience == "" {
			return fmt.Errorf("auth.audience is required for token auth")
		}
	default:
		return fmt.Errorf("auth.method must be none, password, or token, got %q", d.Auth.Method)
	}
	if d.QoS < 0 || d.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1, or 2, got %d", d.QoS)
	}
	return nil
}

// isHexKey reports whether s is exactly n hex characters.
func isHexKey(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// truncateKey shortens key material for error messages.
func truncateKey(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
