package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Router tuning limits.
const (
	// MinStatusIntervalMs is the floor for the status reporting interval.
	// Smaller configured values are clamped up to this.
	MinStatusIntervalMs = 500

	// MaxPixelsPerUniverse is the most RGB pixels a 512-byte universe can carry.
	MaxPixelsPerUniverse = 170

	// MaxUniverseChannels is the DMX-512 payload size.
	MaxUniverseChannels = 512
)

// Config is the root configuration structure for Flamecaster.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Router     RouterConfig     `yaml:"router"`
	Listener   ListenerConfig   `yaml:"listener"`
	Pixelblaze PixelblazeConfig `yaml:"pixelblaze"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Database   DatabaseConfig   `yaml:"database"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// RouterConfig contains timing and buffering settings for the routing engine.
type RouterConfig struct {
	// OutputIntervalMs is the minimum delay between output cycles.
	// Default: 33 (about 30 frames per second).
	OutputIntervalMs int `yaml:"output_interval_ms"`

	// StatusIntervalMs is how often throughput snapshots are computed.
	// Default: 3000. Floor: 500.
	StatusIntervalMs int `yaml:"status_interval_ms"`

	// CooldownSeconds is how long the control loop sleeps after a fault.
	// Default: 5.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// SendTimeoutMs bounds a single device send.
	// Default: 1000.
	SendTimeoutMs int `yaml:"send_timeout_ms"`

	// PixelsPerUniverse is the fragment size used when a universe entry
	// omits pixel_count. Clamped to 1..170.
	PixelsPerUniverse int `yaml:"pixels_per_universe"`

	// StatusBuffer is the capacity of the outbound status channel.
	StatusBuffer int `yaml:"status_buffer"`

	// CommandBuffer is the capacity of the inbound command channel.
	CommandBuffer int `yaml:"command_buffer"`

	// ObserverTTLMs is how long an "observe" heartbeat keeps an observer live.
	ObserverTTLMs int `yaml:"observer_ttl_ms"`
}

// ListenerConfig contains Art-Net receive settings.
type ListenerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// PixelblazeConfig contains connection settings shared by all Pixelblaze devices.
type PixelblazeConfig struct {
	Port                int `yaml:"port"`
	DialTimeoutMs       int `yaml:"dial_timeout_ms"`
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// PanelDir serves the monitor page from disk instead of the embedded
	// copy. Empty uses the embedded assets.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket observer settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig describes one LED controller and the universes that feed it.
type DeviceConfig struct {
	ID               int              `yaml:"id"`
	Name             string           `yaml:"name"`
	Address          string           `yaml:"address"`
	PixelCount       int              `yaml:"pixel_count"`
	ChannelsPerPixel int              `yaml:"channels_per_pixel"`
	Universes        []UniverseConfig `yaml:"universes"`
}

// UniverseConfig maps part of one universe into part of a device buffer.
type UniverseConfig struct {
	Net          int `yaml:"net"`
	Subnet       int `yaml:"subnet"`
	Universe     int `yaml:"universe"`
	StartChannel int `yaml:"start_channel"`
	DestIndex    int `yaml:"dest_index"`
	PixelCount   int `yaml:"pixel_count"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Normalisation (clamps and per-device defaults)
//
// Environment variables follow the pattern: FLAMECASTER_SECTION_KEY
// For example: FLAMECASTER_MQTT_HOST, FLAMECASTER_DATABASE_PATH
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
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Router: RouterConfig{
			OutputIntervalMs:  33,
			StatusIntervalMs:  3000,
			CooldownSeconds:   5,
			SendTimeoutMs:     1000,
			PixelsPerUniverse: MaxPixelsPerUniverse,
			StatusBuffer:      64,
			CommandBuffer:     16,
			ObserverTTLMs:     10000,
		},
		Listener: ListenerConfig{
			Address: "0.0.0.0",
			Port:    6454,
		},
		Pixelblaze: PixelblazeConfig{
			Port:                81,
			DialTimeoutMs:       1000,
			ReconnectIntervalMs: 2000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "flamecaster",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/flamecaster.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLAMECASTER_LISTEN_ADDRESS"); v != "" {
		cfg.Listener.Address = v
	}

	if v := os.Getenv("FLAMECASTER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLAMECASTER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLAMECASTER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("FLAMECASTER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("FLAMECASTER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FLAMECASTER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// normalise clamps tunables into range and fills per-device defaults.
func (c *Config) normalise() {
	c.Router.PixelsPerUniverse = max(1, min(c.Router.PixelsPerUniverse, MaxPixelsPerUniverse))
	c.Router.StatusIntervalMs = max(MinStatusIntervalMs, c.Router.StatusIntervalMs)

	for i := range c.Devices {
		d := &c.Devices[i]
		if d.ChannelsPerPixel == 0 {
			d.ChannelsPerPixel = 3
		}
		for j := range d.Universes {
			if d.Universes[j].PixelCount == 0 {
				d.Universes[j].PixelCount = c.Router.PixelsPerUniverse
			}
		}
	}
}

// Validate checks the configuration for errors.
//
// Fragment bounds against buffer and payload sizes are checked when the
// topology table is built; Validate covers field ranges only.
func (c *Config) Validate() error {
	var errs []string

	if c.Router.OutputIntervalMs < 1 {
		errs = append(errs, "router.output_interval_ms must be at least 1")
	}
	if c.Router.CooldownSeconds < 1 {
		errs = append(errs, "router.cooldown_seconds must be at least 1")
	}
	if c.Router.SendTimeoutMs < 1 {
		errs = append(errs, "router.send_timeout_ms must be at least 1")
	}
	if c.Router.StatusBuffer < 1 || c.Router.CommandBuffer < 1 {
		errs = append(errs, "router.status_buffer and router.command_buffer must be at least 1")
	}

	if c.Listener.Port < 1 || c.Listener.Port > 65535 {
		errs = append(errs, "listener.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(c.Devices) == 0 {
		errs = append(errs, "at least one device is required")
	}
	seen := make(map[int]bool, len(c.Devices))
	for _, d := range c.Devices {
		errs = append(errs, d.validate(seen)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks a single device entry, recording its ID in seen.
func (d DeviceConfig) validate(seen map[int]bool) []string {
	var errs []string
	prefix := fmt.Sprintf("devices[%d]", d.ID)

	if d.ID < 1 {
		errs = append(errs, prefix+": id must be positive")
	}
	if seen[d.ID] {
		errs = append(errs, prefix+": duplicate id")
	}
	seen[d.ID] = true

	if d.Name == "" {
		errs = append(errs, prefix+": name is required")
	}
	if d.Address == "" {
		errs = append(errs, prefix+": address is required")
	}
	if d.PixelCount < 1 {
		errs = append(errs, prefix+": pixel_count must be positive")
	}
	if d.ChannelsPerPixel < 1 || d.ChannelsPerPixel > 4 {
		errs = append(errs, prefix+": channels_per_pixel must be between 1 and 4")
	}

	for i, u := range d.Universes {
		if u.Net < 0 || u.Net > 127 || u.Subnet < 0 || u.Subnet > 15 || u.Universe < 0 || u.Universe > 15 {
			errs = append(errs, fmt.Sprintf("%s.universes[%d]: net/subnet/universe out of range", prefix, i))
		}
		if u.StartChannel < 0 || u.DestIndex < 0 || u.PixelCount < 1 {
			errs = append(errs, fmt.Sprintf("%s.universes[%d]: negative offset or empty fragment", prefix, i))
		}
	}

	return errs
}

// OutputInterval returns the output cycle delay as a Duration.
func (c *Config) OutputInterval() time.Duration {
	return time.Duration(c.Router.OutputIntervalMs) * time.Millisecond
}

// StatusInterval returns the status reporting interval as a Duration.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Router.StatusIntervalMs) * time.Millisecond
}

// Cooldown returns the post-fault cooldown as a Duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Router.CooldownSeconds) * time.Second
}

// SendTimeout returns the per-device send timeout as a Duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Router.SendTimeoutMs) * time.Millisecond
}

// ObserverTTL returns how long an observe heartbeat remains valid.
func (c *Config) ObserverTTL() time.Duration {
	return time.Duration(c.Router.ObserverTTLMs) * time.Millisecond
}

// ListenAddress returns the host:port the Art-Net listener binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Listener.Address, c.Listener.Port)
}
