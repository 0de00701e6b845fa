package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Operating modes.
const (
	// ModeServer exposes local entities to remote clients.
	ModeServer = "server"

	// ModeClient mirrors entities from a remote server.
	ModeClient = "client"
)

// Host platform adapters available in server mode.
const (
	// HostMemory keeps entity state in process (standalone and development).
	HostMemory = "memory"

	// HostMQTT talks to the host platform over an MQTT broker.
	HostMQTT = "mqtt"
)

// Local mirror outputs available in client mode.
const (
	// PublishNone keeps the mirror in process only.
	PublishNone = "none"

	// PublishMQTT publishes the mirror on the MQTT broker.
	PublishMQTT = "mqtt"
)

// minSharedSecretLength is the minimum accepted shared secret length.
const minSharedSecretLength = 32

// Config is the root configuration structure for Gray Logic Sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Mode      string          `yaml:"mode"`
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Exposure  ExposureConfig  `yaml:"exposure"`
	Host      HostConfig      `yaml:"host"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Client    ClientConfig    `yaml:"client"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	BasePath string           `yaml:"base_path"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains Sync Channel settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
	AuthTimeout    int `yaml:"auth_timeout"`
	SendBuffer     int `yaml:"send_buffer"`
}

// SecurityConfig contains credential settings.
type SecurityConfig struct {
	// SharedSecret signs client tokens and authorises registration and
	// operator endpoints. It must be identical on server and client.
	SharedSecret string `yaml:"shared_secret"`

	// TokenTTLDays is the client token lifetime.
	TokenTTLDays int `yaml:"token_ttl_days"`

	// UniqueClientNames rejects registration of a name already in use.
	UniqueClientNames bool `yaml:"unique_client_names"`
}

// ExposureConfig lists the entities the server shares with clients.
// Readable and controllable are configured independently.
type ExposureConfig struct {
	Readable     []string `yaml:"readable"`
	Controllable []string `yaml:"controllable"`
}

// HostConfig selects the host platform adapter used in server mode.
type HostConfig struct {
	Type           string `yaml:"type"`
	CommandTimeout int    `yaml:"command_timeout"`

	// Entities seeds the memory host.
	Entities []HostEntityConfig `yaml:"entities"`
}

// HostEntityConfig is an initial entity for the memory host.
type HostEntityConfig struct {
	ID         string         `yaml:"id"`
	State      string         `yaml:"state"`
	Attributes map[string]any `yaml:"attributes"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// InfluxDBConfig contains InfluxDB connection settings for sync telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ClientConfig contains settings used in client mode.
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`

	// ImportedEntities restricts mirroring to these ids. Empty mirrors all.
	ImportedEntities []string `yaml:"imported_entities"`

	// ReconnectInterval is the fixed delay between connection attempts (seconds).
	ReconnectInterval int `yaml:"reconnect_interval"`

	// CommandTimeout bounds how long a command may stay pending (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// DisconnectedAfter is the number of consecutive failed attempts after
	// which the client is flagged as disconnected.
	DisconnectedAfter int `yaml:"disconnected_after"`

	// ReadTimeout is how long the channel may stay silent before it is
	// considered dead (seconds). It must exceed the server's ping interval.
	ReadTimeout int `yaml:"read_timeout"`

	// Publish selects where the mirror is exposed locally: "none" or "mqtt".
	// With "mqtt" mirrored entities are published under mqtt.topic_prefix
	// and commands on their command topics are forwarded to the server.
	Publish string `yaml:"publish"`
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
// Environment variables follow the pattern: GRAYSYNC_SECTION_KEY
// For example: GRAYSYNC_DATABASE_PATH, GRAYSYNC_SHARED_SECRET
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
		Mode: ModeServer,
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic Sync",
		},
		Database: DatabaseConfig{
			Path:        "./data/graysync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8124,
			BasePath: "/api/sync",
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
			AuthTimeout:    10,
			SendBuffer:     256,
		},
		Security: SecurityConfig{
			TokenTTLDays: 365,
		},
		Host: HostConfig{
			Type:           HostMemory,
			CommandTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graysync",
			},
			QoS:         1,
			TopicPrefix: "graysync",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Client: ClientConfig{
			ReconnectInterval: 30,
			CommandTimeout:    10,
			DisconnectedAfter: 3,
			ReadTimeout:       45,
			Publish:           PublishNone,
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
	if v := os.Getenv("GRAYSYNC_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("GRAYSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GRAYSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYSYNC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("GRAYSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("GRAYSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GRAYSYNC_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("GRAYSYNC_CLIENT_TOKEN"); v != "" {
		cfg.Client.Token = v
	}

	// Always override the shared secret from the environment in production.
	if v := os.Getenv("GRAYSYNC_SHARED_SECRET"); v != "" {
		cfg.Security.SharedSecret = v
	}
}

// Validate checks the configuration for errors and security issues.
// A missing or weak shared secret is a configuration error and fatal at startup.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch c.Mode {
	case ModeServer:
		errs = append(errs, c.validateServer()...)
	case ModeClient:
		errs = append(errs, c.validateClient()...)
	default:
		errs = append(errs, fmt.Sprintf("mode must be %q or %q", ModeServer, ModeClient))
	}

	if c.Security.SharedSecret == "" {
		errs = append(errs, "security.shared_secret is required (set GRAYSYNC_SHARED_SECRET environment variable)")
	} else if len(c.Security.SharedSecret) < minSharedSecretLength {
		errs = append(errs, "security.shared_secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateServer() []string {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.BasePath != "" && !strings.HasPrefix(c.API.BasePath, "/") {
		errs = append(errs, "api.base_path must start with /")
	}
	if c.Security.TokenTTLDays <= 0 {
		errs = append(errs, "security.token_ttl_days must be positive")
	}

	switch c.Host.Type {
	case HostMemory:
	case HostMQTT:
		errs = append(errs, c.validateMQTT()...)
	default:
		errs = append(errs, fmt.Sprintf("host.type must be %q or %q", HostMemory, HostMQTT))
	}

	return errs
}

func (c *Config) validateClient() []string {
	var errs []string

	if c.Client.ServerURL == "" {
		errs = append(errs, "client.server_url is required")
	}
	if c.Client.Token == "" {
		errs = append(errs, "client.token is required (set GRAYSYNC_CLIENT_TOKEN environment variable)")
	}
	if c.Client.ReconnectInterval <= 0 {
		errs = append(errs, "client.reconnect_interval must be positive")
	}
	if c.Client.CommandTimeout <= 0 {
		errs = append(errs, "client.command_timeout must be positive")
	}
	if c.Client.ReadTimeout <= 0 {
		errs = append(errs, "client.read_timeout must be positive")
	}
	switch c.Client.Publish {
	case PublishNone:
	case PublishMQTT:
		errs = append(errs, c.validateMQTT()...)
	default:
		errs = append(errs, fmt.Sprintf("client.publish must be %q or %q", PublishNone, PublishMQTT))
	}

	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}
	return errs
}

// TokenTTL returns the client token lifetime as a Duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.TokenTTLDays) * 24 * time.Hour
}

// ReconnectDelay returns the client reconnect delay as a Duration.
func (c *ClientConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Second
}

// IdleTimeout returns the client read timeout as a Duration.
func (c *ClientConfig) IdleTimeout() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// PendingTimeout returns the client command timeout as a Duration.
func (c *ClientConfig) PendingTimeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}
