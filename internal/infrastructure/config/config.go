package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for LightLink Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Lighting  LightingConfig  `yaml:"lighting"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	Session   MQTTSessionConfig   `yaml:"session"`
	Will      MQTTWillConfig      `yaml:"will"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Health    MQTTHealthConfig    `yaml:"health"`
	Damping   MQTTDampingConfig   `yaml:"damping"`
	QoS       int                 `yaml:"qos"`

	// Topics are subscribed on every successful connect.
	Topics []string `yaml:"topics"`
}

// Transport kinds accepted by mqtt.broker.transport.
const (
	TransportTCP = "tcp"
	TransportTLS = "tls"
	TransportWS  = "ws"
	TransportWSS = "wss"
)

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	ClientID  string `yaml:"client_id"`
	Transport string `yaml:"transport"`

	// InsecureSkipVerify disables certificate validation for tls/wss.
	// Never enable this outside a lab network.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	CAFile      string        `yaml:"ca_file"`
	ServerName  string        `yaml:"server_name"`
	WSPath      string        `yaml:"ws_path"`
	ProxyURL    string        `yaml:"proxy_url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
//
// When TokenSecret is set, a short-lived signed token is minted for every
// connection attempt and sent as the password.
type MQTTAuthConfig struct {
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TokenSecret     string `yaml:"token_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// MQTTSessionConfig contains per-connection protocol settings.
type MQTTSessionConfig struct {
	// KeepAlive is the keepalive advertised in CONNECT, in seconds.
	KeepAlive    int  `yaml:"keepalive"`
	CleanSession bool `yaml:"clean_session"`

	// ConnAckTimeout bounds the wait for CONNACK. Zero connects optimistically.
	ConnAckTimeout time.Duration `yaml:"connack_timeout"`

	// StartupDelay postpones the first connect after the daemon starts.
	StartupDelay time.Duration `yaml:"startup_delay"`
}

// MQTTWillConfig is the Last Will and Testament registered with the broker.
type MQTTWillConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxExponent  int           `yaml:"max_exponent"`
}

// MQTTHealthConfig controls the periodic connection health task.
type MQTTHealthConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// MQTTDampingConfig controls how long a drop must persist before it is reported.
type MQTTDampingConfig struct {
	Window time.Duration `yaml:"window"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// JournalConfig contains settings for the SQLite event journal.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxEntries  int    `yaml:"max_entries"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// APIAuthConfig enables bearer-token authentication on the API.
// An empty TokenSecret leaves the API open.
type APIAuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
}

// DiscoveryConfig controls mDNS broker discovery.
type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Service string        `yaml:"service"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// LightingConfig contains settings for the lighting controller.
type LightingConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ConfigurationError collects every validation problem found in a configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration errors: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LIGHTLINK_SECTION_KEY
// For example: LIGHTLINK_MQTT_HOST, LIGHTLINK_JOURNAL_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "LightLink",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:        "localhost",
				Port:        1883,
				ClientID:    "lightlink-core",
				Transport:   TransportTCP,
				WSPath:      "/mqtt",
				DialTimeout: 10 * time.Second,
			},
			Auth: MQTTAuthConfig{
				TokenTTLMinutes: 60,
			},
			Session: MQTTSessionConfig{
				KeepAlive:      30,
				CleanSession:   true,
				ConnAckTimeout: 10 * time.Second,
			},
			Will: MQTTWillConfig{
				Enabled: true,
				Topic:   "client/status",
				QoS:     1,
				Retain:  true,
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 3 * time.Second,
				MaxDelay:     60 * time.Second,
				Multiplier:   1.5,
				MaxExponent:  10,
			},
			Health: MQTTHealthConfig{
				Interval:   30 * time.Second,
				StaleAfter: 120 * time.Second,
			},
			Damping: MQTTDampingConfig{
				Window: 10 * time.Second,
			},
			QoS:    1,
			Topics: []string{"alarm", "sensor/data", "time", "control", "status", "response"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/lightlink.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "./data/lightlink.db",
			MaxEntries:  500,
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Discovery: DiscoveryConfig{
			Service: "_mqtt._tcp",
			Domain:  "local.",
			Timeout: 5 * time.Second,
		},
		Lighting: LightingConfig{
			HeartbeatInterval: 15 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LIGHTLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Site
	if v := os.Getenv("LIGHTLINK_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	// MQTT
	if v := os.Getenv("LIGHTLINK_MQTT_SERVER"); v != "" {
		if err := applyServer(&cfg.MQTT.Broker, v); err != nil {
			return err
		}
	}
	if v := os.Getenv("LIGHTLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigurationError{Problems: []string{fmt.Sprintf("LIGHTLINK_MQTT_PORT %q is not a number", v)}}
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("LIGHTLINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("LIGHTLINK_MQTT_TOKEN_SECRET"); v != "" {
		cfg.MQTT.Auth.TokenSecret = v
	}

	// Journal
	if v := os.Getenv("LIGHTLINK_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// InfluxDB
	if v := os.Getenv("LIGHTLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("LIGHTLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LIGHTLINK_API_TOKEN_SECRET"); v != "" {
		cfg.API.Auth.TokenSecret = v
	}

	// Logging
	if v := os.Getenv("LIGHTLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// applyServer parses a "[scheme://]host:port" broker address. Recognised
// schemes are tcp, ssl/tls, ws and wss.
func applyServer(b *MQTTBrokerConfig, server string) error {
	bad := func(reason string) error {
		return &ConfigurationError{Problems: []string{fmt.Sprintf("mqtt server %q: %s", server, reason)}}
	}

	hostport := server
	if strings.Contains(server, "://") {
		u, err := url.Parse(server)
		if err != nil {
			return bad("unparsable address")
		}
		switch u.Scheme {
		case "tcp", "mqtt":
			b.Transport = TransportTCP
		case "ssl", "tls", "mqtts":
			b.Transport = TransportTLS
		case "ws":
			b.Transport = TransportWS
		case "wss":
			b.Transport = TransportWSS
		default:
			return bad("unknown scheme " + u.Scheme)
		}
		if u.Path != "" && u.Path != "/" {
			b.WSPath = u.Path
		}
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return bad("expected host:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return bad("port must be between 1 and 65535")
	}
	if host == "" {
		return bad("host is empty")
	}

	b.Host = host
	b.Port = port
	return nil
}

// Validate checks the configuration for errors.
//
// Returns a *ConfigurationError listing every problem, or nil.
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.MQTT.validate(c.Discovery.Enabled)...)

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr or file")
	}

	// Journal validation
	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			errs = append(errs, "journal.path is required when the journal is enabled")
		}
		if c.Journal.MaxEntries < 1 {
			errs = append(errs, "journal.max_entries must be positive")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if s := c.API.Auth.TokenSecret; s != "" && len(s) < minSecretLength {
			errs = append(errs, "api.auth.token_secret must be at least 32 characters")
		}
	}

	// Discovery validation
	if c.Discovery.Enabled && c.Discovery.Timeout <= 0 {
		errs = append(errs, "discovery.timeout must be positive")
	}

	if c.Lighting.HeartbeatInterval < 0 {
		errs = append(errs, "lighting.heartbeat_interval cannot be negative")
	}

	if len(errs) > 0 {
		return &ConfigurationError{Problems: errs}
	}

	return nil
}

// minSecretLength applies to every HMAC secret in the configuration.
const minSecretLength = 32

func (m *MQTTConfig) validate(discovery bool) []string {
	var errs []string

	if m.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if m.Broker.Host == "" && !discovery {
		errs = append(errs, "mqtt.broker.host is required unless discovery is enabled")
	}
	if m.Broker.Port < 1 || m.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	switch m.Broker.Transport {
	case TransportTCP, TransportTLS, TransportWS, TransportWSS:
	default:
		errs = append(errs, "mqtt.broker.transport must be tcp, tls, ws or wss")
	}
	if m.Broker.InsecureSkipVerify && m.Broker.Transport != TransportTLS && m.Broker.Transport != TransportWSS {
		errs = append(errs, "mqtt.broker.insecure_skip_verify requires transport tls or wss")
	}
	if m.Broker.ProxyURL != "" {
		if _, err := url.Parse(m.Broker.ProxyURL); err != nil {
			errs = append(errs, "mqtt.broker.proxy_url is not a valid URL")
		}
	}

	if s := m.Auth.TokenSecret; s != "" {
		if len(s) < minSecretLength {
			errs = append(errs, "mqtt.auth.token_secret must be at least 32 characters")
		}
		if m.Auth.TokenTTLMinutes < 1 {
			errs = append(errs, "mqtt.auth.token_ttl_minutes must be positive")
		}
	}

	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if m.Session.KeepAlive < 0 || m.Session.KeepAlive > 65535 {
		errs = append(errs, "mqtt.session.keepalive must be between 0 and 65535")
	}
	if m.Session.ConnAckTimeout < 0 {
		errs = append(errs, "mqtt.session.connack_timeout cannot be negative")
	}
	if m.Session.StartupDelay < 0 {
		errs = append(errs, "mqtt.session.startup_delay cannot be negative")
	}

	if m.Will.Enabled {
		if m.Will.Topic == "" {
			errs = append(errs, "mqtt.will.topic is required when the will is enabled")
		}
		if m.Will.QoS < 0 || m.Will.QoS > 2 {
			errs = append(errs, "mqtt.will.qos must be 0, 1, or 2")
		}
	}

	if m.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be positive")
	}
	if m.Reconnect.MaxDelay < m.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be below initial_delay")
	}
	if m.Reconnect.Multiplier < 1 {
		errs = append(errs, "mqtt.reconnect.multiplier must be at least 1")
	}
	if m.Reconnect.MaxExponent < 0 {
		errs = append(errs, "mqtt.reconnect.max_exponent cannot be negative")
	}

	if m.Health.Interval <= 0 {
		errs = append(errs, "mqtt.health.interval must be positive")
	}
	if m.Health.StaleAfter <= 0 {
		errs = append(errs, "mqtt.health.stale_after must be positive")
	}
	if m.Damping.Window < 0 {
		errs = append(errs, "mqtt.damping.window cannot be negative")
	}

	for _, topic := range m.Topics {
		if topic == "" {
			errs = append(errs, "mqtt.topics cannot contain an empty topic")
			break
		}
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a time.Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a time.Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a time.Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
