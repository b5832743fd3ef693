package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Default broker ports.
const (
	DefaultMQTTPort    = 1883
	DefaultMQTTTLSPort = 8883
	DefaultNATSPort    = 4222
)

// Config is the root configuration structure for meshbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Transport TransportConfig `yaml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	Topic     TopicConfig     `yaml:"topic"`
	TLS       TLSConfig       `yaml:"tls"`
	Link      LinkConfig      `yaml:"link"`
	Radio     RadioConfig     `yaml:"radio"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains packet bridging behaviour.
type BridgeConfig struct {
	FrameVersion   int  `yaml:"frame_version"`
	QoS            int  `yaml:"qos"`
	RelayAware     bool `yaml:"relay_aware"`
	SelfHash       int  `yaml:"self_hash"`
	DedupCapacity  int  `yaml:"dedup_capacity"`
	TickInterval   int  `yaml:"tick_interval_ms"`
	StatusInterval int  `yaml:"status_interval"`
	PacketPool     int  `yaml:"packet_pool"`
	RadioQueue     int  `yaml:"radio_queue"`
}

// TransportConfig selects the broker and identifies this node to it.
type TransportConfig struct {
	Kind     string     `yaml:"kind"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	ClientID string     `yaml:"client_id"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig contains broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTConfig contains MQTT client settings.
type MQTTConfig struct {
	KeepAlive      int  `yaml:"keep_alive"`
	PublishTimeout int  `yaml:"publish_timeout"`
	CleanSession   bool `yaml:"clean_session"`
}

// NATSConfig contains NATS client settings.
type NATSConfig struct {
	Name         string `yaml:"name"`
	PingInterval int    `yaml:"ping_interval"`
	FlushTimeout int    `yaml:"flush_timeout"`
}

// TopicConfig contains topic layout settings.
type TopicConfig struct {
	Base        string `yaml:"base"`
	Partitioned bool   `yaml:"partitioned"`
}

// TLSConfig contains broker TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Insecure bool   `yaml:"insecure"`
	CertDir  string `yaml:"cert_dir"`
}

// LinkConfig contains reconnect pacing, in seconds.
type LinkConfig struct {
	LinkReconnectInterval int `yaml:"link_reconnect_interval"`
	InitialLinkTimeout    int `yaml:"initial_link_timeout"`
	LinkConnectTimeout    int `yaml:"link_connect_timeout"`
	ReconnectInterval     int `yaml:"reconnect_interval"`
	SessionConnectTimeout int `yaml:"session_connect_timeout"`
}

// RadioConfig contains serial radio settings.
type RadioConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// MetricsConfig contains the status HTTP server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	Org            string `yaml:"org"`
	Bucket         string `yaml:"bucket"`
	BatchSize      int    `yaml:"batch_size"`
	FlushInterval  int    `yaml:"flush_interval"`
	ReportInterval int    `yaml:"report_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// Environment variables take precedence over file values. They follow the
// pattern MESHBRIDGE_SECTION_KEY, for example MESHBRIDGE_BROKER_HOST.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// LoadDefaults returns the defaults with environment overrides applied, for
// running without a config file.
func LoadDefaults() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			FrameVersion:   1,
			QoS:            0,
			DedupCapacity:  128,
			TickInterval:   100,
			StatusInterval: 60,
			PacketPool:     32,
			RadioQueue:     16,
		},
		Transport: TransportConfig{
			Kind: TransportMQTT,
			Host: "localhost",
		},
		MQTT: MQTTConfig{
			KeepAlive:      60,
			PublishTimeout: 5,
			CleanSession:   true,
		},
		NATS: NATSConfig{
			Name:         "meshbridge",
			PingInterval: 20,
			FlushTimeout: 5,
		},
		Topic: TopicConfig{
			Base:        "meshcore/bridge",
			Partitioned: true,
		},
		TLS: TLSConfig{
			CertDir: "./certs",
		},
		Link: LinkConfig{
			LinkReconnectInterval: 30,
			InitialLinkTimeout:    30,
			LinkConnectTimeout:    3,
			ReconnectInterval:     30,
			SessionConnectTimeout: 10,
		},
		Radio: RadioConfig{
			BaudRate: 115200,
		},
		Metrics: MetricsConfig{
			Host: "127.0.0.1",
			Port: 9464,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("MESHBRIDGE_BROKER_KIND"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("MESHBRIDGE_BROKER_HOST"); v != "" {
		cfg.Transport.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Transport.Port = port
		}
	}
	if v := os.Getenv("MESHBRIDGE_CLIENT_ID"); v != "" {
		cfg.Transport.ClientID = v
	}
	if v := os.Getenv("MESHBRIDGE_BROKER_USERNAME"); v != "" {
		cfg.Transport.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_BROKER_PASSWORD"); v != "" {
		cfg.Transport.Auth.Password = v
	}

	// Topic
	if v := os.Getenv("MESHBRIDGE_TOPIC_BASE"); v != "" {
		cfg.Topic.Base = v
	}

	// TLS
	if v := os.Getenv("MESHBRIDGE_TLS_ENABLED"); v != "" {
		cfg.TLS.Enabled = parseBool(v, cfg.TLS.Enabled)
	}
	if v := os.Getenv("MESHBRIDGE_TLS_CERT_DIR"); v != "" {
		cfg.TLS.CertDir = v
	}

	// Radio
	if v := os.Getenv("MESHBRIDGE_RADIO_PORT"); v != "" {
		cfg.Radio.Port = v
	}

	// InfluxDB
	if v := os.Getenv("MESHBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("MESHBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks the configuration for errors.
//
// Topic wildcards and incomplete credentials are not checked here: they are
// reported on each connect attempt so a running bridge never exits over them.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.FrameVersion != 1 && c.Bridge.FrameVersion != 2 {
		errs = append(errs, "bridge.frame_version must be 1 or 2")
	}
	if c.Bridge.QoS < 0 || c.Bridge.QoS > 2 {
		errs = append(errs, "bridge.qos must be 0, 1, or 2")
	}
	if c.Bridge.SelfHash < 0 || c.Bridge.SelfHash > 255 {
		errs = append(errs, "bridge.self_hash must be between 0 and 255")
	}
	if c.Bridge.DedupCapacity < 0 {
		errs = append(errs, "bridge.dedup_capacity must not be negative")
	}

	// Transport validation
	switch c.Transport.Kind {
	case TransportMQTT, TransportNATS:
	default:
		errs = append(errs, fmt.Sprintf("transport.kind must be %q or %q", TransportMQTT, TransportNATS))
	}
	if c.Transport.Host == "" {
		errs = append(errs, "transport.host is required")
	}
	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		errs = append(errs, "transport.port must be between 0 and 65535")
	}

	// Topic validation
	if strings.Trim(c.Topic.Base, "/") == "" {
		errs = append(errs, "topic.base is required")
	}
	if c.Topic.Partitioned && strings.ContainsAny(c.Transport.ClientID, "/+#") {
		errs = append(errs, "transport.client_id must not contain '/', '+' or '#' in partitioned mode")
	}

	// Radio validation
	if c.Radio.Enabled && c.Radio.Port == "" {
		errs = append(errs, "radio.port is required when the radio is enabled")
	}

	// Metrics validation
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerPort returns the configured port, or the default for the transport
// and TLS setting.
func (c *Config) BrokerPort() int {
	if c.Transport.Port != 0 {
		return c.Transport.Port
	}
	if c.Transport.Kind == TransportNATS {
		return DefaultNATSPort
	}
	if c.TLS.Enabled {
		return DefaultMQTTTLSPort
	}
	return DefaultMQTTPort
}

// GetTickInterval returns the bridge tick interval as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Bridge.TickInterval) * time.Millisecond
}

// GetStatusInterval returns the status refresh interval as a Duration.
func (c *Config) GetStatusInterval() time.Duration {
	return time.Duration(c.Bridge.StatusInterval) * time.Second
}

// GetLinkReconnectInterval returns the link retry interval as a Duration.
func (c *Config) GetLinkReconnectInterval() time.Duration {
	return time.Duration(c.Link.LinkReconnectInterval) * time.Second
}

// GetInitialLinkTimeout returns the first link attempt timeout as a Duration.
func (c *Config) GetInitialLinkTimeout() time.Duration {
	return time.Duration(c.Link.InitialLinkTimeout) * time.Second
}

// GetLinkConnectTimeout returns the link attempt timeout as a Duration.
func (c *Config) GetLinkConnectTimeout() time.Duration {
	return time.Duration(c.Link.LinkConnectTimeout) * time.Second
}

// GetReconnectInterval returns the session retry interval as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.Link.ReconnectInterval) * time.Second
}

// GetSessionConnectTimeout returns the session attempt timeout as a Duration.
func (c *Config) GetSessionConnectTimeout() time.Duration {
	return time.Duration(c.Link.SessionConnectTimeout) * time.Second
}

// GetInfluxReportInterval returns the InfluxDB sampling interval as a Duration.
func (c *Config) GetInfluxReportInterval() time.Duration {
	return time.Duration(c.InfluxDB.ReportInterval) * time.Second
}
