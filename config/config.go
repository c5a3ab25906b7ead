package config

import (
	"errors"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Session roles.
const (
	RoleConsumer = "consumer"
	RoleMerchant = "merchant"
)

// Config is the top-level application configuration.
type Config struct {
	Role string `yaml:"role"` // "consumer" or "merchant"
	// Identity is the user id (consumer) or restaurant id (merchant).
	// Zero means discover it from the REST API at startup.
	Identity int64 `yaml:"identity"`

	Realtime  RealtimeConfig  `yaml:"realtime"`
	API       APIConfig       `yaml:"api"`
	Polling   PollingConfig   `yaml:"polling"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Database  DatabaseConfig  `yaml:"database"`
	Messaging MessagingConfig `yaml:"messaging"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

// RealtimeConfig defines the STOMP-over-WebSocket push connection.
type RealtimeConfig struct {
	URL               string        `yaml:"url"`
	Host              string        `yaml:"host"` // STOMP virtual host; empty uses the URL host
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming"`
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

// APIConfig defines the backend REST API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int           `yaml:"burst"`
}

// PollingConfig defines the polling fallback.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
	PageSize int           `yaml:"page_size"` // 0 uses the role default
	Status   string        `yaml:"status"`    // initial filter, empty for all
}

// ReconcileConfig tunes the notification reconciler.
type ReconcileConfig struct {
	RejectStale bool `yaml:"reject_stale"`
}

// DatabaseConfig defines the notification history store.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig defines the SQLite file location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig defines PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// MessagingConfig defines the notification relay backend.
type MessagingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Backend             string        `yaml:"backend"` // "mqtt", "kafka" or "redis"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	Redis               RedisConfig   `yaml:"redis"`
	NotificationTopic   string        `yaml:"notification_topic"`
	NotificationTTL     time.Duration `yaml:"notification_ttl"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	NodeID              string        `yaml:"node_id"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// RedisConfig defines Redis pub/sub settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebConfig defines the local web server settings.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// envOverrides are environment variables that take precedence over the YAML file.
type envOverrides struct {
	WSURL      string `env:"ORDERWATCH_WS_URL"`
	APIBaseURL string `env:"ORDERWATCH_API_URL"`
	APIToken   string `env:"ORDERWATCH_API_TOKEN"`
	Role       string `env:"ORDERWATCH_ROLE"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Role: RoleConsumer,
		Realtime: RealtimeConfig{
			URL:               "ws://localhost:8080/ws",
			ReconnectDelay:    2 * time.Second,
			MaxReconnectDelay: 30 * time.Second,
			HeartbeatIncoming: 2 * time.Second,
			HeartbeatOutgoing: 2 * time.Second,
			ConnectTimeout:    5 * time.Second,
		},
		API: APIConfig{
			BaseURL:   "http://localhost:8080/api",
			Timeout:   10 * time.Second,
			RateLimit: 5,
			Burst:     5,
		},
		Polling: PollingConfig{
			Interval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "orderwatch.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "orderwatch",
				User:     "orderwatch",
				SSLMode:  "disable",
			},
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			NotificationTopic:   "orderwatch/notifications",
			NotificationTTL:     10 * time.Minute,
			OutboxDrainInterval: 5 * time.Second,
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "orderwatch",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return err
	}
	if env.WSURL != "" {
		c.Realtime.URL = env.WSURL
	}
	if env.APIBaseURL != "" {
		c.API.BaseURL = env.APIBaseURL
	}
	if env.APIToken != "" {
		c.API.Token = env.APIToken
	}
	if env.Role != "" {
		c.Role = env.Role
	}
	return nil
}

// PageSize returns the configured page size, or the role default
// (20 for consumers, 10 for merchants).
func (c *Config) PageSize() int {
	if c.Polling.PageSize > 0 {
		return c.Polling.PageSize
	}
	if c.Role == RoleMerchant {
		return 10
	}
	return 20
}

// NodeID returns the configured relay node ID, or derives one from the role.
func (c *Config) NodeID() string {
	if c.Messaging.NodeID != "" {
		return c.Messaging.NodeID
	}
	return "orderwatch." + c.Role
}
