package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agent configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig is the local consumer API.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// APIKey guards the local API; empty disables the check.
	APIKey string `mapstructure:"api_key"`
}

type BackendConfig struct {
	// APIURL is the REST base, e.g. "https://api.example.org/api".
	APIURL string `mapstructure:"api_url"`
	// SocketURL is the WebSocket base, e.g. "wss://api.example.org".
	SocketURL string `mapstructure:"socket_url"`
	// SocketReadLimit caps one inbound socket frame in bytes.
	SocketReadLimit int64         `mapstructure:"socket_read_limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PageSize        int           `mapstructure:"page_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	// RefetchOnConnect reloads the first page every time the socket opens.
	RefetchOnConnect bool `mapstructure:"refetch_on_connect"`
}

type CredentialsConfig struct {
	Source         string        `mapstructure:"source"` // "static" | "keyring"
	Token          string        `mapstructure:"token"`
	UserID         string        `mapstructure:"user_id"`
	KeyringService string        `mapstructure:"keyring_service"`
	KeyringDir     string        `mapstructure:"keyring_dir"`
	TokenKey       string        `mapstructure:"token_key"`
	UserIDKey      string        `mapstructure:"user_id_key"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type ArchiveConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Name          string `mapstructure:"name"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	LoadLimit     int    `mapstructure:"load_limit"`
	QueueSize     int    `mapstructure:"queue_size"`
	RetentionDays int    `mapstructure:"retention_days"` // 0 keeps records until cleared
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Runtime bool `mapstructure:"runtime"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: ARDA_AGENT_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8091")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.api_key", "")
	v.SetDefault("backend.api_url", "http://localhost:8080/api")
	v.SetDefault("backend.socket_url", "ws://localhost:8080")
	v.SetDefault("backend.socket_read_limit", 1<<20)
	v.SetDefault("backend.request_timeout", 15*time.Second)
	v.SetDefault("backend.page_size", 20)
	v.SetDefault("backend.max_retries", 2)
	v.SetDefault("backend.refetch_on_connect", true)
	v.SetDefault("credentials.source", "static")
	v.SetDefault("credentials.token", "")
	v.SetDefault("credentials.user_id", "")
	v.SetDefault("credentials.keyring_service", "arda-notification-agent")
	v.SetDefault("credentials.keyring_dir", "~/.config/arda-notification-agent/credentials")
	v.SetDefault("credentials.token_key", "access_token")
	v.SetDefault("credentials.user_id_key", "user_id")
	v.SetDefault("credentials.cache_ttl", 30*time.Second)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.host", "localhost")
	v.SetDefault("archive.port", 5432)
	v.SetDefault("archive.name", "arda_notification_agent")
	v.SetDefault("archive.user", "postgres")
	v.SetDefault("archive.password", "password")
	v.SetDefault("archive.load_limit", 200)
	v.SetDefault("archive.queue_size", 256)
	v.SetDefault("archive.retention_days", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "notification-client-events")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.runtime", true)

	// Environment variables (e.g. ARDA_AGENT_BACKEND_API_URL -> backend.api_url)
	v.SetEnvPrefix("ARDA_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("backend.api_url", "ARDA_API_URL")
	v.BindEnv("backend.socket_url", "ARDA_SOCKET_URL")
	v.BindEnv("credentials.token", "ARDA_TOKEN")
	v.BindEnv("archive.host", "DB_HOST")
	v.BindEnv("archive.port", "DB_PORT")
	v.BindEnv("archive.name", "DB_NAME")
	v.BindEnv("archive.user", "DB_USER")
	v.BindEnv("archive.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	// A comma separated env value arrives as a single element.
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the agent cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.APIURL) == "" {
		return fmt.Errorf("backend.api_url is required")
	}
	if strings.TrimSpace(c.Backend.SocketURL) == "" {
		return fmt.Errorf("backend.socket_url is required")
	}
	switch c.Credentials.Source {
	case "static", "keyring":
	default:
		return fmt.Errorf("credentials.source must be static or keyring, got %q", c.Credentials.Source)
	}
	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("archive.retention_days must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d ArchiveConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
