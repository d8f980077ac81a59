// Package config loads and validates pulseboard configuration via Viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Snapshot backends.
const (
	SnapshotBackendFile = "file"
	SnapshotBackendGCS  = "gcs"
	SnapshotBackendNone = "none"
)

// History drivers. An empty driver disables the archive.
const (
	HistoryDriverPostgres = "postgres"
	HistoryDriverSQLite   = "sqlite"
)

// Notify providers. An empty provider disables notifications.
const NotifyProviderPubSub = "pubsub"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	History  HistoryConfig  `mapstructure:"history"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Client   ClientConfig   `mapstructure:"client"`
}

// ServerConfig controls the HTTP surface and the retention policies. The
// policy windows are float seconds to match the wire's time unit; zero
// disables a policy.
type ServerConfig struct {
	Host                     string   `mapstructure:"host"`
	Port                     int      `mapstructure:"port"`
	ReadHeaderTimeoutSeconds float64  `mapstructure:"read_header_timeout_seconds"`
	RequestTimeoutSeconds    float64  `mapstructure:"request_timeout_seconds"`
	CleanupIntervalSeconds   float64  `mapstructure:"cleanup_interval_seconds"`
	RetentionSeconds         float64  `mapstructure:"retention_seconds"`
	StaleSeconds             float64  `mapstructure:"stale_seconds"`
	MaxTaskAgeSeconds        float64  `mapstructure:"max_task_age_seconds"`
	AllowOrigins             []string `mapstructure:"allow_origins"`
	APITokens                []string `mapstructure:"api_tokens"`
	WSWriteTimeoutSeconds    float64  `mapstructure:"ws_write_timeout_seconds"`
}

// Addr returns the host:port the HTTP server binds to.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ReadHeaderTimeout converts the configured seconds into a duration.
func (c ServerConfig) ReadHeaderTimeout() time.Duration {
	return seconds(c.ReadHeaderTimeoutSeconds)
}

// RequestTimeout bounds non-websocket request handling.
func (c ServerConfig) RequestTimeout() time.Duration {
	return seconds(c.RequestTimeoutSeconds)
}

// CleanupInterval is the time between sweep cycles.
func (c ServerConfig) CleanupInterval() time.Duration {
	return seconds(c.CleanupIntervalSeconds)
}

// WSWriteTimeout bounds each websocket broadcast write.
func (c ServerConfig) WSWriteTimeout() time.Duration {
	return seconds(c.WSWriteTimeoutSeconds)
}

// SnapshotConfig selects where durable snapshots live.
type SnapshotConfig struct {
	Backend string            `mapstructure:"backend"`
	Path    string            `mapstructure:"path"`
	GCS     SnapshotGCSConfig `mapstructure:"gcs"`
}

// SnapshotGCSConfig names the Cloud Storage object for diskless deploys.
type SnapshotGCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// HistoryConfig selects the archive backend for removed tasks.
type HistoryConfig struct {
	Driver   string                `mapstructure:"driver"`
	Postgres HistoryPostgresConfig `mapstructure:"postgres"`
	SQLite   HistorySQLiteConfig   `mapstructure:"sqlite"`
}

// HistoryPostgresConfig locates the archive table in Postgres.
type HistoryPostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// HistorySQLiteConfig locates the archive database file.
type HistorySQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig selects the downstream for terminal-transition notifications.
type NotifyConfig struct {
	Provider string             `mapstructure:"provider"`
	PubSub   NotifyPubSubConfig `mapstructure:"pubsub"`
}

// NotifyPubSubConfig names the Pub/Sub topic notifications publish to.
type NotifyPubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ClientConfig carries the emitter-side defaults used by the demo producer
// and any embedding workload.
type ClientConfig struct {
	ServerURL             string  `mapstructure:"server_url"`
	PushIntervalSeconds   float64 `mapstructure:"push_interval_seconds"`
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout_seconds"`
	APIToken              string  `mapstructure:"api_token"`
}

// PushInterval is the minimum spacing between outbound deliveries.
func (c ClientConfig) PushInterval() time.Duration {
	return seconds(c.PushIntervalSeconds)
}

// RequestTimeout bounds each delivery attempt.
func (c ClientConfig) RequestTimeout() time.Duration {
	return seconds(c.RequestTimeoutSeconds)
}

// Load builds a Config from defaults, an optional config file, and
// PULSEBOARD_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PULSEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_header_timeout_seconds", 5.0)
	v.SetDefault("server.request_timeout_seconds", 30.0)
	v.SetDefault("server.cleanup_interval_seconds", 5.0)
	v.SetDefault("server.retention_seconds", 120.0)
	v.SetDefault("server.stale_seconds", 0.0)
	v.SetDefault("server.max_task_age_seconds", 0.0)
	v.SetDefault("server.allow_origins", []string{})
	v.SetDefault("server.api_tokens", []string{})
	v.SetDefault("server.ws_write_timeout_seconds", 5.0)
	v.SetDefault("snapshot.backend", SnapshotBackendFile)
	v.SetDefault("snapshot.path", "pulseboard_state.json")
	v.SetDefault("snapshot.gcs.bucket", "")
	v.SetDefault("snapshot.gcs.object", "")
	v.SetDefault("history.driver", "")
	v.SetDefault("history.postgres.dsn", "")
	v.SetDefault("history.postgres.table", "task_archive")
	v.SetDefault("history.sqlite.path", "")
	v.SetDefault("notify.provider", "")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_id", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("client.server_url", "http://localhost:8000/progress")
	v.SetDefault("client.push_interval_seconds", 0.25)
	v.SetDefault("client.request_timeout_seconds", 2.0)
	v.SetDefault("client.api_token", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("server.cleanup_interval_seconds must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		return fmt.Errorf("server.read_header_timeout_seconds must be > 0")
	}
	if c.Server.WSWriteTimeoutSeconds <= 0 {
		return fmt.Errorf("server.ws_write_timeout_seconds must be > 0")
	}
	if c.Server.RetentionSeconds < 0 {
		return fmt.Errorf("server.retention_seconds must be >= 0")
	}
	if c.Server.StaleSeconds < 0 {
		return fmt.Errorf("server.stale_seconds must be >= 0")
	}
	if c.Server.MaxTaskAgeSeconds < 0 {
		return fmt.Errorf("server.max_task_age_seconds must be >= 0")
	}

	switch c.Snapshot.Backend {
	case SnapshotBackendFile:
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path must be set for the file backend")
		}
	case SnapshotBackendGCS:
		if c.Snapshot.GCS.Bucket == "" {
			return fmt.Errorf("snapshot.gcs.bucket must be set for the gcs backend")
		}
	case SnapshotBackendNone:
	default:
		return fmt.Errorf("snapshot.backend must be one of file, gcs, none")
	}

	switch c.History.Driver {
	case "":
	case HistoryDriverPostgres:
		if c.History.Postgres.DSN == "" {
			return fmt.Errorf("history.postgres.dsn must be set for the postgres driver")
		}
	case HistoryDriverSQLite:
		if c.History.SQLite.Path == "" {
			return fmt.Errorf("history.sqlite.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("history.driver must be one of postgres, sqlite, or empty")
	}

	switch c.Notify.Provider {
	case "":
	case NotifyProviderPubSub:
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicID == "" {
			return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider must be pubsub or empty")
	}

	if c.Client.ServerURL == "" {
		return fmt.Errorf("client.server_url must be set")
	}
	if c.Client.PushIntervalSeconds < 0 {
		return fmt.Errorf("client.push_interval_seconds must be >= 0")
	}
	if c.Client.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("client.request_timeout_seconds must be > 0")
	}

	return nil
}

// seconds converts a float-second config value into a duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
