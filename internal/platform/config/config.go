package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	strs "siraj/pkg/platform/strings"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Kafka start offsets for a new consumer group.
const (
	OffsetStart = "start"
	OffsetEnd   = "end"
)

// Config is loaded once at startup and passed by value into constructors.
// Nothing mutates it after Load returns.
type Config struct {
	Server      Server            `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Push        PushConfig        `mapstructure:"push"`
	Mail        MailConfig        `mapstructure:"mail"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Inspiration InspirationConfig `mapstructure:"inspiration"`
	Fanout      FanoutConfig      `mapstructure:"fanout"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	JWTSigningKey   string        `mapstructure:"jwt_signing_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RedisConfig configures the go-redis client behind the redis document store.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PushConfig points at the push provider's REST API. An empty AppID or APIKey
// disables the push channel.
type PushConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	AppID            string        `mapstructure:"app_id"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// MailConfig holds SMTP submission settings. An empty Host or Username
// disables the email channel.
type MailConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	From             string        `mapstructure:"from"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	// Security is starttls, tls or none. Empty picks by port: 465 is tls,
	// 587 is starttls, anything else none.
	Security string `mapstructure:"security"`
}

// KafkaConfig enables the state-change consumer when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	GroupID           string   `mapstructure:"group_id"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
	// StartOffset is where a new consumer group begins: "end" skips the
	// backlog, "start" replays the whole topic.
	StartOffset string `mapstructure:"start_offset"`
}

type InspirationConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// FanoutConfig bounds the best-effort channels and the shutdown drain.
type FanoutConfig struct {
	ChannelTimeout time.Duration `mapstructure:"channel_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

// TracingConfig exports spans over OTLP/HTTP when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// KafkaEnabled reports whether the consumer should start.
func (c Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// Location resolves the inspiration timezone, falling back to UTC.
func (c InspirationConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	// Use a default for development - should be overridden in production
	v.SetDefault("server.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.sqlite_path", "siraj.db")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("push.endpoint", "https://onesignal.com/api/v1/notifications")
	v.SetDefault("push.app_id", "")
	v.SetDefault("push.api_key", "")
	v.SetDefault("push.timeout", 5*time.Second)
	v.SetDefault("push.failure_threshold", 5)
	v.SetDefault("push.cooldown", 30*time.Second)

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.timeout", 10*time.Second)
	v.SetDefault("mail.failure_threshold", 5)
	v.SetDefault("mail.cooldown", 30*time.Second)
	v.SetDefault("mail.security", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "state-changes")
	v.SetDefault("kafka.group_id", "siraj-fanout")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.start_offset", OffsetEnd)

	v.SetDefault("inspiration.timezone", "UTC")

	v.SetDefault("fanout.channel_timeout", 10*time.Second)
	v.SetDefault("fanout.drain_timeout", 15*time.Second)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "siraj")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads configuration from the environment and, when CONFIG_FILE is set,
// from that YAML file. Environment variables win over the file and use the key
// path in upper snake case: server.addr is SERVER_ADDR, kafka.brokers is
// KAFKA_BROKERS (comma separated).
func Load() (Config, error) {
	return load(os.Getenv("CONFIG_FILE"))
}

func load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("store backend %q requires REDIS_URL", c.Store.Backend)
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("store backend %q requires POSTGRES_DSN", c.Store.Backend)
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store backend %q requires STORE_SQLITE_PATH", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Mail.Security {
	case "", "starttls", "tls", "none":
	default:
		return fmt.Errorf("unknown mail security %q (want starttls, tls or none)", c.Mail.Security)
	}
	if c.Kafka.StartOffset != OffsetStart && c.Kafka.StartOffset != OffsetEnd {
		return fmt.Errorf("unknown kafka start offset %q (want %s or %s)", c.Kafka.StartOffset, OffsetStart, OffsetEnd)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio %v must be within [0, 1]", c.Tracing.SampleRatio)
	}
	if _, err := time.LoadLocation(c.Inspiration.Timezone); err != nil {
		return fmt.Errorf("invalid inspiration timezone %q: %w", c.Inspiration.Timezone, err)
	}
	return nil
}

// splitList flattens comma separated entries, which is how list values
// arrive from a single environment variable.
func splitList(values []string) []string {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.Split(v, ",")...)
	}
	return strs.DedupeAndTrim(parts)
}
