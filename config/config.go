package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const prefix = "VENUE_"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Storage StorageConfig
	Kafka   KafkaConfig
	Feed    FeedConfig
	Logging LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr       string
	MaxMessageSize int
	// ShutdownTimeout bounds graceful stop of listeners and jobs.
	ShutdownTimeout time.Duration
}

// EngineConfig holds matching engine configuration
type EngineConfig struct {
	QueueSize    int
	Backpressure string
	Verify       bool
	// TickSize converts client decimal prices to integer ticks.
	TickSize decimal.Decimal
	// Symbols are registered at startup. Others are created on first order.
	Symbols []string
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Dir              string
	SegmentSize      int64
	SegmentDuration  time.Duration
	Sync             bool
	SnapshotInterval time.Duration
	SnapshotKeep     int
}

func (s StorageConfig) WALDir() string      { return filepath.Join(s.Dir, "wal_entry") }
func (s StorageConfig) OutboxDir() string   { return filepath.Join(s.Dir, "wal_exit") }
func (s StorageConfig) SnapshotDir() string { return filepath.Join(s.Dir, "snapshots") }

// KafkaConfig holds broker publishing configuration
type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	Topic      string
	Client     string
	Interval   time.Duration
	MaxRetries int
}

// FeedConfig holds the websocket market data feed configuration
type FeedConfig struct {
	Enabled    bool
	Addr       string
	Path       string
	SendBuffer int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads configuration from the environment, after loading a .env file
// if one exists. Malformed values are reported rather than defaulted.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, which makes tests
// independent of the process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := &env{get: getenv}

	c := &Config{
		Server: ServerConfig{
			GRPCAddr:        e.str("GRPC_ADDR", ":50051"),
			MaxMessageSize:  e.int("MAX_MESSAGE_SIZE", 4<<20),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			QueueSize:    e.int("QUEUE_SIZE", 1<<16),
			Backpressure: e.str("BACKPRESSURE", "block"),
			Verify:       e.bool("VERIFY", false),
			TickSize:     e.decimal("TICK_SIZE", decimal.New(1, -2)),
			Symbols:      e.list("SYMBOLS"),
		},
		Storage: StorageConfig{
			Dir:              e.str("DATA_DIR", "./data"),
			SegmentSize:      int64(e.int("WAL_SEGMENT_SIZE", 64<<20)),
			SegmentDuration:  e.duration("WAL_SEGMENT_DURATION", time.Minute),
			Sync:             e.bool("WAL_SYNC", true),
			SnapshotInterval: e.duration("SNAPSHOT_INTERVAL", 30*time.Second),
			SnapshotKeep:     e.int("SNAPSHOT_KEEP", 2),
		},
		Kafka: KafkaConfig{
			Enabled:    e.bool("KAFKA_ENABLED", false),
			Brokers:    e.list("KAFKA_BROKERS"),
			Topic:      e.str("KAFKA_TOPIC", "venue.events"),
			Client:     e.str("KAFKA_CLIENT", "sarama"),
			Interval:   e.duration("KAFKA_INTERVAL", 250*time.Millisecond),
			MaxRetries: e.int("KAFKA_MAX_RETRIES", 5),
		},
		Feed: FeedConfig{
			Enabled:    e.bool("FEED_ENABLED", true),
			Addr:       e.str("FEED_ADDR", ":8080"),
			Path:       e.str("FEED_PATH", "/ws"),
			SendBuffer: e.int("FEED_SEND_BUFFER", 256),
		},
		Logging: LoggingConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
			File:   e.str("LOG_FILE", ""), // Empty = stderr
		},
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc address required"))
	}
	if c.Engine.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid queue size: %d", c.Engine.QueueSize))
	}
	switch c.Engine.Backpressure {
	case "block", "reject":
	default:
		errs = append(errs, fmt.Errorf("invalid backpressure policy: %q", c.Engine.Backpressure))
	}
	if !c.Engine.TickSize.IsPositive() {
		errs = append(errs, fmt.Errorf("invalid tick size: %s", c.Engine.TickSize))
	}
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("data dir required"))
	}
	if c.Storage.SegmentSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid wal segment size: %d", c.Storage.SegmentSize))
	}
	if c.Storage.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid snapshot interval: %s", c.Storage.SnapshotInterval))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka brokers required when kafka is enabled"))
		}
		switch c.Kafka.Client {
		case "sarama", "kafka-go":
		default:
			errs = append(errs, fmt.Errorf("invalid kafka client: %q", c.Kafka.Client))
		}
	}
	if c.Feed.Enabled && c.Feed.Addr == "" {
		errs = append(errs, errors.New("feed address required when feed is enabled"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// String returns a safe string representation (without sensitive data)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Server{GRPC:%s}, Engine{Queue:%d, Backpressure:%s, Tick:%s}, Storage{Dir:%s}, Kafka{Enabled:%v, Client:%s}, Feed{Enabled:%v, Addr:%s}",
		c.Server.GRPCAddr,
		c.Engine.QueueSize, c.Engine.Backpressure, c.Engine.TickSize,
		c.Storage.Dir,
		c.Kafka.Enabled, c.Kafka.Client,
		c.Feed.Enabled, c.Feed.Addr,
	)
}

// Helper functions for environment variable parsing

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) lookup(key string) string {
	return strings.TrimSpace(e.get(prefix + key))
}

func (e *env) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", prefix, key, value, err))
}

func (e *env) str(key, def string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	}
	e.fail(key, v, errors.New("not a boolean"))
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := e.lookup(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	v := e.lookup(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
