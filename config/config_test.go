package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultsAreValid(t *testing.T) {
	c, err := FromEnv(mapEnv(nil))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, ":50051", c.Server.GRPCAddr)
	assert.Equal(t, "block", c.Engine.Backpressure)
	assert.Equal(t, "0.01", c.Engine.TickSize.String())
	assert.Equal(t, filepath.Join("data", "wal_entry"), c.Storage.WALDir())
	assert.False(t, c.Kafka.Enabled)
}

func TestOverrides(t *testing.T) {
	c, err := FromEnv(mapEnv(map[string]string{
		"VENUE_QUEUE_SIZE":        "128",
		"VENUE_BACKPRESSURE":      "reject",
		"VENUE_TICK_SIZE":         "0.5",
		"VENUE_SYMBOLS":           "ACME, GLBX,,",
		"VENUE_SNAPSHOT_INTERVAL": "5s",
		"VENUE_KAFKA_ENABLED":     "yes",
		"VENUE_KAFKA_BROKERS":     "b1:9092,b2:9092",
		"VENUE_KAFKA_CLIENT":      "kafka-go",
	}))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 128, c.Engine.QueueSize)
	assert.Equal(t, "reject", c.Engine.Backpressure)
	assert.Equal(t, "0.5", c.Engine.TickSize.String())
	assert.Equal(t, []string{"ACME", "GLBX"}, c.Engine.Symbols)
	assert.Equal(t, 5*time.Second, c.Storage.SnapshotInterval)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, c.Kafka.Brokers)
}

func TestMalformedValuesAreErrors(t *testing.T) {
	_, err := FromEnv(mapEnv(map[string]string{
		"VENUE_QUEUE_SIZE": "lots",
		"VENUE_VERIFY":     "maybe",
		"VENUE_TICK_SIZE":  "cheap",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VENUE_QUEUE_SIZE")
	assert.Contains(t, err.Error(), "VENUE_VERIFY")
	assert.Contains(t, err.Error(), "VENUE_TICK_SIZE")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"queue":        func(c *Config) { c.Engine.QueueSize = 0 },
		"backpressure": func(c *Config) { c.Engine.Backpressure = "drop" },
		"tick":         func(c *Config) { c.Engine.TickSize = c.Engine.TickSize.Neg() },
		"kafka":        func(c *Config) { c.Kafka.Enabled = true },
		"format":       func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := FromEnv(mapEnv(nil))
			require.NoError(t, err)
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("VENUE_GRPC_ADDR=:7000\nVENUE_FEED_ENABLED=false\n"), 0o644))

	m, err := godotenv.Read(path)
	require.NoError(t, err)

	c, err := FromEnv(mapEnv(m))
	require.NoError(t, err)
	assert.Equal(t, ":7000", c.Server.GRPCAddr)
	assert.False(t, c.Feed.Enabled)
}
