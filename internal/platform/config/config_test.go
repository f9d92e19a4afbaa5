package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{})
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, DriverMemory, cfg.Store.Driver)
		assert.Equal(t, 5, cfg.Pickup.MaxAttempts)
		assert.Equal(t, 15*time.Minute, cfg.Pickup.Window)
		assert.Equal(t, 30, cfg.Pickup.ThrottlePerStaff)
		assert.Equal(t, 60, cfg.Pickup.ThrottlePerIP)
		assert.Equal(t, time.Minute, cfg.Pickup.ThrottleWindow)
		assert.Equal(t, 5*time.Second, cfg.Store.TxTimeout)
		assert.Equal(t, "pickup.log.v1", cfg.Kafka.Topic)
		assert.NotEmpty(t, cfg.Server.JWTSigningKey)
		assert.NotEmpty(t, cfg.Pickup.CodePepper)
		assert.False(t, cfg.Redis.Enabled())
		assert.False(t, cfg.Kafka.Enabled())
	})

	t.Run("nested prefixes", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{
			"SHEPHERD_STORE_DRIVER":        "postgres",
			"SHEPHERD_STORE_DSN":           "postgres://localhost/shepherd",
			"SHEPHERD_REDIS_URL":           "redis://localhost:6379/0",
			"SHEPHERD_KAFKA_BROKERS":       " broker-1:9092, broker-2:9092 ,broker-1:9092",
			"SHEPHERD_PICKUP_MAX_ATTEMPTS": "3",
			"SHEPHERD_PICKUP_WINDOW":       "10m",
		})
		require.NoError(t, err)

		assert.Equal(t, DriverPostgres, cfg.Store.Driver)
		assert.True(t, cfg.Redis.Enabled())
		assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, 3, cfg.Pickup.MaxAttempts)
		assert.Equal(t, 10*time.Minute, cfg.Pickup.Window)
	})

	t.Run("postgres without dsn is rejected", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"SHEPHERD_STORE_DRIVER": "postgres"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SHEPHERD_STORE_DSN")
	})

	t.Run("unknown driver is rejected", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"SHEPHERD_STORE_DRIVER": "mongo"})
		require.Error(t, err)
	})

	t.Run("prod requires explicit secrets", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{
			"SHEPHERD_SERVER_ENV":   "prod",
			"SHEPHERD_STORE_DRIVER": "sqlite",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SIGNING_KEY")
		assert.Contains(t, err.Error(), "CODE_PEPPER")
	})

	t.Run("zero attempts is rejected", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"SHEPHERD_PICKUP_MAX_ATTEMPTS": "0"})
		require.Error(t, err)
	})

	t.Run("zero throttle is rejected", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"SHEPHERD_PICKUP_THROTTLE_PER_IP": "0"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "THROTTLE")
	})
}
