package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampInterval(t *testing.T) {
	assert.Equal(t, DefaultPollInterval, ClampInterval(0))
	assert.Equal(t, DefaultPollInterval, ClampInterval(-time.Second))
	assert.Equal(t, MinPollInterval, ClampInterval(time.Second))
	assert.Equal(t, MinPollInterval, ClampInterval(MinPollInterval))
	assert.Equal(t, 5*time.Minute, ClampInterval(5*time.Minute))
	assert.Equal(t, MaxPollInterval, ClampInterval(2*time.Hour))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("REMI_USERNAME", "parent@example.com")
	t.Setenv("REMI_PASSWORD", "hunter2")
	t.Setenv("POLL_INTERVAL", "45s")
	t.Setenv("MQTT_HOST", "tcp://broker:1883")
	t.Setenv("DATABASE_URL", "postgres://localhost/remi")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "parent@example.com", cfg.RemiCfg.Username)
	assert.Equal(t, "hunter2", cfg.RemiCfg.Password)
	assert.Equal(t, 45*time.Second, cfg.RemiCfg.PollInterval)
	assert.Equal(t, "tcp://broker:1883", cfg.MqttCfg.Host)
	assert.Equal(t, "postgres://localhost/remi", cfg.Database.URL)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr)
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, DefaultPollInterval, cfg.RemiCfg.Interval())
}

func TestIntervalClampsConfiguredValue(t *testing.T) {
	cfg := &RemiConfig{PollInterval: time.Second}
	assert.Equal(t, MinPollInterval, cfg.Interval())
}
