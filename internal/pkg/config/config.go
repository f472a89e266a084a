package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultPollInterval matches the cloud API cache window.
	DefaultPollInterval = 60 * time.Second
	MinPollInterval     = 30 * time.Second
	MaxPollInterval     = 3600 * time.Second
)

type Config struct {
	RemiCfg  *RemiConfig
	MqttCfg  *MqttConfig
	Database *DatabaseConfig
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type RemiConfig struct {
	Username     string        `env:"REMI_USERNAME"`
	Password     string        `env:"REMI_PASSWORD"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"60s"`
}

type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`
}

// FromEnv builds a Config from environment variables. CLI flags may
// overwrite individual fields afterwards.
func FromEnv() (*Config, error) {
	cfg := &Config{
		RemiCfg:  &RemiConfig{},
		MqttCfg:  &MqttConfig{},
		Database: &DatabaseConfig{},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg.RemiCfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg.MqttCfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg.Database); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Interval returns the poll interval clamped to the range the platform
// accepts for polling integrations.
func (c *RemiConfig) Interval() time.Duration {
	return ClampInterval(c.PollInterval)
}

func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPollInterval
	}
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}
