// Package config loads runtime configuration via viper, env-first, with
// sane defaults for every optional knob. PG_CONNECTION_STRING and HTTP_KEY
// are required and have no default.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the notifier.
type Config struct {
	Admin    AdminConfig
	Firehose FirehoseConfig
	Delivery DeliveryConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig

	PGConnectionString string
}

// AdminConfig controls the admin HTTP surface.
type AdminConfig struct {
	Host   string
	Port   int
	Secret string
}

// FirehoseConfig controls the upstream repo-subscribe connection.
type FirehoseConfig struct {
	URL     string
	Backoff time.Duration
}

// DeliveryConfig controls the outbound webhook HTTP client.
type DeliveryConfig struct {
	ClientTimeout      time.Duration
	DowntimeEvictAfter time.Duration
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	ListenAddr string
	Endpoint   string
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string
	Development bool
}

// Load reads configuration from environment variables and optional config
// files: defaults are set first, then a config file is read if present,
// then environment variables take precedence via AutomaticEnv.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("admin.host", "0.0.0.0")
	v.SetDefault("admin.port", 6969)

	v.SetDefault("firehose.url", "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos")
	v.SetDefault("firehose.backoff", 500*time.Millisecond)

	v.SetDefault("delivery.client_timeout", 10*time.Second)
	v.SetDefault("delivery.downtime_evict_after", 2*time.Hour)

	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("notifier")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	// Bind the operator-facing environment variable names directly; they
	// predate the nested config and don't follow viper's default
	// SECTION_KEY shape.
	_ = v.BindEnv("pg_connection_string", "PG_CONNECTION_STRING")
	_ = v.BindEnv("admin.secret", "HTTP_KEY")
	_ = v.BindEnv("admin.host", "HOST")
	_ = v.BindEnv("admin.port", "PORT")
	_ = v.BindEnv("firehose.url", "FIREHOSE_URL")
	_ = v.BindEnv("firehose.backoff", "FIREHOSE_BACKOFF")
	_ = v.BindEnv("delivery.client_timeout", "HTTP_CLIENT_TIMEOUT")
	_ = v.BindEnv("metrics.listen_addr", "METRICS_ADDR")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")

	// Attempt to read a config file; absence is not an error.
	_ = v.ReadInConfig()

	pgConn := v.GetString("pg_connection_string")
	if pgConn == "" {
		return Config{}, errors.New("PG_CONNECTION_STRING must be set")
	}
	secret := v.GetString("admin.secret")
	if secret == "" {
		return Config{}, errors.New("HTTP_KEY must be set")
	}

	cfg := Config{
		PGConnectionString: pgConn,
		Admin: AdminConfig{
			Host:   v.GetString("admin.host"),
			Port:   v.GetInt("admin.port"),
			Secret: secret,
		},
		Firehose: FirehoseConfig{
			URL:     v.GetString("firehose.url"),
			Backoff: v.GetDuration("firehose.backoff"),
		},
		Delivery: DeliveryConfig{
			ClientTimeout:      v.GetDuration("delivery.client_timeout"),
			DowntimeEvictAfter: v.GetDuration("delivery.downtime_evict_after"),
		},
		Metrics: MetricsConfig{
			ListenAddr: v.GetString("metrics.listen_addr"),
			Endpoint:   v.GetString("metrics.endpoint"),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("logging.level"),
			Development: v.GetBool("logging.development"),
		},
	}
	return cfg, nil
}
