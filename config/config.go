package config

import (
	"strings"
	"time"

	"limitbook/domain/orderbook"
	"limitbook/jobs/broadcaster"
	"limitbook/infra/wal/entry"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	appName   = "limitbook"
	envPrefix = "LIMITBOOK"
)

type LogConfig struct {
	// Env is "dev" or "prod".
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

type OutboxConfig struct {
	Dir string `mapstructure:"dir"`
}

type GRPCConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// Config is the whole process configuration.
type Config struct {
	Log       LogConfig          `mapstructure:"log"`
	Engine    orderbook.Config   `mapstructure:"engine"`
	Journal   entry.Config       `mapstructure:"journal"`
	Outbox    OutboxConfig       `mapstructure:"outbox"`
	Broadcast broadcaster.Config `mapstructure:"broadcast"`
	GRPC      GRPCConfig         `mapstructure:"grpc"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
}

func NewDefaultConfig() Config {
	return Config{
		Log:       LogConfig{Env: "prod", Level: "info"},
		Engine:    orderbook.NewDefaultConfig(),
		Journal:   entry.NewDefaultConfig(),
		Outbox:    OutboxConfig{Dir: "data/outbox"},
		Broadcast: broadcaster.NewDefaultConfig(),
		GRPC:      GRPCConfig{Addr: ":50051", ShutdownTimeout: 5 * time.Second},
		Metrics:   MetricsConfig{Enabled: true, Addr: ":9102", Path: "/metrics"},
	}
}

// Load reads path, or ./config/limitbook.yaml and ./limitbook.yaml when
// path is empty. Every key can be overridden from the environment, e.g.
// LIMITBOOK_GRPC_ADDR overrides grpc.addr. A missing default file is not
// an error.
func Load(path string) (Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v, NewDefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, errors.Wrap(err, "decode config")
	}
	return cfg, v, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.env", d.Log.Env)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("engine.check_invariants", d.Engine.CheckInvariants)
	v.SetDefault("engine.log_trades", d.Engine.LogTrades)

	v.SetDefault("journal.dir", d.Journal.Dir)
	v.SetDefault("journal.segment_size", d.Journal.SegmentSize)
	v.SetDefault("journal.segment_duration", d.Journal.SegmentDuration)
	v.SetDefault("journal.sync_every_write", d.Journal.SyncEveryWrite)
	v.SetDefault("journal.max_payload", d.Journal.MaxPayload)

	v.SetDefault("outbox.dir", d.Outbox.Dir)

	v.SetDefault("broadcast.enabled", d.Broadcast.Enabled)
	v.SetDefault("broadcast.driver", d.Broadcast.Driver)
	v.SetDefault("broadcast.brokers", d.Broadcast.Brokers)
	v.SetDefault("broadcast.topic", d.Broadcast.Topic)
	v.SetDefault("broadcast.interval", d.Broadcast.Interval)
	v.SetDefault("broadcast.retry_backoff", d.Broadcast.RetryBackoff)
	v.SetDefault("broadcast.truncate_acked", d.Broadcast.TruncateAcked)

	v.SetDefault("grpc.addr", d.GRPC.Addr)
	v.SetDefault("grpc.shutdown_timeout", d.GRPC.ShutdownTimeout)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
}
