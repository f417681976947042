// Package config loads the lock engine's configuration via viper, the same
// library and decode-hook pattern pkg/config.Load uses for the server this
// engine was distilled from, narrowed to the settings a standalone lock
// engine actually needs.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LockEngineConfig mirrors pkg/config.LockConfig's field set, scoped to the
// lock engine rather than the whole server.
type LockEngineConfig struct {
	MaxLocksPerFile   int           `mapstructure:"max_locks_per_file" validate:"gte=0"`
	MaxLocksPerClient int           `mapstructure:"max_locks_per_client" validate:"gte=0"`
	MaxTotalLocks     int           `mapstructure:"max_total_locks" validate:"gte=0"`
	BlockingTimeout   time.Duration `mapstructure:"blocking_timeout" validate:"gte=0"`
	GracePeriod       time.Duration `mapstructure:"grace_period" validate:"gte=0"`
	LeaseBreakTimeout time.Duration `mapstructure:"lease_break_timeout" validate:"gte=0"`
	MandatoryLocking  bool          `mapstructure:"mandatory_locking"`

	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

// MetricsConfig configures internal/metrics/prometheus.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Defaults returns the zero-configuration baseline, grounded on
// pkg/config/defaults.go's applyLoggingDefaults-style pattern of centralizing
// every default in one function.
func Defaults() LockEngineConfig {
	return LockEngineConfig{
		MaxLocksPerFile:   0,
		MaxLocksPerClient: 0,
		MaxTotalLocks:     0,
		BlockingTimeout:   10 * time.Second,
		GracePeriod:       90 * time.Second,
		LeaseBreakTimeout: 40 * time.Second,
		MandatoryLocking:  false,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9100",
		},
	}
}

var validate = validator.New()

// Load reads configuration from path (if non-empty) and the environment,
// falling back to Defaults for anything unset.
func Load(path string) (LockEngineConfig, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("NFS4LOCKD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}
