// Package config loads run-level configuration for a backtest: symbols,
// fee rates, delay-bus latency parameters, the periodic snapshot and
// funding timer intervals, and dataset/recorder file paths. It follows
// the teacher's viper + mapstructure + sync.Once loading pattern, with
// env overrides under the BACKTEST prefix instead of TRADSYS.
package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full run configuration, unmarshaled from a YAML file and
// overridable by BACKTEST_-prefixed environment variables.
type Config struct {
	Run struct {
		Symbols       []string `mapstructure:"symbols" validate:"required,min=1"`
		Scaler        int64    `mapstructure:"scaler" validate:"required,min=1"`
		TimerInterval int64    `mapstructure:"timer_interval_ns" validate:"min=0"`
	} `mapstructure:"run"`

	Fees struct {
		Maker float64 `mapstructure:"maker"`
		Taker float64 `mapstructure:"taker" validate:"gtefield=Maker"`
	} `mapstructure:"fees"`

	Latency struct {
		ServerToClientBase   int64 `mapstructure:"server_to_client_base_ns" validate:"min=0"`
		ServerToClientSpread int64 `mapstructure:"server_to_client_spread_ns" validate:"min=0"`
		ClientToServerBase   int64 `mapstructure:"client_to_server_base_ns" validate:"min=0"`
		ClientToServerSpread int64 `mapstructure:"client_to_server_spread_ns" validate:"min=0"`
		Seed                 int64 `mapstructure:"seed"`
	} `mapstructure:"latency"`

	Dataset struct {
		Paths []string `mapstructure:"paths" validate:"required,min=1"`
	} `mapstructure:"dataset"`

	Funding struct {
		IntervalNS int64   `mapstructure:"interval_ns" validate:"min=0"`
		Rate       float64 `mapstructure:"rate"`
	} `mapstructure:"funding"`

	Recorder struct {
		TradesPath    string `mapstructure:"trades_path" validate:"required"`
		SnapshotsPath string `mapstructure:"snapshots_path" validate:"required"`
	} `mapstructure:"recorder"`

	Monitoring struct {
		HTTPAddr string `mapstructure:"http_addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`

	Runtime struct {
		GCPercent            int   `mapstructure:"gc_percent" validate:"min=0"`
		SoftMemoryLimitBytes int64 `mapstructure:"soft_memory_limit_bytes" validate:"min=0"`
	} `mapstructure:"runtime"`
}

var (
	cfg  *Config
	once sync.Once
)

// LoadConfig loads configuration from configPath (a directory containing
// config.yaml) plus BACKTEST_-prefixed environment overrides, applying
// defaults first. It is safe to call repeatedly; only the first call does
// work, matching the teacher's singleton pattern.
func LoadConfig(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		cfg = &Config{}
		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/backtestsim")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("BACKTEST")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("read config file: %w", readErr)
				return
			}
		}

		if unmarshalErr := v.Unmarshal(cfg); unmarshalErr != nil {
			err = fmt.Errorf("unmarshal config: %w", unmarshalErr)
			return
		}

		if validateErr := validator.New().Struct(cfg); validateErr != nil {
			err = fmt.Errorf("validate config: %w", validateErr)
		}
	})

	return cfg, err
}

// GetConfig returns the loaded configuration, loading it from the default
// search path on first use.
func GetConfig() *Config {
	if cfg == nil {
		if _, err := LoadConfig(""); err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return cfg
}

func setDefaults() {
	cfg.Run.Scaler = 100_000_000
	cfg.Run.TimerInterval = 0

	cfg.Fees.Maker = 0.0002
	cfg.Fees.Taker = 0.0005

	cfg.Latency.ServerToClientBase = 1_000_000
	cfg.Latency.ClientToServerBase = 1_000_000
	cfg.Latency.Seed = 1

	cfg.Funding.IntervalNS = 0
	cfg.Funding.Rate = 0.0001

	cfg.Recorder.TradesPath = "trades.csv"
	cfg.Recorder.SnapshotsPath = "snapshots.csv"

	cfg.Monitoring.HTTPAddr = "127.0.0.1:9090"
	cfg.Monitoring.LogLevel = "info"

	cfg.Runtime.GCPercent = 200
	cfg.Runtime.SoftMemoryLimitBytes = 0
}

// InitLogger builds a zap.Logger from the configured log level, matching
// the teacher's LogLevel-to-zap-preset mapping.
func InitLogger(c *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch c.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
