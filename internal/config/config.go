// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Loader   LoaderConfig   `yaml:"loader" mapstructure:"loader"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Analyzer AnalyzerConfig `yaml:"analyzer" mapstructure:"analyzer"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory | sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LoaderConfig configures batch ingestion.
type LoaderConfig struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	FTPURL         string `yaml:"ftp_url" mapstructure:"ftp_url"`
	FTPTimeoutSecs int    `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
	FTPUser        string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPass        string `yaml:"ftp_pass" mapstructure:"ftp_pass"`
}

// EngineConfig configures the attribution engine.
type EngineConfig struct {
	LookbackHours       int    `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	LocationRadius      string `yaml:"location_radius" mapstructure:"location_radius"` // same_city | same_warehouse
	DelayThresholdHours int    `yaml:"delay_threshold_hours" mapstructure:"delay_threshold_hours"`
	PolicyPath          string `yaml:"policy_path" mapstructure:"policy_path"` // empty = built-in policy
}

// AnalyzerConfig configures aggregate analysis.
type AnalyzerConfig struct {
	PrimaryCauseTopK     int     `yaml:"primary_cause_top_k" mapstructure:"primary_cause_top_k"`
	ScalingRiskThreshold float64 `yaml:"scaling_risk_threshold" mapstructure:"scaling_risk_threshold"`
	Concurrency          int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the analysis API server.
type ServerConfig struct {
	Port          int     `yaml:"port" mapstructure:"port"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DELIVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "delivery.db")
	v.SetDefault("loader.data_dir", "data")
	v.SetDefault("loader.ftp_timeout_secs", 30)
	v.SetDefault("engine.lookback_hours", 48)
	v.SetDefault("engine.location_radius", "same_city")
	v.SetDefault("engine.delay_threshold_hours", 72)
	v.SetDefault("analyzer.primary_cause_top_k", 1)
	v.SetDefault("analyzer.scaling_risk_threshold", 0.15)
	v.SetDefault("analyzer.concurrency", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_second", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
