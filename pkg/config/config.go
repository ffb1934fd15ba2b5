package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon configuration
type Config struct {
	// Engine is the remote render engine endpoint
	Engine EngineConfig `mapstructure:"engine"`
	// Store selects and configures the job record store
	Store StoreConfig `mapstructure:"store"`
	// Paths on the local filesystem
	OutputDir   string `mapstructure:"output_dir"`
	WorkflowDir string `mapstructure:"workflow_dir"`
	// HTTP listen addresses
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	// Reconciliation cadence
	TickInterval time.Duration `mapstructure:"tick_interval"`
	GCInterval   time.Duration `mapstructure:"gc_interval"`
	Retention    time.Duration `mapstructure:"retention"`
	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// EngineConfig describes how to reach the remote render engine
type EngineConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// StoreConfig selects the store backend
type StoreConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// Load reads configuration from the given file (optional), the
// RENDERQ_* environment, and defaults
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.path", "renderq.db")
	v.SetDefault("output_dir", "static/output")
	v.SetDefault("workflow_dir", "workflows")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("tick_interval", 20*time.Second)
	v.SetDefault("gc_interval", 5*time.Minute)
	v.SetDefault("retention", 7*24*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetEnvPrefix("RENDERQ")
	v.AutomaticEnv()
	v.BindEnv("engine.url", "RENDERQ_ENGINE_URL")
	v.BindEnv("engine.token", "RENDERQ_ENGINE_TOKEN")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.renderq")
		// Missing config file is fine, env and defaults cover it
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required (set RENDERQ_ENGINE_URL)")
	}
	return nil
}
