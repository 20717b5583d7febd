package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/signoff"
)

// fileConfig is the service configuration as read from file and
// environment.
type fileConfig struct {
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	ResumeRate      float64       `mapstructure:"resume_rate"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WorkflowName    string        `mapstructure:"workflow_name"`

	Retry struct {
		MaxAttempts  int           `mapstructure:"max_attempts"`
		InitialDelay time.Duration `mapstructure:"initial_delay"`
		MaxDelay     time.Duration `mapstructure:"max_delay"`
		Jitter       bool          `mapstructure:"jitter"`
	} `mapstructure:"retry"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	Store storeConfig `mapstructure:"store"`

	Telemetry struct {
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
		ServiceName  string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

type storeConfig struct {
	// Driver is one of memory, postgres, sqlite, redis, mongo.
	Driver string `mapstructure:"driver"`
	// DSN is the driver connection string.
	DSN string `mapstructure:"dsn"`
	// Database names the MongoDB database.
	Database string `mapstructure:"database"`
	// AutoMigrate applies migrations when serving.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

func setDefaults(v *viper.Viper) {
	d := signoff.DefaultConfig()
	v.SetDefault("approval_timeout", d.ApprovalTimeout)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("resume_rate", d.ResumeRate)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("workflow_name", d.WorkflowName)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.jitter", d.Retry.Jitter)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "signoff")
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "signoff")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// loadConfig reads path (or signoff.yaml from the working directory or
// /etc/signoff when path is empty) and overlays SIGNOFF_* variables.
func loadConfig(path string) (*fileConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIGNOFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("signoff")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/signoff")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// runtimeConfig maps the file settings onto the engine configuration.
func (c *fileConfig) runtimeConfig() signoff.Config {
	return signoff.Config{
		ApprovalTimeout: c.ApprovalTimeout,
		SweepInterval:   c.SweepInterval,
		Concurrency:     c.Concurrency,
		ResumeRate:      c.ResumeRate,
		ShutdownTimeout: c.ShutdownTimeout,
		WorkflowName:    c.WorkflowName,
		Retry: signoff.RetryConfig{
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: c.Retry.InitialDelay,
			MaxDelay:     c.Retry.MaxDelay,
			Jitter:       c.Retry.Jitter,
		},
	}
}

// newLogger builds a JSON or text slog logger at the configured level.
func (c *fileConfig) newLogger(w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if c.Log.Level != "" {
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", c.Log.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Log.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Log.Format)
	}
}
