package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tripsitter/tripsitter/internal/engine"
	"github.com/tripsitter/tripsitter/internal/fetch"
	"github.com/tripsitter/tripsitter/internal/manager"
)

// FileConfig is the top-level TOML structure.
//
//	[engine]
//	name = "portland"
//	jar_path = "otp-1.1.0-shaded.jar"
//	graph_dir = "graphs/portland"
//	java_args = ["-Xmx4G"]
//	auto_download_jar = true
//	[engine.log]
//	dir = "logs"
//	[bbox]
//	left = -122.8
//	bottom = 45.4
//	right = -122.5
//	top = 45.6
type FileConfig struct {
	Engine engine.Spec `mapstructure:"engine"`
	BBox   fetch.BBox  `mapstructure:"bbox"`

	Port             int           `mapstructure:"port"` // fixed port; 0 = dynamic
	BuildIdleTimeout time.Duration `mapstructure:"build_idle_timeout"`
	StartIdleTimeout time.Duration `mapstructure:"start_idle_timeout"`
	ServeIdleTimeout time.Duration `mapstructure:"serve_idle_timeout"`
	StopGrace        time.Duration `mapstructure:"stop_grace"`
	ServeRetries     int           `mapstructure:"serve_retries"`

	SkipFetch   bool   `mapstructure:"skip_fetch"`
	RequireGTFS bool   `mapstructure:"require_gtfs"`
	HealthPath  string `mapstructure:"health_path"`

	HistoryDSN string `mapstructure:"history_dsn"` // sqlite/postgres/clickhouse DSN; "" disables
	Listen     string `mapstructure:"listen"`      // status API address; "" disables
	LogLevel   string `mapstructure:"log_level"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks the construction inputs before any process is spawned.
func (c *FileConfig) Validate() error {
	if c.Engine.Name == "" {
		return fmt.Errorf("engine.name is required")
	}
	if c.Engine.JarPath == "" {
		return fmt.Errorf("engine.jar_path is required")
	}
	if c.Engine.GraphDir == "" {
		return fmt.Errorf("engine.graph_dir is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BuildIdleTimeout < 0 || c.StartIdleTimeout < 0 || c.ServeIdleTimeout < 0 {
		return fmt.Errorf("idle timeouts must not be negative")
	}
	if !c.SkipFetch {
		if err := c.BBox.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ManagerConfig maps the file config onto the supervisor's construction
// inputs. The history sink and fetch client are wired by the caller.
func (c *FileConfig) ManagerConfig() manager.Config {
	return manager.Config{
		Engine:           c.Engine,
		BBox:             c.BBox,
		FixedPort:        c.Port,
		BuildIdleTimeout: c.BuildIdleTimeout,
		StartIdleTimeout: c.StartIdleTimeout,
		ServeIdleTimeout: c.ServeIdleTimeout,
		StopGrace:        c.StopGrace,
		ServeRetries:     c.ServeRetries,
		SkipFetch:        c.SkipFetch,
		RequireGTFS:      c.RequireGTFS,
		HealthPath:       c.HealthPath,
	}
}
