package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Valkey      ValkeyConfig      `mapstructure:"valkey"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Index       IndexConfig       `mapstructure:"index"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Layers      LayersConfig      `mapstructure:"layers"`
	Scan        ScanConfig        `mapstructure:"scan"`
	Mapillary   MapillaryConfig   `mapstructure:"mapillary"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// IndexConfig holds the R-tree fanout bounds shared by every layer.
type IndexConfig struct {
	MinFanout int `mapstructure:"min_fanout"`
	MaxFanout int `mapstructure:"max_fanout"`
}

type PersistenceConfig struct {
	Dir string `mapstructure:"dir"`
	// Compress writes zstd-compressed state files.
	Compress bool `mapstructure:"compress"`
	// SaveInterval is the autosave period in seconds.
	SaveInterval int `mapstructure:"save_interval"`
}

type LayersConfig struct {
	Enabled   []string `mapstructure:"enabled"`
	InboxSize int      `mapstructure:"inbox_size"`
}

type ScanConfig struct {
	Mounts []string `mapstructure:"mounts"`
	// Interval between scans in seconds; 0 scans once and exits.
	Interval int `mapstructure:"interval"`
}

type MapillaryConfig struct {
	URL      string `mapstructure:"url"`
	ClientID string `mapstructure:"client_id"`
	Timeout  int    `mapstructure:"timeout"`
	// Areas are "minLon,minLat,maxLon,maxLat" boxes polled by the fetcher.
	Areas        []string `mapstructure:"areas"`
	PollInterval int      `mapstructure:"poll_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "overlay")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "mapoverlay")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "overlay-rebuild")
	v.SetDefault("index.min_fanout", 2)
	v.SetDefault("index.max_fanout", 12)
	v.SetDefault("persistence.dir", "./state")
	v.SetDefault("persistence.compress", true)
	v.SetDefault("persistence.save_interval", 60)
	v.SetDefault("layers.enabled", []string{"photos", "mapillary", "tasks"})
	v.SetDefault("layers.inbox_size", 64)
	v.SetDefault("scan.mounts", []string{"/sdcard"})
	v.SetDefault("scan.interval", 0)
	v.SetDefault("mapillary.url", "https://a.mapillary.com/v3/sequences")
	v.SetDefault("mapillary.client_id", "")
	v.SetDefault("mapillary.timeout", 20)
	v.SetDefault("mapillary.areas", []string{})
	v.SetDefault("mapillary.poll_interval", 900)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: OVERLAY_DATABASE_HOST → database.host
	v.SetEnvPrefix("OVERLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Index.MinFanout < 1 || c.Index.MaxFanout < 2 || c.Index.MinFanout > c.Index.MaxFanout/2 {
		errs = append(errs, fmt.Sprintf("index fanout must satisfy 1 <= min <= max/2, got min=%d max=%d", c.Index.MinFanout, c.Index.MaxFanout))
	}
	if c.Persistence.Dir == "" {
		errs = append(errs, "persistence.dir is required")
	}
	if c.Persistence.SaveInterval <= 0 {
		errs = append(errs, "persistence.save_interval must be positive")
	}
	if c.Layers.InboxSize <= 0 {
		errs = append(errs, "layers.inbox_size must be positive")
	}
	for _, name := range c.Layers.Enabled {
		switch name {
		case "photos", "mapillary", "tasks":
		default:
			errs = append(errs, fmt.Sprintf("layers.enabled: unknown layer %q", name))
		}
	}
	if c.Mapillary.Timeout <= 0 {
		errs = append(errs, "mapillary.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
