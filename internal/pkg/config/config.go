package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Materializer MaterializerConfig `mapstructure:"materializer"`
	Privacy      PrivacyConfig      `mapstructure:"privacy"`
	Auth         AuthConfig         `mapstructure:"auth"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Valkey       ValkeyConfig       `mapstructure:"valkey"`
	Weather      WeatherConfig      `mapstructure:"weather"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	BodyLimit    int `mapstructure:"body_limit"`
}

// StorageConfig locates the data files. Relative file names are resolved
// against DataDir.
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	PointLog   string `mapstructure:"point_log"`
	Artifact   string `mapstructure:"artifact"`
	Zones      string `mapstructure:"zones"`
	Routesets  string `mapstructure:"routesets"`
	TailWindow int64  `mapstructure:"tail_window"`
}

// Path resolves name against DataDir unless it is absolute.
func (s StorageConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.DataDir, name)
}

// RoutesetDir is where snapshot files live, next to the metadata list.
func (s StorageConfig) RoutesetDir() string {
	return filepath.Join(s.DataDir, "routesets")
}

type IngestConfig struct {
	MinDistanceM  float64 `mapstructure:"min_distance_m"`
	MinIntervalMS int     `mapstructure:"min_interval_ms"`
	MaxSpeedKmh   float64 `mapstructure:"max_speed_kmh"`
}

type MaterializerConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type PrivacyConfig struct {
	ZoneTTL time.Duration `mapstructure:"zone_ttl"`
}

type AuthConfig struct {
	Token string `mapstructure:"token"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ValkeyConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

type WeatherConfig struct {
	URL         string        `mapstructure:"url"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
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
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.body_limit", 4*1024*1024)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.point_log", "points.jsonl")
	v.SetDefault("storage.artifact", "public/track.geojson")
	v.SetDefault("storage.zones", "zones.json")
	v.SetDefault("storage.routesets", "routesets.json")
	v.SetDefault("storage.tail_window", 64*1024)
	v.SetDefault("ingest.min_distance_m", 15)
	v.SetDefault("ingest.min_interval_ms", 4000)
	v.SetDefault("ingest.max_speed_kmh", 160)
	v.SetDefault("materializer.min_interval", "30s")
	v.SetDefault("privacy.zone_ttl", "60s")
	v.SetDefault("auth.token", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.enabled", true)
	v.SetDefault("weather.url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.min_interval", "10s")
	v.SetDefault("weather.timeout", "5s")
	v.SetDefault("weather.cache_ttl", "10m")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: TRAILKEEP_STORAGE_DATA_DIR → storage.data_dir
	v.SetEnvPrefix("TRAILKEEP")
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
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.BodyLimit <= 0 {
		errs = append(errs, "server.body_limit must be positive")
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir is required")
	}
	if c.Storage.PointLog == "" {
		errs = append(errs, "storage.point_log is required")
	}
	if c.Storage.Artifact == "" {
		errs = append(errs, "storage.artifact is required")
	}
	if c.Storage.TailWindow < 1024 {
		errs = append(errs, fmt.Sprintf("storage.tail_window must be at least 1024, got %d", c.Storage.TailWindow))
	}
	if c.Ingest.MinDistanceM < 0 {
		errs = append(errs, "ingest.min_distance_m must not be negative")
	}
	if c.Ingest.MinIntervalMS < 0 {
		errs = append(errs, "ingest.min_interval_ms must not be negative")
	}
	if c.Ingest.MaxSpeedKmh <= 0 {
		errs = append(errs, "ingest.max_speed_kmh must be positive")
	}
	if c.Materializer.MinInterval < 0 {
		errs = append(errs, "materializer.min_interval must not be negative")
	}
	if c.Privacy.ZoneTTL <= 0 {
		errs = append(errs, "privacy.zone_ttl must be positive")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats is enabled")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required when valkey is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
