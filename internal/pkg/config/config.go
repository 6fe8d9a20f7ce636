package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Location  LocationConfig  `mapstructure:"location"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServiceConfig identifies the layer service and the first layer to query.
type ServiceConfig struct {
	URL            string `mapstructure:"url"`
	Layer          string `mapstructure:"layer"`
	DirectoryLayer string `mapstructure:"directory_layer"`
	Client         string `mapstructure:"client"`
	Version        string `mapstructure:"version"`
	Bundle         string `mapstructure:"bundle"`
	OS             string `mapstructure:"os"`
	Build          string `mapstructure:"build"`
	Language       string `mapstructure:"language"`
	DeviceID       string `mapstructure:"device_id"`
}

type FetchConfig struct {
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	BundleTimeout time.Duration `mapstructure:"bundle_timeout"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	Radius        int           `mapstructure:"radius"`
	Accuracy      int           `mapstructure:"accuracy"`
	PageCacheTTL  int           `mapstructure:"page_cache_ttl"`
	IconBundleURL string        `mapstructure:"icon_bundle_url"`
	RefreshPerMin int           `mapstructure:"refresh_per_minute"`
}

type LocationConfig struct {
	ProcessNoise float64       `mapstructure:"process_noise"`
	InitTimeout  time.Duration `mapstructure:"init_timeout"`
	Source       string        `mapstructure:"source"` // "nats" | "fixed"
	FixedLat     float64       `mapstructure:"fixed_lat"`
	FixedLon     float64       `mapstructure:"fixed_lon"`
	Accuracy     float64       `mapstructure:"accuracy"`
}

type EngineConfig struct {
	TickHz             int           `mapstructure:"tick_hz"`
	SkipInvalidObjects bool          `mapstructure:"skip_invalid_objects"`
	HeadingWarmup      time.Duration `mapstructure:"heading_warmup"`
	DeviceAngle        float64       `mapstructure:"device_angle"`
	PublishFrames      bool          `mapstructure:"publish_frames"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ValkeyConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
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
	v.SetDefault("service.url", "https://www.arpoise.com/cgi-bin/ArpoiseDirectory.cgi")
	v.SetDefault("service.layer", "Arpoise-Directory")
	v.SetDefault("service.directory_layer", "Arpoise-Directory")
	v.SetDefault("service.client", "Arpoise")
	v.SetDefault("service.version", "1")
	v.SetDefault("service.bundle", "190224")
	v.SetDefault("service.os", "Android")
	v.SetDefault("service.build", "rel")
	v.SetDefault("service.language", "en")
	v.SetDefault("service.device_id", "")
	v.SetDefault("fetch.page_timeout", 30*time.Second)
	v.SetDefault("fetch.bundle_timeout", 60*time.Second)
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.radius", 1500)
	v.SetDefault("fetch.accuracy", 100)
	v.SetDefault("fetch.page_cache_ttl", 0)
	v.SetDefault("fetch.icon_bundle_url", "")
	v.SetDefault("fetch.refresh_per_minute", 30)
	v.SetDefault("location.process_noise", 3.0)
	v.SetDefault("location.init_timeout", 30*time.Second)
	v.SetDefault("location.source", "nats")
	v.SetDefault("location.fixed_lat", 48.158464)
	v.SetDefault("location.fixed_lon", 11.578708)
	v.SetDefault("location.accuracy", 10.0)
	v.SetDefault("engine.tick_hz", 30)
	v.SetDefault("engine.skip_invalid_objects", false)
	v.SetDefault("engine.heading_warmup", 2*time.Second)
	v.SetDefault("engine.device_angle", 360.0)
	v.SetDefault("engine.publish_frames", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.enabled", false)
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

	// Environment variables: GEOAUGMENT_SERVICE_URL → service.url
	v.SetEnvPrefix("GEOAUGMENT")
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

	if c.Service.URL == "" {
		errs = append(errs, "service.url is required")
	}
	if c.Service.Layer == "" {
		errs = append(errs, "service.layer is required")
	}
	if c.Fetch.PageTimeout <= 0 {
		errs = append(errs, "fetch.page_timeout must be positive")
	}
	if c.Fetch.BundleTimeout <= 0 {
		errs = append(errs, "fetch.bundle_timeout must be positive")
	}
	if c.Fetch.MaxRedirects < 0 {
		errs = append(errs, fmt.Sprintf("fetch.max_redirects must not be negative, got %d", c.Fetch.MaxRedirects))
	}
	if c.Location.ProcessNoise <= 0 {
		errs = append(errs, "location.process_noise must be positive")
	}
	switch c.Location.Source {
	case "nats", "fixed":
	default:
		errs = append(errs, fmt.Sprintf("location.source must be nats or fixed, got %q", c.Location.Source))
	}
	if c.Location.Source == "nats" && !c.NATS.Enabled {
		errs = append(errs, "location.source nats requires nats.enabled")
	}
	if c.Engine.TickHz <= 0 || c.Engine.TickHz > 240 {
		errs = append(errs, fmt.Sprintf("engine.tick_hz must be 1-240, got %d", c.Engine.TickHz))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
