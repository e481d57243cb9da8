// Package config loads the terminology server configuration from defaults,
// an optional config file and TXS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	vs "github.com/gofhir/validationsupport"
)

// EnvPrefix prefixes every environment variable, e.g. TXS_SERVER_PORT.
const EnvPrefix = "TXS"

type Config struct {
	FHIRVersion string            `mapstructure:"fhir_version"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Terminology TerminologyConfig `mapstructure:"terminology"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	SQLite      SQLiteConfig      `mapstructure:"sqlite"`
	S3          S3Config          `mapstructure:"s3"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Registry    RegistryConfig    `mapstructure:"registry"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TerminologyConfig struct {
	// Dirs are loaded into the in-memory modules at startup.
	Dirs []string `mapstructure:"dirs"`
	// ConceptMaps are YAML or JSON ConceptMap files.
	ConceptMaps []string `mapstructure:"conceptmaps"`
	// Packages are FHIR packages ("name#version") fetched from the registry.
	Packages []string `mapstructure:"packages"`
	// NoCommon skips the built-in common code systems.
	NoCommon bool `mapstructure:"no_common"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Shards  int           `mapstructure:"shards"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RegistryConfig struct {
	URL string `mapstructure:"url"`
	// CacheDir defaults to ~/.fhir/packages.
	CacheDir string `mapstructure:"cache_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fhir_version", "R4")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("terminology.dirs", []string{})
	v.SetDefault("terminology.conceptmaps", []string{})
	v.SetDefault("terminology.packages", []string{})
	v.SetDefault("terminology.no_common", false)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.shards", 16)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "txs")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("sqlite.path", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.path_style", false)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("registry.url", "https://packages.fhir.org")
	v.SetDefault("registry.cache_dir", "")
}

// New returns a viper instance with defaults and environment binding. File
// is read when not empty.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load reads the configuration. An empty file means defaults plus
// environment only.
func Load(file string) (*Config, error) {
	v, err := New(file)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Environment lists arrive as one comma separated string.
	cfg.Terminology.Dirs = splitList(cfg.Terminology.Dirs)
	cfg.Terminology.ConceptMaps = splitList(cfg.Terminology.ConceptMaps)
	cfg.Terminology.Packages = splitList(cfg.Terminology.Packages)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Version returns the configured FHIR version.
func (c *Config) Version() vs.FHIRVersion {
	v, err := vs.ParseFHIRVersion(c.FHIRVersion)
	if err != nil {
		return vs.R4
	}
	return v
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if _, err := vs.ParseFHIRVersion(c.FHIRVersion); err != nil {
		return fmt.Errorf("fhir_version: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be \"json\" or \"console\", got %q", c.Log.Format)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Cache.Shards < 0 {
		return fmt.Errorf("cache.shards must not be negative")
	}
	if c.Database.URL != "" && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.S3.Prefix != "" && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when s3.prefix is set")
	}
	if c.Remote.URL != "" {
		if !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
			return fmt.Errorf("remote.url must be an http(s) URL, got %q", c.Remote.URL)
		}
		if c.Remote.Timeout <= 0 {
			return fmt.Errorf("remote.timeout must be positive")
		}
	}
	if len(c.Terminology.Packages) > 0 && c.Registry.URL == "" {
		return fmt.Errorf("registry.url is required when terminology.packages is set")
	}
	return nil
}
