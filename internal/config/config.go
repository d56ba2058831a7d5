// Package config loads service configuration from a YAML file with
// environment variable overrides. Secrets never live in the YAML file; they
// are read from the environment (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/buremba/owletto-crawlers/internal/source"
)

// Defaults.
const (
	defaultServerAddr    = ":8080"
	defaultSweepSpec     = "@every 1m"
	defaultLogLevel      = "info"
	defaultIndexPrefix   = "collected"
	defaultDatabasePort  = "5432"
	defaultRedisAddr     = "localhost:6379"
	defaultElasticsearch = "http://localhost:9200"
)

// secretEnvKeys lists the environment variables handed to sources as the
// secrets bag.
var secretEnvKeys = []string{
	"GITHUB_TOKEN",
	"REDDIT_USER_AGENT",
}

// Config is the root service configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Log           LogConfig           `mapstructure:"log"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Sources       []map[string]any    `mapstructure:"sources"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis settings for adaptive pacing state.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// ElasticsearchConfig holds the delivery index settings.
type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	IndexPrefix string   `mapstructure:"index_prefix"`
	Enabled     bool     `mapstructure:"enabled"`
}

// SchedulerConfig controls the run scheduler.
type SchedulerConfig struct {
	SweepSpec string `mapstructure:"sweep_spec"`
}

// Load reads configuration from path (or the default search path when path
// is empty), applying environment overrides with the OWLETTO_ prefix.
func Load(path string) (*Config, error) {
	// A missing .env file is not an error; it only seeds the environment
	// in development.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/owletto")
	}

	v.SetEnvPrefix("OWLETTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// setDefaults applies default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "owletto-crawlers")
	v.SetDefault("app.environment", "development")
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.encoding", "json")
	v.SetDefault("server.addr", defaultServerAddr)
	v.SetDefault("server.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", defaultDatabasePort)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.addr", defaultRedisAddr)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("elasticsearch.addresses", []string{defaultElasticsearch})
	v.SetDefault("elasticsearch.index_prefix", defaultIndexPrefix)
	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("scheduler.sweep_spec", defaultSweepSpec)
}

// BuildSources decodes, validates and constructs every configured source.
func (c *Config) BuildSources() ([]source.Source, error) {
	sources := make([]source.Source, 0, len(c.Sources))
	for i, raw := range c.Sources {
		opts, err := source.DecodeOptions(raw)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		src, buildErr := opts.Build()
		if buildErr != nil {
			return nil, fmt.Errorf("source %d: %w", i, buildErr)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// SecretBag collects source secrets from the environment.
func (c *Config) SecretBag() source.EnvBag {
	bag := source.EnvBag{}
	for _, key := range secretEnvKeys {
		if value := os.Getenv(key); value != "" {
			bag[key] = value
		}
	}
	return bag
}

// Validate checks settings needed by every command.
func (c *Config) Validate() error {
	if c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database user and dbname are required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	if _, err := c.BuildSources(); err != nil {
		return err
	}
	return nil
}
