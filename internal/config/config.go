// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Remote  RemoteConfig  `mapstructure:"remote"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Content ContentConfig `mapstructure:"content"`
	Visited VisitedConfig `mapstructure:"visited"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Extract ExtractConfig `mapstructure:"extract"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RemoteConfig points at the crawl service.
type RemoteConfig struct {
	APIURL            string  `mapstructure:"api_url"`
	APIKey            string  `mapstructure:"api_key"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// PathsConfig locates the on-disk collections.
type PathsConfig struct {
	ReportsDir      string `mapstructure:"reports_dir"`
	ContentsDir     string `mapstructure:"contents_dir"`
	VisitedPagesDir string `mapstructure:"visited_pages_dir"`
}

// ContentConfig selects where downloaded artifacts go.
type ContentConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// VisitedConfig selects the visited-page snapshot backend.
type VisitedConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	ExclusionCap  int    `mapstructure:"exclusion_cap"`
}

// CrawlConfig holds submission defaults.
type CrawlConfig struct {
	MaxDepth  int      `mapstructure:"max_depth"`
	Limit     int      `mapstructure:"limit"`
	Formats   []string `mapstructure:"formats"`
	WaitForMs int      `mapstructure:"wait_for_ms"`
}

// ExtractConfig labels written into every metadata record.
type ExtractConfig struct {
	Source     string `mapstructure:"source"`
	SourceType string `mapstructure:"source_type"`
}

// DBConfig enables the Postgres download-run audit when DSN is set.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	ProgressTable string `mapstructure:"progress_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables completion notifications when TopicName is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the read-only reporting server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.api_url", "https://api.firecrawl.dev")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout_seconds", 120)
	v.SetDefault("remote.requests_per_second", 0)
	v.SetDefault("remote.burst", 1)
	v.SetDefault("remote.user_agent", "crawl-harvester/0.1")
	v.SetDefault("paths.reports_dir", "harvester-workdir/reports")
	v.SetDefault("paths.contents_dir", "harvester-workdir/content")
	v.SetDefault("paths.visited_pages_dir", "harvester-workdir/visited_pages")
	v.SetDefault("content.backend", "local")
	v.SetDefault("content.gcs_bucket", "")
	v.SetDefault("content.prefix", "content")
	v.SetDefault("visited.backend", "file")
	v.SetDefault("visited.redis_addr", "")
	v.SetDefault("visited.redis_password", "")
	v.SetDefault("visited.redis_db", 0)
	v.SetDefault("visited.key_prefix", "visited_pages:")
	v.SetDefault("visited.exclusion_cap", 122_000)
	v.SetDefault("crawl.max_depth", 2)
	v.SetDefault("crawl.limit", 500_000)
	v.SetDefault("crawl.formats", []string{"markdown"})
	v.SetDefault("crawl.wait_for_ms", 1000)
	v.SetDefault("extract.source", "")
	v.SetDefault("extract.source_type", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.progress_table", "download_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Remote.APIURL) == "" {
		return fmt.Errorf("remote.api_url must be set")
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be > 0")
	}
	if c.Remote.RequestsPerSecond < 0 {
		return fmt.Errorf("remote.requests_per_second must be >= 0")
	}
	if c.Paths.ReportsDir == "" {
		return fmt.Errorf("paths.reports_dir must be set")
	}
	switch c.Content.Backend {
	case "local":
		if c.Paths.ContentsDir == "" {
			return fmt.Errorf("paths.contents_dir must be set when content.backend is local")
		}
	case "gcs":
		if c.Content.GCSBucket == "" {
			return fmt.Errorf("content.gcs_bucket must be set when content.backend is gcs")
		}
	default:
		return fmt.Errorf("content.backend must be local or gcs, got %q", c.Content.Backend)
	}
	switch c.Visited.Backend {
	case "file":
		if c.Paths.VisitedPagesDir == "" {
			return fmt.Errorf("paths.visited_pages_dir must be set when visited.backend is file")
		}
	case "redis":
		if c.Visited.RedisAddr == "" {
			return fmt.Errorf("visited.redis_addr must be set when visited.backend is redis")
		}
	default:
		return fmt.Errorf("visited.backend must be file or redis, got %q", c.Visited.Backend)
	}
	if c.Visited.ExclusionCap <= 0 {
		return fmt.Errorf("visited.exclusion_cap must be > 0")
	}
	if c.Crawl.Limit <= 0 {
		return fmt.Errorf("crawl.limit must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// RemoteTimeout converts the configured timeout into a duration.
func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}
