// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the fetch pool and politeness limits.
type CrawlerConfig struct {
	Concurrency    int      `mapstructure:"concurrency"`
	PerDomainMax   int      `mapstructure:"per_domain_max"`
	DownloadDelay  int      `mapstructure:"download_delay_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxRetries     int      `mapstructure:"max_retries"`
	MaxRedirects   int      `mapstructure:"max_redirects"`
	MaxDepth       int      `mapstructure:"max_depth"`
	QueueDepth     int      `mapstructure:"queue_depth"`
	ProxyURLs      []string `mapstructure:"proxy_urls"`
}

// ExtractConfig tunes the extraction and validation thresholds.
type ExtractConfig struct {
	MinContentLength int `mapstructure:"min_content_length"`
	FallbackMinChars int `mapstructure:"fallback_min_chars"`
	MaxLinksPerPage  int `mapstructure:"max_links_per_page"`
}

// SchedulerConfig controls the source sweep loop.
type SchedulerConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory stores (development mode).
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
	ArticleTable    string `mapstructure:"article_table"`
	SourceTable     string `mapstructure:"source_table"`
}

// ArchiveConfig sets up optional raw-HTML archiving.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"` // none | memory | gcs
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for stored-article notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig describes one configured crawl source.
type SourceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Enabled  bool   `mapstructure:"enabled"`
	Interval int    `mapstructure:"interval_minutes"`
	Selector string `mapstructure:"selector"`
	Category string `mapstructure:"category"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 16)
	v.SetDefault("crawler.per_domain_max", 8)
	v.SetDefault("crawler.download_delay_seconds", 1)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.max_redirects", 10)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("extract.min_content_length", 50)
	v.SetDefault("extract.fallback_min_chars", 100)
	v.SetDefault("extract.max_links_per_page", 10)
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("db.article_table", "articles")
	v.SetDefault("db.source_table", "crawl_sources")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Malformed
// source entries are fatal: the operator fixes them, the core does not
// attempt recovery.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Extract.MinContentLength <= 0 {
		return fmt.Errorf("extract.min_content_length must be > 0")
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if src.URL == "" {
			return fmt.Errorf("source %q: url is required", src.Name)
		}
		if src.Interval <= 0 {
			return fmt.Errorf("source %q: interval_minutes must be > 0", src.Name)
		}
	}
	return nil
}

// FetchTimeout returns the per-attempt fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// DownloadDelay returns the per-domain minimum inter-request delay.
func (c Config) DownloadDelay() time.Duration {
	return time.Duration(c.Crawler.DownloadDelay) * time.Second
}
