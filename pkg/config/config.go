// Package config loads and validates the crawl run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrNoTargets                = errors.New("crawl.targets or crawl.targets_file is required")
	ErrInvalidYearRange         = errors.New("crawl.year_from must not exceed crawl.year_to")
	ErrMissingOutRoot           = errors.New("crawl.out_root is required")
	ErrInvalidLimit             = errors.New("crawl.limit must be non-negative")
	ErrInvalidWorkers           = errors.New("crawl.workers must be at least 1")
	ErrInvalidPacing            = errors.New("crawl.pacing_ms must be non-negative")
	ErrInvalidMaxListingErrors  = errors.New("crawl.max_listing_errors must be at least 1")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrUnknownSite              = errors.New("crawl.site must be 'nature' or 'generic'")
	ErrGenericIncomplete        = errors.New("generic.listing_url_pattern and generic.list.item selector are required for the generic site")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
)

// Config represents the complete run configuration.
type Config struct {
	Crawl   CrawlConfig   `yaml:"crawl"`
	Browser BrowserConfig `yaml:"browser"`
	Retry   RetryPolicy   `yaml:"retry"`
	Storage StorageConfig `yaml:"storage"`
	Catalog CatalogConfig `yaml:"catalog"`
	Generic GenericConfig `yaml:"generic"`
	Logging LoggingConfig `yaml:"logging"`
}

// CrawlConfig holds the run parameters.
type CrawlConfig struct {
	Site        string   `yaml:"site"`
	Targets     []string `yaml:"targets"`
	TargetsFile string   `yaml:"targets_file"`
	YearFrom    int      `yaml:"year_from"`
	YearTo      int      `yaml:"year_to"`
	OutRoot     string   `yaml:"out_root"`
	// Limit of 0 means unlimited.
	Limit              int  `yaml:"limit"`
	Workers            int  `yaml:"workers"`
	PacingMs           int  `yaml:"pacing_ms"`
	MaxListingErrors   int  `yaml:"max_listing_errors"`
	MaxArticleFailures int  `yaml:"max_article_failures"`
	Resume             bool `yaml:"resume"`
}

// BrowserConfig controls the headless browser session.
type BrowserConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Headless   bool   `yaml:"headless"`
	UserAgent  string `yaml:"user_agent"`
	TimeoutSec int    `yaml:"timeout_sec"`
	// WaitMs lets client-side rendering settle after the body is ready.
	WaitMs int `yaml:"wait_ms"`
}

// RetryPolicy defines retry behavior for document fetches.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// StorageConfig configures the resume index and the optional record sinks.
type StorageConfig struct {
	IndexPath string         `yaml:"index_path"`
	Mongo     MongoConfig    `yaml:"mongo"`
	Postgres  PostgresConfig `yaml:"postgres"`
	Supabase  SupabaseConfig `yaml:"supabase"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SupabaseConfig struct {
	URL              string `yaml:"url"`
	Key              string `yaml:"key"`
	Password         string `yaml:"password"`
	ConnectionString string `yaml:"connection_string"`
}

// CatalogConfig controls journal catalog discovery.
type CatalogConfig struct {
	CacheDir     string `yaml:"cache_dir"`
	ForceRefresh bool   `yaml:"force_refresh"`
}

// GenericConfig describes a site by CSS selectors.
type GenericConfig struct {
	Name              string        `yaml:"name"`
	ListingURLPattern string        `yaml:"listing_url_pattern"`
	BaseURL           string        `yaml:"base_url"`
	List              ListConfig    `yaml:"list"`
	Article           ArticleConfig `yaml:"article"`
}

// ListConfig holds selectors for listing pages.
type ListConfig struct {
	Item     string `yaml:"item"`
	Link     string `yaml:"link"`
	Title    string `yaml:"title"`
	Date     string `yaml:"date"`
	DateAttr string `yaml:"date_attr"`
	// Eligible marks open entries; empty means every entry is eligible.
	Eligible string `yaml:"eligible"`
}

// ArticleConfig holds selectors for article pages.
type ArticleConfig struct {
	Title        string `yaml:"title"`
	Authors      string `yaml:"authors"`
	Date         string `yaml:"date"`
	DateAttr     string `yaml:"date_attr"`
	Abstract     string `yaml:"abstract"`
	Section      string `yaml:"section"`
	SectionTitle string `yaml:"section_title"`
	Figure       string `yaml:"figure"`
	Reference    string `yaml:"reference"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with the defaults of a sequential Nature crawl.
func Default() *Config {
	year := time.Now().Year()
	return &Config{
		Crawl: CrawlConfig{
			Site:             "nature",
			YearFrom:         year - 1,
			YearTo:           year,
			OutRoot:          "output",
			Workers:          1,
			PacingMs:         1000,
			MaxListingErrors: 3,
			Resume:           true,
		},
		Browser: BrowserConfig{
			Enabled:    true,
			Headless:   true,
			UserAgent:  DefaultUserAgent,
			TimeoutSec: 60,
			WaitMs:     2000,
		},
		Retry: RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    1000,
			MaxDelayMs:        10000,
			BackoffMultiplier: 2.0,
			TimeoutSec:        60,
		},
		Storage: StorageConfig{
			IndexPath: ".cache/papers_crawler/index.db",
		},
		Catalog: CatalogConfig{
			CacheDir: ".cache/papers_crawler",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultUserAgent is a desktop Firefox user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0"

// LoadConfig loads configuration from a YAML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// ResolveTargets merges inline targets with the targets file, dropping duplicates.
func (c *Config) ResolveTargets() error {
	if c.Crawl.TargetsFile == "" {
		c.Crawl.Targets = dedupe(c.Crawl.Targets)
		return nil
	}

	fromFile, err := ReadTargetsFile(c.Crawl.TargetsFile)
	if err != nil {
		return err
	}
	c.Crawl.Targets = dedupe(append(c.Crawl.Targets, fromFile...))
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Crawl.Targets) == 0 {
		return ErrNoTargets
	}

	if c.Crawl.YearFrom > c.Crawl.YearTo {
		return fmt.Errorf("%w: %d > %d", ErrInvalidYearRange, c.Crawl.YearFrom, c.Crawl.YearTo)
	}

	if c.Crawl.OutRoot == "" {
		return ErrMissingOutRoot
	}

	if c.Crawl.Limit < 0 {
		return ErrInvalidLimit
	}

	if c.Crawl.Workers < 1 {
		return ErrInvalidWorkers
	}

	if c.Crawl.PacingMs < 0 {
		return ErrInvalidPacing
	}

	if c.Crawl.MaxListingErrors < 1 {
		return ErrInvalidMaxListingErrors
	}

	switch c.Crawl.Site {
	case "nature":
	case "generic":
		if c.Generic.ListingURLPattern == "" || c.Generic.List.Item == "" {
			return ErrGenericIncomplete
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSite, c.Crawl.Site)
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	return nil
}

// Pacing is the delay applied after every attempted article.
func (c *CrawlConfig) Pacing() time.Duration {
	return time.Duration(c.PacingMs) * time.Millisecond
}

// RetryDelay returns the backoff before retry number n (1-based).
func (rp *RetryPolicy) RetryDelay(n int) time.Duration {
	if n < 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < n; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	if rp.MaxDelayMs > 0 && int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the per-attempt timeout.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Site: %s, Targets: %d, Years: %d-%d, Limit: %d, Workers: %d, Out: %s}",
		c.Crawl.Site,
		len(c.Crawl.Targets),
		c.Crawl.YearFrom,
		c.Crawl.YearTo,
		c.Crawl.Limit,
		c.Crawl.Workers,
		c.Crawl.OutRoot,
	)
}
