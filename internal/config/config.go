package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scholarfinder/reviewflow/internal/cache"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Remote  RemoteConfig  `yaml:"remote"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Polling PollingConfig `yaml:"polling"`
	Events  EventsConfig  `yaml:"events"`
	Logging LoggingConfig `yaml:"logging"`
	App     AppConfig     `yaml:"app"`
}

// ServerConfig holds the local gateway HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RemoteConfig holds the ScholarFinder API client configuration
type RemoteConfig struct {
	BaseURL string       `yaml:"base_url"`
	Timeout TimeoutConf  `yaml:"timeout"`
	Retry   RetryConfig  `yaml:"retry"`
	Upload  UploadConfig `yaml:"upload"`
}

// TimeoutConf separates per-call timeouts for heavy operations (upload,
// database search, validation start) from lightweight ones (status checks,
// metadata reads)
type TimeoutConf struct {
	Heavy time.Duration `yaml:"heavy"`
	Light time.Duration `yaml:"light"`
}

// RetryConfig holds the exponential backoff policy for retryable failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// UploadConfig holds the pre-flight manuscript file checks
type UploadConfig struct {
	MaxSizeMB         int      `yaml:"max_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// StoreConfig holds the durable job-identity store configuration
type StoreConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// ResourceTTL pairs the staleness and eviction windows for one cached
// resource type
type ResourceTTL struct {
	StaleAfter time.Duration `yaml:"stale_after"`
	EvictAfter time.Duration `yaml:"evict_after"`
}

// CacheConfig holds per-resource-type TTL windows
type CacheConfig struct {
	Metadata        ResourceTTL `yaml:"metadata"`
	Keywords        ResourceTTL `yaml:"keywords"`
	SearchResults   ResourceTTL `yaml:"search_results"`
	Validation      ResourceTTL `yaml:"validation"`
	Recommendations ResourceTTL `yaml:"recommendations"`
	ProcessMeta     ResourceTTL `yaml:"process_meta"`
	Shortlists      ResourceTTL `yaml:"shortlists"`
}

// CacheTable converts the configured windows into the cache's TTL table
func (c *Config) CacheTable() cache.Table {
	return cache.Table{
		cache.ResourceMetadata:        {StaleAfter: c.Cache.Metadata.StaleAfter, EvictAfter: c.Cache.Metadata.EvictAfter},
		cache.ResourceKeywords:        {StaleAfter: c.Cache.Keywords.StaleAfter, EvictAfter: c.Cache.Keywords.EvictAfter},
		cache.ResourceSearchResults:   {StaleAfter: c.Cache.SearchResults.StaleAfter, EvictAfter: c.Cache.SearchResults.EvictAfter},
		cache.ResourceValidation:      {StaleAfter: c.Cache.Validation.StaleAfter, EvictAfter: c.Cache.Validation.EvictAfter},
		cache.ResourceRecommendations: {StaleAfter: c.Cache.Recommendations.StaleAfter, EvictAfter: c.Cache.Recommendations.EvictAfter},
		cache.ResourceProcessMeta:     {StaleAfter: c.Cache.ProcessMeta.StaleAfter, EvictAfter: c.Cache.ProcessMeta.EvictAfter},
		cache.ResourceShortlists:      {StaleAfter: c.Cache.Shortlists.StaleAfter, EvictAfter: c.Cache.Shortlists.EvictAfter},
	}
}

// PollingConfig holds the validation status polling configuration. Interval
// bounds a single cycle; Budget bounds the whole polling session and is a
// separate, much larger timeout than a single HTTP call's.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
	Budget   time.Duration `yaml:"budget"`
}

// EventsConfig holds the optional workflow event stream configuration
type EventsConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	VHost              string        `yaml:"vhost"`
	Exchange           string        `yaml:"exchange"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	PublishRetries     int           `yaml:"publish_retries"`
	PublishRetryDelay  time.Duration `yaml:"publish_retry_delay"`
	PublishBackoffMult float64       `yaml:"publish_backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in zero-valued fields with the documented defaults
func (c *Config) applyDefaults() {
	if c.Remote.Timeout.Heavy <= 0 {
		c.Remote.Timeout.Heavy = 120 * time.Second
	}
	if c.Remote.Timeout.Light <= 0 {
		c.Remote.Timeout.Light = 15 * time.Second
	}
	if c.Remote.Retry.MaxAttempts <= 0 {
		c.Remote.Retry.MaxAttempts = 3
	}
	if c.Remote.Retry.BaseDelay <= 0 {
		c.Remote.Retry.BaseDelay = 2 * time.Second
	}
	if c.Remote.Retry.MaxDelay <= 0 {
		c.Remote.Retry.MaxDelay = 30 * time.Second
	}
	if c.Remote.Upload.MaxSizeMB <= 0 {
		c.Remote.Upload.MaxSizeMB = 20
	}
	if len(c.Remote.Upload.AllowedExtensions) == 0 {
		c.Remote.Upload.AllowedExtensions = []string{".doc", ".docx"}
	}
	if c.Polling.Interval <= 0 {
		c.Polling.Interval = 5 * time.Second
	}
	if c.Polling.Budget <= 0 {
		c.Polling.Budget = 10 * time.Minute
	}

	defaults := map[*ResourceTTL]ResourceTTL{
		&c.Cache.Metadata:        {StaleAfter: 5 * time.Minute, EvictAfter: 30 * time.Minute},
		&c.Cache.Keywords:        {StaleAfter: 5 * time.Minute, EvictAfter: 30 * time.Minute},
		&c.Cache.SearchResults:   {StaleAfter: 3 * time.Minute, EvictAfter: 20 * time.Minute},
		&c.Cache.Validation:      {StaleAfter: 2 * time.Minute, EvictAfter: 15 * time.Minute},
		&c.Cache.Recommendations: {StaleAfter: 15 * time.Minute, EvictAfter: time.Hour},
		&c.Cache.ProcessMeta:     {StaleAfter: 5 * time.Minute, EvictAfter: 30 * time.Minute},
		&c.Cache.Shortlists:      {StaleAfter: time.Minute, EvictAfter: 10 * time.Minute},
	}
	for ttl, def := range defaults {
		if ttl.StaleAfter <= 0 {
			ttl.StaleAfter = def.StaleAfter
		}
		if ttl.EvictAfter <= 0 {
			ttl.EvictAfter = def.EvictAfter
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base_url is required")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if c.Polling.Interval >= c.Polling.Budget {
		return fmt.Errorf("polling interval (%s) must be shorter than polling budget (%s)", c.Polling.Interval, c.Polling.Budget)
	}

	for name, ttl := range map[string]ResourceTTL{
		"metadata":        c.Cache.Metadata,
		"keywords":        c.Cache.Keywords,
		"search_results":  c.Cache.SearchResults,
		"validation":      c.Cache.Validation,
		"recommendations": c.Cache.Recommendations,
		"process_meta":    c.Cache.ProcessMeta,
		"shortlists":      c.Cache.Shortlists,
	} {
		if ttl.EvictAfter <= ttl.StaleAfter {
			return fmt.Errorf("cache %s: evict_after (%s) must be greater than stale_after (%s)", name, ttl.EvictAfter, ttl.StaleAfter)
		}
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required when events are enabled")
		}
		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}
		if c.Events.Exchange == "" {
			return fmt.Errorf("events exchange name is required when events are enabled")
		}
	}

	return nil
}
