package model

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the complete devcheck configuration
type Config struct {
	Rules        RulesConfig       `yaml:"rules" mapstructure:"rules"`
	Browser      BrowserConfig     `yaml:"browser" mapstructure:"browser"`
	HTTP         HTTPConfig        `yaml:"http" mapstructure:"http"`
	Cache        CacheConfig       `yaml:"cache" mapstructure:"cache"`
	RateLimiting RateLimitConfig   `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Concurrency  ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Output       OutputConfig      `yaml:"output" mapstructure:"output"`
}

// RulesConfig controls the marker rule engine
type RulesConfig struct {
	Markers      MarkerSet     `yaml:"markers" mapstructure:"markers"`
	Ignore       IgnoreSet     `yaml:"ignore" mapstructure:"ignore"`
	FetchWorkers int           `yaml:"fetch_workers" mapstructure:"fetch_workers"` // concurrent script fetches
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"` // per script fetch
}

// BrowserConfig controls the headless browser collector
type BrowserConfig struct {
	Bin         string        `yaml:"bin" mapstructure:"bin"`                 // Chrome binary, empty = auto
	ControlURL  string        `yaml:"control_url" mapstructure:"control_url"` // connect to a running DevTools endpoint
	Headless    bool          `yaml:"headless" mapstructure:"headless"`
	PageTimeout time.Duration `yaml:"page_timeout" mapstructure:"page_timeout"`
	IdleWindow  time.Duration `yaml:"idle_window" mapstructure:"idle_window"` // quiet period that counts as network idle
}

// HTTPConfig controls the static HTTP collector
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS   bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// CacheConfig controls the script body cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RateLimitConfig controls per-domain request pacing
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// ConcurrencyConfig controls batch scanning
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// OutputConfig controls reporting
type OutputConfig struct {
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	LogFile string `yaml:"log_file,omitempty" mapstructure:"log_file"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	cacheDir := filepath.Join(os.TempDir(), "devcheck-cache")
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".devcheck", "cache")
	}

	return &Config{
		Rules: RulesConfig{
			Markers:      DefaultMarkers(),
			Ignore:       DefaultIgnore(),
			FetchWorkers: 4,
			FetchTimeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:    true,
			PageTimeout: 30 * time.Second,
			IdleWindow:  500 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "devcheck/0.1 (+https://github.com/ppiankov/devcheck)",
			MaxBodyBytes: 10_000_000,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       cacheDir,
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         10,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
	}
}
