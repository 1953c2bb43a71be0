package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the single configuration bag for the service. It is loaded
// once at startup, validated once, and immutable thereafter.
type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server       ServerConfig          `koanf:"server"`
	ContentStore ContentStoreConfig    `koanf:"content_store"`
	Metadata     MetadataConfig        `koanf:"metadata"`
	Cache        CacheConfig           `koanf:"cache"`
	Pipeline     PipelineConfig        `koanf:"pipeline"`
	Session      SessionConfig         `koanf:"session"`
	TierLimits   map[string]TierLimits `koanf:"tier_limits"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	TrustProxy      bool          `koanf:"trust_proxy"`
}

type ContentStoreConfig struct {
	Root           string `koanf:"root"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
}

type MetadataConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type CacheConfig struct {
	Backend      string        `koanf:"backend"` // memory or remote
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type PipelineConfig struct {
	WorkerPoolSize       int           `koanf:"worker_pool_size"`
	QueueCapacity        int           `koanf:"queue_capacity"`
	TranscriptTTLSeconds int           `koanf:"transcript_ttl_seconds"`
	OCRTTLSeconds        int           `koanf:"ocr_ttl_seconds"`
	ResultTTLSeconds     int           `koanf:"result_ttl_seconds"`
	StageTimeout         time.Duration `koanf:"stage_timeout"`
	TranscriptionLimit   time.Duration `koanf:"transcription_limit"`
}

type SessionConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
}

// TierLimits holds the per-tier monthly quotas and rate capacities.
// The sentinel -1 means unlimited.
type TierLimits struct {
	UploadsPerMonth    int      `koanf:"uploads_per_month"`
	VideosPerMonth     int      `koanf:"videos_per_month"`
	PDFsPerMonth       int      `koanf:"pdfs_per_month"`
	APICallsPerMinute  int      `koanf:"api_calls_per_minute"`
	VideoHoursPerMonth int      `koanf:"video_hours_per_month"`
	RateCapacity       int      `koanf:"rate_capacity"`
	RefillPerSecond    float64  `koanf:"refill_per_second"`
	Features           []string `koanf:"features"`
}

// Unlimited is the sentinel value for a quota with no limit.
const Unlimited = -1

// knownKeys enumerates every legal top-level configuration prefix. Any key
// outside this set rejects startup.
var knownKeys = []string{
	"version", "environment", "log_level",
	"server.", "content_store.", "metadata.", "cache.", "pipeline.",
	"session.", "tier_limits.",
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			TrustProxy:      false,
		},
		ContentStore: ContentStoreConfig{
			Root:           "./data/content",
			MaxUploadBytes: 512 << 20,
		},
		Metadata: MetadataConfig{
			URL:             "postgres://localhost:5432/evidence?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Pipeline: PipelineConfig{
			WorkerPoolSize:       4,
			QueueCapacity:        1024,
			TranscriptTTLSeconds: 3600,
			OCRTTLSeconds:        3600,
			ResultTTLSeconds:     3600,
			StageTimeout:         5 * time.Minute,
			TranscriptionLimit:   30 * time.Minute,
		},
		Session: SessionConfig{
			TokenExpiry: 24 * time.Hour,
		},
		TierLimits: DefaultTierLimits(),
	}
}

// DefaultTierLimits returns the built-in tier table. Enterprise and admin
// buckets are effectively unlimited per the rate limit policy.
func DefaultTierLimits() map[string]TierLimits {
	return map[string]TierLimits{
		"free": {
			UploadsPerMonth: 5, VideosPerMonth: 1, PDFsPerMonth: 5,
			APICallsPerMinute: 10, VideoHoursPerMonth: 1,
			RateCapacity: 5, RefillPerSecond: 5.0 / 60.0,
			Features: []string{"ocr"},
		},
		"starter": {
			UploadsPerMonth: 50, VideosPerMonth: 10, PDFsPerMonth: 50,
			APICallsPerMinute: 30, VideoHoursPerMonth: 5,
			RateCapacity: 5, RefillPerSecond: 5.0 / 60.0,
			Features: []string{"ocr", "transcription"},
		},
		"professional": {
			UploadsPerMonth: 500, VideosPerMonth: 100, PDFsPerMonth: 500,
			APICallsPerMinute: 120, VideoHoursPerMonth: 50,
			RateCapacity: 20, RefillPerSecond: 2,
			Features: []string{"ocr", "transcription", "violation_analysis", "export"},
		},
		"premium": {
			UploadsPerMonth: 2000, VideosPerMonth: 500, PDFsPerMonth: 2000,
			APICallsPerMinute: 300, VideoHoursPerMonth: 200,
			RateCapacity: 50, RefillPerSecond: 5,
			Features: []string{"ocr", "transcription", "violation_analysis", "export", "priority_queue"},
		},
		"enterprise": {
			UploadsPerMonth: Unlimited, VideosPerMonth: Unlimited, PDFsPerMonth: Unlimited,
			APICallsPerMinute: Unlimited, VideoHoursPerMonth: Unlimited,
			RateCapacity: 1_000_000_000, RefillPerSecond: 1_000_000,
			Features: []string{"ocr", "transcription", "violation_analysis", "export", "priority_queue", "bulk_api"},
		},
		"admin": {
			UploadsPerMonth: Unlimited, VideosPerMonth: Unlimited, PDFsPerMonth: Unlimited,
			APICallsPerMinute: Unlimited, VideoHoursPerMonth: Unlimited,
			RateCapacity: 1_000_000_000, RefillPerSecond: 1_000_000,
			Features: []string{"ocr", "transcription", "violation_analysis", "export", "priority_queue", "bulk_api"},
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, and
// EVX_-prefixed environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading configs/config.yaml: %w", err)
		}
	}

	if err := k.Load(env.Provider("EVX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "EVX_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if err := rejectUnknownKeys(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func rejectUnknownKeys(k *koanf.Koanf) error {
	for _, key := range k.Keys() {
		if !keyIsKnown(key) {
			return fmt.Errorf("unknown configuration key %q", key)
		}
	}
	return nil
}

func keyIsKnown(key string) bool {
	for _, known := range knownKeys {
		if key == strings.TrimSuffix(known, ".") || strings.HasPrefix(key, known) {
			return true
		}
	}
	return false
}

// Validate enforces startup invariants. Production requires the keys that
// development may default.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("environment must be development, staging, or production; got %q", c.Environment)
	}

	if c.Cache.Backend != "memory" && c.Cache.Backend != "remote" {
		return fmt.Errorf("cache backend must be memory or remote; got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "remote" && c.Cache.URL == "" {
		return fmt.Errorf("cache.url is required when cache backend is remote")
	}

	if c.Pipeline.WorkerPoolSize < 1 {
		return fmt.Errorf("pipeline.worker_pool_size must be >= 1")
	}
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be >= 1")
	}
	if c.Pipeline.TranscriptTTLSeconds < 0 || c.Pipeline.OCRTTLSeconds < 0 || c.Pipeline.ResultTTLSeconds < 0 {
		return fmt.Errorf("pipeline ttl values must be non-negative")
	}
	if c.ContentStore.MaxUploadBytes <= 0 {
		return fmt.Errorf("content_store.max_upload_bytes must be positive")
	}

	for tier := range c.TierLimits {
		if !validTier(tier) {
			return fmt.Errorf("unknown tier %q in tier_limits", tier)
		}
	}

	if c.Environment == "production" {
		if c.Metadata.URL == "" {
			return fmt.Errorf("metadata.url is required in production")
		}
		if c.ContentStore.Root == "" {
			return fmt.Errorf("content_store.root is required in production")
		}
		if c.Session.JWTSecret == "" {
			return fmt.Errorf("session.jwt_secret is required in production")
		}
	}

	return nil
}

func validTier(tier string) bool {
	switch tier {
	case "free", "starter", "professional", "premium", "enterprise", "admin":
		return true
	}
	return false
}

// TranscriptTTL returns the transcript cache TTL as a duration.
func (c *Config) TranscriptTTL() time.Duration {
	return time.Duration(c.Pipeline.TranscriptTTLSeconds) * time.Second
}

// OCRTTL returns the OCR cache TTL as a duration.
func (c *Config) OCRTTL() time.Duration {
	return time.Duration(c.Pipeline.OCRTTLSeconds) * time.Second
}

// ResultTTL returns the full-result cache TTL as a duration.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Pipeline.ResultTTLSeconds) * time.Second
}
