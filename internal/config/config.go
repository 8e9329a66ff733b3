package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	UploadBackendLocal    = "local"
	UploadBackendSupabase = "supabase"
)

type Config struct {
	// Replicate
	ReplicateAPIToken   string
	ReplicateAPIBaseURL string
	ReplicateModel      string
	InputSchema         string
	PreferWait          string
	TimeoutMs           int
	MaxRetries          int
	BackoffBaseMs       int
	BackoffCapMs        int
	VersionCacheTTL     time.Duration
	CancelAbandoned     bool

	// Uploads
	UploadBackend       string
	UploadDir           string
	UploadMaxBytes      int64
	VerifyUploads       bool
	UploadTTL           time.Duration
	UploadSweepInterval time.Duration
	// PublicBaseURL pins the origin of returned upload URLs. When empty it is
	// derived from the request's forwarding headers, which lets a caller choose
	// the host that the reachability check contacts. Set it in production.
	PublicBaseURL string

	// Supabase storage (UPLOAD_BACKEND=supabase)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Server
	Port        string
	Environment string
	LogLevel    string
	StaticDir   string
	// RateLimitRPS limits generate and upload calls per client IP. Zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty trusts none, so the client IP is the connection address.
	TrustedProxies []string
}

func Load() (*Config, error) {
	cfg := &Config{
		ReplicateAPIToken:   strings.TrimSpace(getEnv("REPLICATE_API_TOKEN", "")),
		ReplicateAPIBaseURL: getEnv("REPLICATE_API_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:      getEnv("REPLICATE_MODEL", "bytedance/seedream-4"),
		InputSchema:         getEnv("REPLICATE_INPUT_SCHEMA", "seedream-4"),
		PreferWait:          os.Getenv("REPLICATE_PREFER_WAIT"),

		UploadBackend:         getEnv("UPLOAD_BACKEND", UploadBackendLocal),
		UploadDir:             getEnv("UPLOAD_DIR", "uploads"),
		PublicBaseURL:         strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "uploads"),

		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		StaticDir:   getEnv("STATIC_DIR", "public"),
	}
	if _, set := os.LookupEnv("REPLICATE_PREFER_WAIT"); !set {
		cfg.PreferWait = "wait"
	}

	var err error
	if cfg.TimeoutMs, err = getEnvInt("REPLICATE_TIMEOUT_MS", 60000); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvInt("REPLICATE_MAX_RETRIES", 4); err != nil {
		return nil, err
	}
	if cfg.BackoffBaseMs, err = getEnvInt("REPLICATE_BACKOFF_BASE_MS", 500); err != nil {
		return nil, err
	}
	if cfg.BackoffCapMs, err = getEnvInt("REPLICATE_BACKOFF_CAP_MS", 8000); err != nil {
		return nil, err
	}
	if cfg.VersionCacheTTL, err = getEnvDuration("REPLICATE_VERSION_CACHE_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.CancelAbandoned, err = getEnvBool("CANCEL_ABANDONED", false); err != nil {
		return nil, err
	}
	maxBytes, err := getEnvInt("UPLOAD_MAX_BYTES", 25<<20)
	if err != nil {
		return nil, err
	}
	cfg.UploadMaxBytes = int64(maxBytes)
	if cfg.VerifyUploads, err = getEnvBool("VERIFY_UPLOADS", true); err != nil {
		return nil, err
	}
	if cfg.UploadTTL, err = getEnvDuration("UPLOAD_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.UploadSweepInterval, err = getEnvDuration("UPLOAD_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getEnvFloat("RATE_LIMIT_RPS", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", 5); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants only. A missing REPLICATE_API_TOKEN is not an
// error here: it is reported by /health and rejected per request.
func (c *Config) Validate() error {
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("REPLICATE_TIMEOUT_MS must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("REPLICATE_MAX_RETRIES must not be negative")
	}
	if c.BackoffBaseMs <= 0 || c.BackoffCapMs < c.BackoffBaseMs {
		return fmt.Errorf("REPLICATE_BACKOFF_BASE_MS must be positive and not exceed REPLICATE_BACKOFF_CAP_MS")
	}
	if !strings.Contains(c.ReplicateModel, "/") {
		return fmt.Errorf("REPLICATE_MODEL must be in owner/name form, got %q", c.ReplicateModel)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if c.UploadTTL > 0 && c.UploadSweepInterval <= 0 {
		return fmt.Errorf("UPLOAD_SWEEP_INTERVAL must be positive when UPLOAD_TTL is set")
	}
	if c.RateLimitRPS < 0 || (c.RateLimitRPS > 0 && c.RateLimitBurst < 1) {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative and RATE_LIMIT_BURST must be at least 1")
	}
	switch c.UploadBackend {
	case UploadBackendLocal:
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required")
		}
	case UploadBackendSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required when UPLOAD_BACKEND=supabase")
		}
		if c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required when UPLOAD_BACKEND=supabase")
		}
	default:
		return fmt.Errorf("UPLOAD_BACKEND must be %q or %q, got %q", UploadBackendLocal, UploadBackendSupabase, c.UploadBackend)
	}
	return nil
}

func (c *Config) HasToken() bool {
	return c.ReplicateAPIToken != ""
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvDuration accepts Go durations ("90s", "24h") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
