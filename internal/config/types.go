package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Host           string          `json:"host" yaml:"host"`
	Port           int             `json:"port" yaml:"port"`
	WSPort         int             `json:"wsPort" yaml:"wsPort"`
	MetricsPort    int             `json:"metricsPort" yaml:"metricsPort"` // 0 disables /metrics
	LogLevel       string          `json:"logLevel" yaml:"logLevel"`
	MaxBodySize    int64           `json:"maxBodySize" yaml:"maxBodySize"`
	RequestTimeout int             `json:"requestTimeout" yaml:"requestTimeout"` // ms
	Backends       []BackendConfig `json:"backends" yaml:"backends"`
}

// BackendConfig describes one REST backend exposing a batch endpoint
type BackendConfig struct {
	Name           string                `json:"name" yaml:"name"`
	URL            string                `json:"url" yaml:"url"`
	BatchPath      string                `json:"batchPath" yaml:"batchPath"`
	Version        string                `json:"version" yaml:"version"`
	VersionParam   string                `json:"versionParam" yaml:"versionParam"`
	Debug          bool                  `json:"debug" yaml:"debug"`
	DebugParam     string                `json:"debugParam" yaml:"debugParam"`
	Batching       BatchingConfig        `json:"batching" yaml:"batching"`
	Retry          RetryConfig           `json:"retry" yaml:"retry"`
	Auth           AuthConfig            `json:"auth" yaml:"auth"`
	Cache          *CacheConfig          `json:"cache,omitempty" yaml:"cache,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
}

// BatchingConfig represents request coalescing configuration
type BatchingConfig struct {
	Enabled      *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"` // default true
	MaxSize      int   `json:"maxSize" yaml:"maxSize"`
	MaxWait      int   `json:"maxWait" yaml:"maxWait"` // ms
	SingleDirect bool  `json:"singleDirect" yaml:"singleDirect"`
}

// RetryConfig represents the retry policy for rate limit and lock errors
type RetryConfig struct {
	RateLimitDelay       int    `json:"rateLimitDelay" yaml:"rateLimitDelay"` // ms
	RateLimitMaxAttempts int    `json:"rateLimitMaxAttempts" yaml:"rateLimitMaxAttempts"`
	LockDelay            int    `json:"lockDelay" yaml:"lockDelay"` // ms
	LockMaxAttempts      int    `json:"lockMaxAttempts" yaml:"lockMaxAttempts"`
	LockPattern          string `json:"lockPattern" yaml:"lockPattern"`
}

// AuthConfig represents the initial session descriptor
type AuthConfig struct {
	Type            int    `json:"type" yaml:"type"` // 10 public key, 20 basic
	Key             string `json:"key" yaml:"key"`
	PublicKeyHeader string `json:"publicKeyHeader" yaml:"publicKeyHeader"`
	BasicKeyHeader  string `json:"basicKeyHeader" yaml:"basicKeyHeader"`
}

// CacheConfig represents GET response cache configuration
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	TTL     int  `json:"ttl" yaml:"ttl"`   // seconds
	Size    int  `json:"size" yaml:"size"` // number of entries
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	FailureThreshold    int  `json:"failureThreshold" yaml:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout" yaml:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests" yaml:"halfOpenMaxRequests"`
}

// Default values
const (
	DefaultHost                 = "localhost"
	DefaultPort                 = 8080
	DefaultWSPort               = 8081
	DefaultMetricsPort          = 9090
	DefaultLogLevel             = "info"
	DefaultMaxBodySize          = int64(0) // 0 means no limit
	DefaultRequestTimeout       = 30000    // ms
	DefaultBatchPath            = "batch"
	DefaultVersionParam         = "_version"
	DefaultDebugParam           = "_debug"
	DefaultBatchingEnabled      = true
	DefaultBatchMaxSize         = 10
	MaxBatchMaxSize             = 40
	DefaultBatchMaxWait         = 5   // ms
	DefaultRateLimitDelay       = 300 // ms
	DefaultRateLimitMaxAttempts = 5
	DefaultLockDelay            = 500 // ms
	DefaultLockMaxAttempts      = 5
	DefaultLockPattern          = `(?i)deadlock|lock wait timeout|try restarting transaction`
	DefaultPublicKeyHeader      = "Key-Authorization"
	DefaultBasicKeyHeader       = "Authorization"
	DefaultFailureThreshold     = 5
	DefaultRecoveryTimeout      = 30000 // ms
	DefaultHalfOpenMaxRequests  = 2
)

// Auth key types
const (
	AuthTypeNone   = 0
	AuthTypePublic = 10
	AuthTypeBasic  = 20
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// Backend returns the backend named name
func (c *Config) Backend(name string) (*BackendConfig, bool) {
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i], true
		}
	}
	return nil, false
}

// IsEnabled returns whether batching is on, defaulting to true
func (b *BatchingConfig) IsEnabled() bool {
	if b.Enabled == nil {
		return DefaultBatchingEnabled
	}
	return *b.Enabled
}

// GetMaxWaitDuration returns max wait as time.Duration
func (b *BatchingConfig) GetMaxWaitDuration() time.Duration {
	return time.Duration(b.MaxWait) * time.Millisecond
}

// GetRateLimitDelayDuration returns the rate limit delay as time.Duration
func (r *RetryConfig) GetRateLimitDelayDuration() time.Duration {
	return time.Duration(r.RateLimitDelay) * time.Millisecond
}

// GetLockDelayDuration returns the lock delay as time.Duration
func (r *RetryConfig) GetLockDelayDuration() time.Duration {
	return time.Duration(r.LockDelay) * time.Millisecond
}

// IsCacheEnabled returns true if cache is configured and enabled
func (b *BackendConfig) IsCacheEnabled() bool {
	return b.Cache != nil && b.Cache.Enabled
}

// IsCircuitBreakerEnabled returns true if the circuit breaker is configured and enabled
func (b *BackendConfig) IsCircuitBreakerEnabled() bool {
	return b.CircuitBreaker != nil && b.CircuitBreaker.Enabled
}

// GetTTLDuration returns cache TTL as time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetRecoveryTimeoutDuration returns recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}
