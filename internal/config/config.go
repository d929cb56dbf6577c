package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"batchrest/internal/jsoncodec"
)

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are read as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return Parse(data, format)
}

// Parse decodes, defaults and validates a configuration document
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}
	var err error
	if format == "yaml" {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = jsoncodec.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ForBackend builds a defaulted, validated configuration holding a single
// backend. The CLI uses it when no config file is given.
func ForBackend(name, backendURL string) (*Config, error) {
	cfg := &Config{
		Backends: []BackendConfig{{Name: name, URL: backendURL}},
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	// MetricsPort 0 is valid and disables the metrics listener
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	for i := range cfg.Backends {
		applyBackendDefaults(&cfg.Backends[i])
	}
}

// applyBackendDefaults sets default values for one backend
func applyBackendDefaults(b *BackendConfig) {
	b.URL = strings.TrimRight(b.URL, "/")
	if b.BatchPath == "" {
		b.BatchPath = DefaultBatchPath
	}
	if b.VersionParam == "" {
		b.VersionParam = DefaultVersionParam
	}
	if b.DebugParam == "" {
		b.DebugParam = DefaultDebugParam
	}

	if b.Batching.MaxSize == 0 {
		b.Batching.MaxSize = DefaultBatchMaxSize
	}
	if b.Batching.MaxWait == 0 {
		b.Batching.MaxWait = DefaultBatchMaxWait
	}

	if b.Retry.RateLimitDelay == 0 {
		b.Retry.RateLimitDelay = DefaultRateLimitDelay
	}
	if b.Retry.RateLimitMaxAttempts == 0 {
		b.Retry.RateLimitMaxAttempts = DefaultRateLimitMaxAttempts
	}
	if b.Retry.LockDelay == 0 {
		b.Retry.LockDelay = DefaultLockDelay
	}
	if b.Retry.LockMaxAttempts == 0 {
		b.Retry.LockMaxAttempts = DefaultLockMaxAttempts
	}
	if b.Retry.LockPattern == "" {
		b.Retry.LockPattern = DefaultLockPattern
	}

	if b.Auth.PublicKeyHeader == "" {
		b.Auth.PublicKeyHeader = DefaultPublicKeyHeader
	}
	if b.Auth.BasicKeyHeader == "" {
		b.Auth.BasicKeyHeader = DefaultBasicKeyHeader
	}

	if cb := b.CircuitBreaker; cb != nil {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = DefaultFailureThreshold
		}
		if cb.RecoveryTimeout == 0 {
			cb.RecoveryTimeout = DefaultRecoveryTimeout
		}
		if cb.HalfOpenMaxRequests == 0 {
			cb.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if len(cfg.Backends) == 0 {
		return errors.New("at least one backend is required")
	}

	names := make(map[string]bool)
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.Name == "" {
			return fmt.Errorf("backend[%d]: name is required", i)
		}
		if strings.Contains(b.Name, "/") {
			return fmt.Errorf("backend[%d]: name '%s' must not contain '/'", i, b.Name)
		}
		if names[b.Name] {
			return fmt.Errorf("backend[%d]: duplicate backend name '%s'", i, b.Name)
		}
		names[b.Name] = true

		if err := validateBackend(b); err != nil {
			return fmt.Errorf("backend '%s': %w", b.Name, err)
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("metricsPort must be between 0 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.MaxBodySize < 0 {
		return fmt.Errorf("maxBodySize must be non-negative")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	return nil
}

// validateBackend checks one backend's settings
func validateBackend(b *BackendConfig) error {
	u, err := url.Parse(b.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url '%s' must be an absolute http(s) URL", b.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}

	if b.Batching.MaxSize < 1 || b.Batching.MaxSize > MaxBatchMaxSize {
		return fmt.Errorf("batching.maxSize must be between 1 and %d", MaxBatchMaxSize)
	}
	if b.Batching.MaxWait < 0 {
		return fmt.Errorf("batching.maxWait must be non-negative")
	}

	if b.Retry.RateLimitDelay < 0 || b.Retry.LockDelay < 0 {
		return fmt.Errorf("retry delays must be non-negative")
	}
	if b.Retry.RateLimitMaxAttempts < 1 || b.Retry.LockMaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if _, err := regexp.Compile(b.Retry.LockPattern); err != nil {
		return fmt.Errorf("retry.lockPattern: %w", err)
	}

	switch b.Auth.Type {
	case AuthTypeNone:
	case AuthTypePublic, AuthTypeBasic:
		if b.Auth.Key == "" {
			return fmt.Errorf("auth.key is required when auth.type is set")
		}
	default:
		return fmt.Errorf("auth.type must be 0, 10 or 20")
	}

	if b.IsCacheEnabled() {
		if b.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be positive when cache is enabled")
		}
		if b.Cache.Size <= 0 {
			return fmt.Errorf("cache.size must be positive when cache is enabled")
		}
	}

	if cb := b.CircuitBreaker; cb != nil {
		if cb.FailureThreshold < 0 || cb.RecoveryTimeout < 0 || cb.HalfOpenMaxRequests < 0 {
			return fmt.Errorf("circuitBreaker values must be non-negative")
		}
	}

	return nil
}
