// Package adapter is the REST client applications use: it builds backend
// URLs, turns find/query/save/delete into calls, routes them through the
// batching transport and decodes the backend's response envelope.
package adapter

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"batchrest/internal/auth"
	"batchrest/internal/batcher"
	"batchrest/internal/cache"
	"batchrest/internal/config"
	"batchrest/internal/metrics"
	"batchrest/internal/retry"
	"batchrest/internal/transport"
)

// Config for creating a new Adapter
type Config struct {
	Backend        config.BackendConfig
	RequestTimeout time.Duration
	Transport      transport.Transport // nil sends over HTTP
	Metrics        *metrics.Collector
	Logger         zerolog.Logger
}

// Adapter talks to one backend
type Adapter struct {
	name         string
	baseURL      string
	batchPath    string
	version      string
	versionParam string
	debug        bool
	debugParam   string

	session  *auth.Session
	executor *retry.Executor
	batching *batcher.Aggregator
	cache    cache.Cache
	http     *transport.HTTPTransport
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// New creates an adapter and its batching pipeline
func New(cfg Config) (*Adapter, error) {
	bc := cfg.Backend
	logger := cfg.Logger.With().Str("backend", bc.Name).Logger()

	a := &Adapter{
		name:         bc.Name,
		baseURL:      strings.TrimRight(bc.URL, "/"),
		batchPath:    bc.BatchPath,
		version:      bc.Version,
		versionParam: bc.VersionParam,
		debug:        bc.Debug,
		debugParam:   bc.DebugParam,
		metrics:      cfg.Metrics,
		logger:       logger.With().Str("component", "adapter").Logger(),
	}
	if a.batchPath == "" {
		a.batchPath = config.DefaultBatchPath
	}
	if a.versionParam == "" {
		a.versionParam = config.DefaultVersionParam
	}
	if a.debugParam == "" {
		a.debugParam = config.DefaultDebugParam
	}

	a.session = auth.NewSession(auth.Config{
		Descriptor:      auth.Descriptor{Type: auth.KeyType(bc.Auth.Type), Key: bc.Auth.Key},
		PublicKeyHeader: bc.Auth.PublicKeyHeader,
		BasicKeyHeader:  bc.Auth.BasicKeyHeader,
		Logger:          logger,
	})

	a.cache = cache.NewNoopCache()
	if bc.IsCacheEnabled() {
		mc, err := cache.NewMemoryCache(bc.Cache.Size, bc.Cache.GetTTLDuration())
		if err != nil {
			return nil, err
		}
		a.cache = mc
		a.session.OnInvalidate(mc.Purge)
	}

	tr := cfg.Transport
	if tr == nil {
		var breaker *transport.CircuitBreaker
		if bc.IsCircuitBreakerEnabled() {
			breaker = transport.NewCircuitBreaker(transport.CircuitBreakerConfig{
				Enabled:             true,
				Name:                bc.Name,
				FailureThreshold:    bc.CircuitBreaker.FailureThreshold,
				RecoveryTimeout:     bc.CircuitBreaker.GetRecoveryTimeoutDuration(),
				HalfOpenMaxRequests: bc.CircuitBreaker.HalfOpenMaxRequests,
				OnStateChange: func(name string, state transport.BreakerState) {
					cfg.Metrics.SetCircuitState(name, int(state))
				},
				Logger: cfg.Logger,
			})
			cfg.Metrics.SetCircuitState(bc.Name, int(transport.BreakerClosed))
		}
		a.http = transport.NewHTTPTransport(transport.HTTPConfig{
			Name:           bc.Name,
			RequestTimeout: cfg.RequestTimeout,
			Headers:        a.session,
			CircuitBreaker: breaker,
			Logger:         logger,
		})
		tr = a.http
	}

	policy, err := retry.NewPolicy(retry.PolicyConfig{
		RateLimitDelay:       bc.Retry.GetRateLimitDelayDuration(),
		RateLimitMaxAttempts: bc.Retry.RateLimitMaxAttempts,
		LockDelay:            bc.Retry.GetLockDelayDuration(),
		LockMaxAttempts:      bc.Retry.LockMaxAttempts,
		LockPattern:          bc.Retry.LockPattern,
	})
	if err != nil {
		return nil, err
	}

	a.executor = retry.NewExecutor(retry.Config{
		Backend:     bc.Name,
		Transport:   tr,
		Policy:      policy,
		Invalidator: a.session,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})

	dispatcher := batcher.NewDispatcher(batcher.DispatcherConfig{
		Backend:     bc.Name,
		BatchURL:    a.BuildURL(a.batchPath),
		Sender:      a.executor,
		Invalidator: a.session,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	})

	a.batching = batcher.NewAggregator(batcher.Config{
		Backend:      bc.Name,
		Enabled:      bc.Batching.IsEnabled(),
		MaxSize:      bc.Batching.MaxSize,
		MaxWait:      bc.Batching.GetMaxWaitDuration(),
		SingleDirect: bc.Batching.SingleDirect,
		Params:       a.entryParams,
		Dispatcher:   dispatcher,
		Direct:       transport.Func(a.sendDirect),
		Metrics:      cfg.Metrics,
		Logger:       logger,
	})

	return a, nil
}

// NewFromConfig creates an Adapter from config
func NewFromConfig(bc config.BackendConfig, globalCfg *config.Config, m *metrics.Collector, logger zerolog.Logger) (*Adapter, error) {
	return New(Config{
		Backend:        bc,
		RequestTimeout: globalCfg.GetRequestTimeoutDuration(),
		Metrics:        m,
		Logger:         logger,
	})
}

// Name returns the backend name
func (a *Adapter) Name() string {
	return a.name
}

// Session returns the auth session of this backend
func (a *Adapter) Session() *auth.Session {
	return a.session
}

// Batching returns the batching transport
func (a *Adapter) Batching() batcher.BatchingTransport {
	return a.batching
}

// BuildURL returns {host}/{path} with the version and debug params
func (a *Adapter) BuildURL(path string) string {
	return a.withParams(a.ResolveURL(path))
}

// ResolveURL returns {host}/{path} without extra params. Batched calls use
// it since their params travel on the envelope entry.
func (a *Adapter) ResolveURL(path string) string {
	return a.baseURL + "/" + strings.TrimLeft(path, "/")
}

// withParams appends the version and debug params to rawURL
func (a *Adapter) withParams(rawURL string) string {
	if a.version == "" && !a.debug {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if a.version != "" {
		q.Set(a.versionParam, a.version)
	}
	if a.debug {
		q.Set(a.debugParam, "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// entryParams injects the version and debug params into each batch entry
func (a *Adapter) entryParams(entry *batcher.BatchEntry) map[string]interface{} {
	if a.version == "" && !a.debug {
		return nil
	}
	params := make(map[string]interface{}, 2)
	if a.version != "" {
		params[a.versionParam] = a.version
	}
	if a.debug {
		params[a.debugParam] = true
	}
	return params
}

// sendDirect sends an unbatched call with the version params and retry policy
func (a *Adapter) sendDirect(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	out := *req
	out.URL = a.withParams(req.URL)
	return a.executor.Send(ctx, &out)
}

// Close flushes queued calls and releases resources
func (a *Adapter) Close(ctx context.Context) error {
	err := a.batching.Close(ctx)
	a.cache.Close()
	if a.http != nil {
		a.http.Close()
	}
	return err
}
