// Package retry resends a single HTTP request when the backend answers with
// a recoverable status, waiting a fixed delay between attempts.
package retry

import (
	"net/http"
	"regexp"
	"time"

	"batchrest/internal/transport"
)

// DefaultLockPattern matches the backend's transient lock messages
const DefaultLockPattern = `(?i)deadlock|lock wait timeout|try restarting transaction`

// Rule names, also used as metric reasons
const (
	ReasonRateLimit = "rate_limit"
	ReasonLock      = "transient_lock"
)

// Rule describes one recoverable response class
type Rule struct {
	Name        string
	Status      int
	Pattern     *regexp.Regexp
	Delay       time.Duration
	MaxAttempts int
	Kind        error
}

// Matches reports whether resp belongs to this rule. A nil Pattern matches
// any body.
func (r *Rule) Matches(resp *transport.Response) bool {
	if resp == nil || resp.StatusCode != r.Status {
		return false
	}
	if r.Pattern == nil {
		return true
	}
	return r.Pattern.Match(resp.Body) || r.Pattern.MatchString(resp.StatusText)
}

// Policy is an ordered list of rules; the first matching rule wins
type Policy struct {
	Rules []Rule
}

// PolicyConfig holds the tunable values of the default policy
type PolicyConfig struct {
	RateLimitDelay       time.Duration
	RateLimitMaxAttempts int
	LockDelay            time.Duration
	LockMaxAttempts      int
	LockPattern          string
}

// DefaultPolicyConfig returns 429 -> 300ms x5 and lock -> 500ms x5
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RateLimitDelay:       300 * time.Millisecond,
		RateLimitMaxAttempts: 5,
		LockDelay:            500 * time.Millisecond,
		LockMaxAttempts:      5,
		LockPattern:          DefaultLockPattern,
	}
}

// DefaultPolicy returns the policy built from DefaultPolicyConfig
func DefaultPolicy() Policy {
	p, _ := NewPolicy(DefaultPolicyConfig())
	return p
}

// NewPolicy builds the rate limit and transient lock rules
func NewPolicy(cfg PolicyConfig) (Policy, error) {
	pattern := cfg.LockPattern
	if pattern == "" {
		pattern = DefaultLockPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Policy{}, err
	}

	return Policy{Rules: []Rule{
		{
			Name:        ReasonRateLimit,
			Status:      http.StatusTooManyRequests,
			Delay:       cfg.RateLimitDelay,
			MaxAttempts: cfg.RateLimitMaxAttempts,
			Kind:        transport.ErrRateLimited,
		},
		{
			Name:        ReasonLock,
			Status:      http.StatusInternalServerError,
			Pattern:     re,
			Delay:       cfg.LockDelay,
			MaxAttempts: cfg.LockMaxAttempts,
			Kind:        transport.ErrTransientLock,
		},
	}}, nil
}

// Match returns the first rule matching resp, or nil
func (p Policy) Match(resp *transport.Response) *Rule {
	for i := range p.Rules {
		if p.Rules[i].Matches(resp) {
			return &p.Rules[i]
		}
	}
	return nil
}

// fixedBackOff returns whatever delay the last failed attempt asked for.
// The operation itself decides when to stop by returning a permanent error.
type fixedBackOff struct {
	delay time.Duration
}

func (b *fixedBackOff) NextBackOff() time.Duration {
	return b.delay
}

func (b *fixedBackOff) Reset() {
	b.delay = 0
}
