// Package auth turns the stored session descriptor into request headers and
// drops the session when the backend rejects it.
package auth

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// KeyType selects how the key is presented to the backend
type KeyType int

const (
	KeyTypeNone   KeyType = 0
	KeyTypePublic KeyType = 10
	KeyTypeBasic  KeyType = 20
)

// Default header names
const (
	DefaultPublicKeyHeader = "Key-Authorization"
	DefaultBasicKeyHeader  = "Authorization"
)

// Descriptor is the authenticated session data
type Descriptor struct {
	Type KeyType
	Key  string
}

// Valid reports whether the descriptor produces a header
func (d Descriptor) Valid() bool {
	return d.Key != "" && (d.Type == KeyTypePublic || d.Type == KeyTypeBasic)
}

// SessionInvalidator is notified when the backend answers 401
type SessionInvalidator interface {
	InvalidateSession()
}

// InvalidatorFunc adapts a function to SessionInvalidator
type InvalidatorFunc func()

// InvalidateSession calls f
func (f InvalidatorFunc) InvalidateSession() {
	f()
}

// Config for creating a new Session
type Config struct {
	Descriptor      Descriptor
	PublicKeyHeader string
	BasicKeyHeader  string
	Logger          zerolog.Logger
}

// Session holds the current descriptor, provides auth headers and
// implements SessionInvalidator
type Session struct {
	descriptor      Descriptor
	publicKeyHeader string
	basicKeyHeader  string
	listeners       []func()
	logger          zerolog.Logger
	mu              sync.RWMutex
}

// NewSession creates a new Session
func NewSession(cfg Config) *Session {
	if cfg.PublicKeyHeader == "" {
		cfg.PublicKeyHeader = DefaultPublicKeyHeader
	}
	if cfg.BasicKeyHeader == "" {
		cfg.BasicKeyHeader = DefaultBasicKeyHeader
	}
	return &Session{
		descriptor:      cfg.Descriptor,
		publicKeyHeader: cfg.PublicKeyHeader,
		basicKeyHeader:  cfg.BasicKeyHeader,
		logger:          cfg.Logger.With().Str("component", "auth").Logger(),
	}
}

// Descriptor returns the current descriptor
func (s *Session) Descriptor() Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.descriptor
}

// SetDescriptor replaces the current descriptor
func (s *Session) SetDescriptor(d Descriptor) {
	s.mu.Lock()
	s.descriptor = d
	s.mu.Unlock()
}

// Authenticated reports whether a usable descriptor is stored
func (s *Session) Authenticated() bool {
	return s.Descriptor().Valid()
}

// OnInvalidate registers fn to run every time the session is invalidated
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Headers returns the auth header for the current descriptor
func (s *Session) Headers() http.Header {
	s.mu.RLock()
	d := s.descriptor
	s.mu.RUnlock()

	h := make(http.Header)
	if !d.Valid() {
		return h
	}
	switch d.Type {
	case KeyTypePublic:
		h.Set(s.publicKeyHeader, d.Key)
	case KeyTypeBasic:
		h.Set(s.basicKeyHeader, "Basic "+d.Key)
	}
	return h
}

// InvalidateSession clears the descriptor and notifies listeners
func (s *Session) InvalidateSession() {
	s.mu.Lock()
	wasValid := s.descriptor.Valid()
	s.descriptor = Descriptor{}
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if wasValid {
		s.logger.Warn().Msg("session invalidated by backend")
	}
	for _, fn := range listeners {
		fn()
	}
}
