package proxy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"batchrest/internal/batcher"
)

// Backend is what the gateway needs from an adapter
type Backend interface {
	Name() string
	ResolveURL(path string) string
	Request(ctx context.Context, call batcher.Call) (*batcher.Result, error)
	Close(ctx context.Context) error
}

// Router maps backend names to their adapters
type Router struct {
	backends map[string]Backend
	mu       sync.RWMutex
}

// NewRouter creates a new Router
func NewRouter() *Router {
	return &Router{
		backends: make(map[string]Backend),
	}
}

// AddBackend adds a backend to the router
func (r *Router) AddBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// GetBackend returns the backend with the given name
func (r *Router) GetBackend(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend '%s' not found", name)
	}
	return b, nil
}

// GetBackendFromPath splits /{backend}/{path...} and returns the backend
// together with the remaining path
func (r *Router) GetBackendFromPath(path string) (Backend, string, error) {
	name, rest := splitPath(path)
	if name == "" {
		return nil, "", fmt.Errorf("invalid path: backend name is required")
	}
	b, err := r.GetBackend(name)
	if err != nil {
		return nil, "", err
	}
	return b, rest, nil
}

// splitPath splits a URL path into its first segment and the rest
// Examples:
//
//	/main -> main, ""
//	/main/post/1 -> main, post/1
func splitPath(path string) (string, string) {
	path = strings.TrimPrefix(path, "/")
	if idx := strings.Index(path, "/"); idx != -1 {
		return path[:idx], path[idx+1:]
	}
	return path, ""
}

// GetBackendNames returns all registered backend names, sorted
func (r *Router) GetBackendNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasBackend returns true if a backend is registered under name
func (r *Router) HasBackend(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.backends[name]
	return ok
}

// CloseAll flushes and closes every backend
func (r *Router) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, b := range r.backends {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
