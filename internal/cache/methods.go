package cache

import (
	"net/http"
	"strings"
)

// IsCacheable reports whether responses to method may be cached
func IsCacheable(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

// IsMutation reports whether method changes backend state, which makes
// every cached response suspect
func IsMutation(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
