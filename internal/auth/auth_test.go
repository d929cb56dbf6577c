package auth

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSession_Headers(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		header string
		value  string
	}{
		{
			name:   "public key",
			cfg:    Config{Descriptor: Descriptor{Type: KeyTypePublic, Key: "abc"}},
			header: "Key-Authorization",
			value:  "abc",
		},
		{
			name:   "basic key",
			cfg:    Config{Descriptor: Descriptor{Type: KeyTypeBasic, Key: "dXNlcjpwdw=="}},
			header: "Authorization",
			value:  "Basic dXNlcjpwdw==",
		},
		{
			name: "custom header",
			cfg: Config{
				Descriptor:      Descriptor{Type: KeyTypePublic, Key: "abc"},
				PublicKeyHeader: "X-Api-Key",
			},
			header: "X-Api-Key",
			value:  "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = zerolog.Nop()
			s := NewSession(tt.cfg)
			h := s.Headers()
			assert.Len(t, h, 1)
			assert.Equal(t, tt.value, h.Get(tt.header))
		})
	}
}

func TestSession_NoDescriptorNoHeaders(t *testing.T) {
	s := NewSession(Config{Logger: zerolog.Nop()})
	assert.Empty(t, s.Headers())
	assert.False(t, s.Authenticated())

	s.SetDescriptor(Descriptor{Type: 99, Key: "x"})
	assert.Empty(t, s.Headers())
}

func TestSession_Invalidate(t *testing.T) {
	s := NewSession(Config{
		Descriptor: Descriptor{Type: KeyTypePublic, Key: "abc"},
		Logger:     zerolog.Nop(),
	})
	var notified atomic.Int32
	s.OnInvalidate(func() { notified.Add(1) })

	assert.True(t, s.Authenticated())
	s.InvalidateSession()

	assert.False(t, s.Authenticated())
	assert.Empty(t, s.Headers())
	assert.Equal(t, int32(1), notified.Load())

	var inv SessionInvalidator = InvalidatorFunc(func() { notified.Add(1) })
	inv.InvalidateSession()
	assert.Equal(t, int32(2), notified.Load())
}
