package batcher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"batchrest/internal/jsoncodec"
)

// normalizedCall is a call reduced to the fields that identify it
type normalizedCall struct {
	Path   string          // relative to the host, no leading slash
	Method string          // upper case
	Data   json.RawMessage // canonical JSON, nil when the call has none
}

// Checksum returns a deterministic fingerprint of a call. Calls with equal
// checksums are the same request and share one batch entry.
func Checksum(rawURL, method string, data json.RawMessage) (string, error) {
	n, err := normalize(rawURL, method, data)
	if err != nil {
		return "", err
	}
	return n.checksum(), nil
}

func (n *normalizedCall) checksum() string {
	data := "null"
	if n.Data != nil {
		data = string(n.Data)
	}
	sum := sha256.Sum256([]byte(n.Path + "-" + data + "-" + n.Method))
	return hex.EncodeToString(sum[:])
}

// normalize merges the query string into object data (query keys win),
// canonicalises the data and strips scheme and host from the URL. When
// data is not an object the query stays on the path with sorted keys.
func normalize(rawURL, method string, data json.RawMessage) (*normalizedCall, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %v", ErrInvalidCall, err)
	}

	n := &normalizedCall{
		Path:   strings.TrimPrefix(u.EscapedPath(), "/"),
		Method: strings.ToUpper(method),
	}
	if n.Method == "" {
		n.Method = http.MethodGet
	}

	data = bytes.TrimSpace(data)
	query := u.Query()

	switch {
	case len(query) == 0:
		if len(data) > 0 {
			if n.Data, err = jsoncodec.Canonical(data); err != nil {
				return nil, fmt.Errorf("%w: data: %v", ErrInvalidCall, err)
			}
		}
	case len(data) == 0 || jsoncodec.IsObject(data):
		fields := make(map[string]json.RawMessage)
		if len(data) > 0 {
			if err := jsoncodec.Unmarshal(data, &fields); err != nil {
				return nil, fmt.Errorf("%w: data: %v", ErrInvalidCall, err)
			}
		}
		for key, values := range query {
			var v any = values
			if len(values) == 1 {
				v = values[0]
			}
			raw, err := jsoncodec.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: query %s: %v", ErrInvalidCall, key, err)
			}
			fields[key] = raw
		}
		if n.Data, err = jsoncodec.CanonicalValue(fields); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidCall, err)
		}
	default:
		n.Path += "?" + query.Encode()
		if n.Data, err = jsoncodec.Canonical(data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidCall, err)
		}
	}

	return n, nil
}
