package ws

import (
	"encoding/json"
)

// CallMessage is one REST call sent by a client
type CallMessage struct {
	ID           json.RawMessage `json:"id"`
	URL          string          `json:"url"`
	Method       string          `json:"method"`
	Data         json.RawMessage `json:"data,omitempty"`
	DisableBatch bool            `json:"disableBatch,omitempty"`
}

// ReplyMessage answers a CallMessage. Error is set when the call produced
// no response at all.
type ReplyMessage struct {
	ID         json.RawMessage `json:"id"`
	Status     int             `json:"status,omitempty"`
	StatusText string          `json:"statusText,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
}
