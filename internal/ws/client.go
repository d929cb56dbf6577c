package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"batchrest/internal/batcher"
	"batchrest/internal/jsoncodec"
	"batchrest/internal/proxy"
	"batchrest/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 10 * 1024 * 1024 // 10MB
)

// Client represents a WebSocket client connection. Every call message is
// handed to the backend at once, so calls from one connection coalesce
// into shared batches and replies go out as results arrive.
type Client struct {
	conn    *websocket.Conn
	backend proxy.Backend
	logger  zerolog.Logger

	inflight  sync.WaitGroup
	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, backend proxy.Backend, logger zerolog.Logger) *Client {
	return &Client{
		conn:      conn,
		backend:   backend,
		logger:    logger,
		sendChan:  make(chan []byte, 256),
		closeChan: make(chan struct{}),
	}
}

// Run starts the client read and write loops and returns once the
// connection is closed and in-flight calls have resolved
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Configure connection
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump(ctx)

	c.readPump(ctx)
	cancel()
	c.inflight.Wait()
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		c.handleMessage(ctx, data)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case data := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a call message and resolves it asynchronously
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var msg CallMessage
	if err := jsoncodec.Unmarshal(data, &msg); err != nil {
		c.sendReply(&ReplyMessage{Error: "parse error"})
		return
	}
	if msg.URL == "" {
		c.sendReply(&ReplyMessage{ID: msg.ID, Error: "url is required"})
		return
	}
	if strings.Contains(msg.URL, "://") {
		c.sendReply(&ReplyMessage{ID: msg.ID, Error: "url must be relative to the backend"})
		return
	}

	call := batcher.Call{
		URL:          c.backend.ResolveURL(strings.TrimPrefix(msg.URL, "/")),
		Method:       msg.Method,
		DisableBatch: msg.DisableBatch,
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		call.Data = msg.Data
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		res, err := c.backend.Request(ctx, call)
		c.sendReply(reply(msg.ID, res, err))
	}()
}

// reply builds the reply for a resolved call
func reply(id json.RawMessage, res *batcher.Result, err error) *ReplyMessage {
	if res == nil || res.Response == nil {
		if err == nil {
			err = transport.ErrTransport
		}
		return &ReplyMessage{ID: id, Error: err.Error()}
	}

	resp := res.Response
	out := &ReplyMessage{
		ID:         id,
		Status:     resp.StatusCode,
		StatusText: resp.Text(),
	}
	switch {
	case len(resp.Body) == 0:
	case json.Valid(resp.Body):
		out.Body = resp.Body
	default:
		out.Body, _ = jsoncodec.Marshal(string(resp.Body))
	}
	return out
}

// sendReply marshals and queues a reply
func (c *Client) sendReply(msg *ReplyMessage) {
	data, err := jsoncodec.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	c.send(data)
}

// send sends data to the client
func (c *Client) send(data []byte) {
	select {
	case c.sendChan <- data:
	case <-c.closeChan:
	default:
		// Channel full, drop message
		c.logger.Warn().Msg("send channel full, dropping message")
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
		c.logger.Debug().Msg("client closed")
	})
}
