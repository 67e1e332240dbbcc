// Package stream implements the realtime live-data transport client.
//
// The wire protocol is opaque to the resilience subsystem: the client
// delivers raw timestamped frames and connection errors over channels, and
// the fallback service decides when a stream connection should exist at
// all based on the active fallback mode.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("stream not connected")
	ErrStaleConnection = errors.New("stream stale (no heartbeat)")
	ErrAlreadyClosed   = errors.New("stream already closed")
)

// Frame wraps raw stream data with a receive timestamp.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Config configures a stream client.
type Config struct {
	URL              string        // websocket URL of the live-data feed
	AuthToken        string        // optional bearer token
	HeartbeatTimeout time.Duration // max silence before declaring the stream stale
	WriteTimeout     time.Duration // write deadline for sends
	BufferSize       int           // frame channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// Client is a single live-data stream connection.
type Client struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	frames chan Frame
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex

	mu          sync.RWMutex
	connected   bool
	lastBeatAt  time.Time
	closed      bool
}

// NewClient creates a stream client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 256
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect establishes the stream connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastBeatAt = time.Now()
	c.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		c.touchHeartbeat()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touchHeartbeat()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("stream connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}

	return nil
}

// Send writes raw bytes to the stream.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the channel of received frames.
func (c *Client) Frames() <-chan Frame {
	return c.frames
}

// Errors returns the channel of connection errors.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) touchHeartbeat() {
	c.mu.Lock()
	c.lastBeatAt = time.Now()
	c.mu.Unlock()
}

// readLoop reads frames from the socket into the frames channel.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close are expected.
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		c.touchHeartbeat()

		select {
		case c.frames <- Frame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop pings the server and watches for silence.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			lastBeat := c.lastBeatAt
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			if time.Since(lastBeat) > c.cfg.HeartbeatTimeout {
				c.logger.Warn("stream silent past heartbeat timeout",
					"last_beat", lastBeat,
					"timeout", c.cfg.HeartbeatTimeout,
				)
				// A stale stream counts as disconnected so the owner
				// can replace it.
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				if conn != nil {
					conn.Close()
				}
				return
			}
		}
	}
}
