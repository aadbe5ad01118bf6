// Package client provides a small Go SDK for sending entity events to a
// HermeSync gateway over websocket or QUIC.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
)

// Config holds the client options.
type Config struct {
	// ServerAddr is a URL: ws://host:port/events or quic://host:port.
	ServerAddr     string
	ConnectTimeout time.Duration
	MessageTimeout time.Duration
	MaxMessageSize int64

	// TLSConfig applies to the QUIC transport. Nil with Insecure set uses
	// a config that skips verification, matching the gateway's self-signed
	// development certificate.
	TLSConfig *tls.Config
	Insecure  bool
}

// DefaultConfig returns the standard client options.
func DefaultConfig() Config {
	return Config{
		ServerAddr:     "ws://localhost:8080/events",
		ConnectTimeout: 10 * time.Second,
		MessageTimeout: 10 * time.Second,
		MaxMessageSize: 64 * 1024,
		Insecure:       true,
	}
}

// frame mirrors the gateway's wire shape.
type frame struct {
	Entity string         `json:"entity"`
	Event  string         `json:"event"`
	Args   map[string]any `json:"args,omitempty"`
}

// Ack is the gateway's per-frame response.
type Ack struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Accepted reports whether the gateway queued the event.
func (a Ack) Accepted() bool { return a.Status == "accepted" }

const alpnProtocol = "hermesync-events"

// Client is a connection to one gateway. Safe for concurrent use; websocket
// sends are serialised, QUIC sends each use their own stream.
type Client struct {
	cfg Config

	mu   sync.Mutex
	ws   *websocket.Conn
	quic *quic.Conn

	connected atomic.Bool
	closed    atomic.Bool
}

// New creates a disconnected client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the configured gateway.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	u, err := url.Parse(c.cfg.ServerAddr)
	if err != nil {
		c.connected.Store(false)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	switch u.Scheme {
	case "ws", "wss":
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			c.connected.Store(false)
			return err
		}
		conn.SetReadLimit(c.cfg.MaxMessageSize)
		c.ws = conn
	case "quic":
		conn, err := quic.DialAddr(ctx, u.Host, c.tlsConfig(), nil)
		if err != nil {
			c.connected.Store(false)
			return err
		}
		c.quic = conn
	default:
		c.connected.Store(false)
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	return nil
}

// Send delivers one event frame and waits for the gateway's ack.
func (c *Client) Send(ctx context.Context, entity, event string, args map[string]any) (Ack, error) {
	if c.closed.Load() {
		return Ack{}, ErrClientClosed
	}
	if !c.connected.Load() {
		return Ack{}, ErrNotConnected
	}
	f := frame{Entity: entity, Event: event, Args: args}
	if c.ws != nil {
		return c.sendWebSocket(f)
	}
	return c.sendQUIC(ctx, f)
}

func (c *Client) sendWebSocket(f frame) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MessageTimeout > 0 {
		deadline := time.Now().Add(c.cfg.MessageTimeout)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.SetReadDeadline(deadline)
	}
	if err := c.ws.WriteJSON(f); err != nil {
		return Ack{}, err
	}
	var ack Ack
	if err := c.ws.ReadJSON(&ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

func (c *Client) sendQUIC(ctx context.Context, f frame) (Ack, error) {
	if c.cfg.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MessageTimeout)
		defer cancel()
	}
	stream, err := c.quic.OpenStreamSync(ctx)
	if err != nil {
		return Ack{}, err
	}
	defer func() { _ = stream.Close() }()
	if err = json.NewEncoder(stream).Encode(f); err != nil {
		return Ack{}, err
	}
	var ack Ack
	if err = json.NewDecoder(stream).Decode(&ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

func (c *Client) tlsConfig() *tls.Config {
	if c.cfg.TLSConfig != nil {
		return c.cfg.TLSConfig
	}
	return &tls.Config{
		InsecureSkipVerify: c.cfg.Insecure,
		NextProtos:         []string{alpnProtocol},
	}
}

// Close tears down the connection. The client cannot be reused.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}
	if !c.connected.Load() {
		return nil
	}
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return c.ws.Close()
	}
	return c.quic.CloseWithError(0, "client closed")
}
