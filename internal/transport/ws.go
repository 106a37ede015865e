package transport

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const (
	DefaultBackoffBase   = 500 * time.Millisecond
	DefaultBackoffFactor = 1.7
	DefaultBackoffMax    = 15 * time.Second

	wsWriteWait = 5 * time.Second
)

type WSConfig struct {
	// URL is the relay's websocket endpoint, e.g. ws://host:8000/ws.
	URL   string
	Room  string
	Role  string
	Codec protocol.Codec

	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration

	Dialer *websocket.Dialer
	Clock  clock.Clock
}

// WSClient keeps one websocket to the relay open, redialing with
// exponential backoff whenever it drops.
type WSClient struct {
	endpoint
	codec  protocol.Codec
	dialer *websocket.Dialer
	bo     *backoff.ExponentialBackOff

	connMu  sync.Mutex
	rawURL  string
	room    string
	role    string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	retry   clock.Timer
	closed  bool
	writeMu sync.Mutex
}

func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.Codec == nil {
		cfg.Codec = protocol.JSON
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Role == "" {
		cfg.Role = "viewer"
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          cfg.BackoffFactor,
		MaxInterval:         cfg.BackoffMax,
	}
	bo.Reset()
	return &WSClient{
		endpoint: newEndpoint("ws", cfg.Clock),
		codec:    cfg.Codec,
		dialer:   cfg.Dialer,
		bo:       bo,
		rawURL:   cfg.URL,
		room:     cfg.Room,
		role:     cfg.Role,
	}
}

func (c *WSClient) SetEndpoint(endpoint string) {
	c.connMu.Lock()
	c.rawURL = endpoint
	c.connMu.Unlock()
}

func (c *WSClient) target() (string, error) {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if c.room != "" {
		q.Set("room", c.room)
	}
	q.Set("role", c.role)
	q.Set("codec", c.codec.Name())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect makes the first dial attempt and returns its error. A failed
// attempt still leaves a redial scheduled.
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return c.fail(Closed, "connect", ErrChannelClosed)
	}
	if c.ctx != nil {
		c.connMu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.connMu.Unlock()
	return c.dial()
}

func (c *WSClient) dial() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return c.fail(Closed, "dial", ErrChannelClosed)
	}
	ctx := c.ctx
	target, err := c.target()
	c.connMu.Unlock()
	if err != nil {
		// a bad URL won't get better by retrying
		return c.fail(Unsupported, "dial", err)
	}

	c.setStatus(StatusConnecting)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		te := c.fail(Transient, "dial", err)
		c.scheduleRedial()
		return te
	}

	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		conn.Close()
		return c.fail(Closed, "dial", ErrChannelClosed)
	}
	c.conn = conn
	c.bo.Reset()
	c.connMu.Unlock()

	c.opened()
	go c.readLoop(conn)
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			closed := c.closed
			c.connMu.Unlock()
			conn.Close()
			if closed {
				return
			}
			c.report(Transient, "read", err)
			c.scheduleRedial()
			return
		}

		codec := protocol.JSON
		if mt == websocket.BinaryMessage {
			codec = protocol.MsgPack
		}
		msg, err := codec.Unmarshal(data)
		if err != nil {
			c.report(Malformed, "decode", err)
			continue
		}
		c.deliver(msg)
	}
}

func (c *WSClient) scheduleRedial() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed || c.retry != nil || c.ctx == nil || c.ctx.Err() != nil {
		return
	}
	wait := c.bo.NextBackOff()
	c.retried()
	c.setStatus(StatusConnecting)
	c.retry = c.clk.AfterFunc(wait, func() {
		c.connMu.Lock()
		c.retry = nil
		c.connMu.Unlock()
		c.dial()
	})
}

func (c *WSClient) Send(msg protocol.Message) error {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		return c.fail(Malformed, "encode", err)
	}
	mt := websocket.TextMessage
	if c.codec.Binary() {
		mt = websocket.BinaryMessage
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return c.fail(Transient, "send", ErrNotOpen)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err = conn.WriteMessage(mt, data)
	c.writeMu.Unlock()
	if err != nil {
		// the read loop notices the broken conn and schedules the redial
		conn.Close()
		return c.fail(Transient, "send", err)
	}
	return nil
}

func (c *WSClient) Close() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return nil
	}
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	c.setStatus(StatusClosed)
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
