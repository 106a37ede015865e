package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
)

const (
	DefaultMulticastGroup = "239.192.0.4:9192"

	maxDatagram = 65000
)

type MulticastConfig struct {
	// Group is the IPv4 multicast group, host:port.
	Group string
	// Interface to join on, nil lets the kernel pick.
	Interface *net.Interface

	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration

	Clock clock.Clock
}

// MulticastChannel reaches every process on the host (and the segment)
// that joined the same group. Frames are msgpack, prefixed with the
// sender's id so a process ignores its own loopback copies. A failed join
// or a dead socket is rejoined with the same backoff the websocket uses.
type MulticastChannel struct {
	endpoint
	group  string
	iface  *net.Interface
	id     [16]byte
	bo     *backoff.ExponentialBackOff
	listen func(network string, ifi *net.Interface, gaddr *net.UDPAddr) (*net.UDPConn, error)

	mu     sync.Mutex
	conn   *net.UDPConn
	addr   *net.UDPAddr
	ctx    context.Context
	cancel context.CancelFunc
	retry  clock.Timer
	closed bool
}

func NewMulticastChannel(cfg MulticastConfig) *MulticastChannel {
	if cfg.Group == "" {
		cfg.Group = DefaultMulticastGroup
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
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          cfg.BackoffFactor,
		MaxInterval:         cfg.BackoffMax,
	}
	bo.Reset()
	return &MulticastChannel{
		endpoint: newEndpoint("multicast", cfg.Clock),
		group:    cfg.Group,
		iface:    cfg.Interface,
		id:       uuid.New(),
		bo:       bo,
		listen:   net.ListenMulticastUDP,
	}
}

func (m *MulticastChannel) SetEndpoint(endpoint string) {
	m.mu.Lock()
	m.group = endpoint
	m.mu.Unlock()
}

// Connect makes the first join attempt and returns its error. A join that
// failed for a transient reason is retried until Close.
func (m *MulticastChannel) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return m.fail(Transient, "connect", err)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.fail(Closed, "connect", ErrChannelClosed)
	}
	if m.ctx != nil {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	return m.join()
}

func (m *MulticastChannel) join() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.fail(Closed, "connect", ErrChannelClosed)
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	group := m.group
	m.mu.Unlock()

	m.setStatus(StatusConnecting)
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return m.fail(Unsupported, "resolve", err)
	}
	if !addr.IP.IsMulticast() {
		return m.fail(Unsupported, "resolve", fmt.Errorf("%s is not a multicast group", group))
	}
	conn, err := m.listen("udp4", m.iface, addr)
	if err != nil {
		te := m.fail(Transient, "join", err)
		m.scheduleRejoin()
		return te
	}
	if err := ipv4.NewPacketConn(conn).SetMulticastLoopback(true); err != nil {
		conn.Close()
		return m.fail(Unsupported, "loopback", err)
	}
	conn.SetReadBuffer(maxDatagram)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return m.fail(Closed, "connect", ErrChannelClosed)
	}
	m.conn = conn
	m.addr = addr
	m.bo.Reset()
	m.mu.Unlock()

	go m.readLoop(conn)
	m.opened()
	return nil
}

func (m *MulticastChannel) scheduleRejoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.retry != nil || m.ctx == nil || m.ctx.Err() != nil {
		return
	}
	wait := m.bo.NextBackOff()
	m.retried()
	m.setStatus(StatusConnecting)
	m.retry = m.clk.AfterFunc(wait, func() {
		m.mu.Lock()
		m.retry = nil
		m.mu.Unlock()
		m.join()
	})
}

func (m *MulticastChannel) readLoop(conn *net.UDPConn) {
	buf := make([]byte, maxDatagram+len(m.id))
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			m.mu.Lock()
			if m.conn == conn {
				m.conn = nil
			}
			closed := m.closed
			m.mu.Unlock()
			conn.Close()
			if closed {
				return
			}
			m.report(Transient, "read", err)
			m.scheduleRejoin()
			return
		}
		if n < len(m.id) || bytes.Equal(buf[:len(m.id)], m.id[:]) {
			continue
		}
		msg, err := protocol.MsgPack.Unmarshal(buf[len(m.id):n])
		if err != nil {
			m.report(Malformed, "decode", err)
			continue
		}
		m.deliver(msg)
	}
}

func (m *MulticastChannel) Send(msg protocol.Message) error {
	data, err := protocol.MsgPack.Marshal(msg)
	if err != nil {
		return m.fail(Malformed, "encode", err)
	}
	if len(data) > maxDatagram {
		return m.fail(Unsupported, "send", fmt.Errorf("%d byte frame exceeds a datagram", len(data)))
	}

	m.mu.Lock()
	conn, addr := m.conn, m.addr
	m.mu.Unlock()
	if conn == nil {
		return m.fail(Closed, "send", ErrNotOpen)
	}

	frame := make([]byte, 0, len(m.id)+len(data))
	frame = append(frame, m.id[:]...)
	frame = append(frame, data...)
	if _, err := conn.WriteToUDP(frame, addr); err != nil {
		return m.fail(Transient, "send", err)
	}
	return nil
}

func (m *MulticastChannel) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.setStatus(StatusClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
