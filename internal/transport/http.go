package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

type HTTPMode uint8

const (
	// HTTPPush posts every full snapshot to the relay.
	HTTPPush HTTPMode = iota
	// HTTPPoll fetches the relay's last snapshot on an interval.
	HTTPPoll
)

const DefaultPollInterval = 2 * time.Second

// StateBody is the JSON body of /state in both directions.
type StateBody struct {
	Payload snapshot.Snapshot `json:"payload"`
}

type HTTPConfig struct {
	// URL is the relay's state endpoint, e.g. http://host:8000/state.
	URL          string
	Room         string
	Mode         HTTPMode
	PollInterval time.Duration
	Client       *http.Client
	Clock        clock.Clock
}

// HTTPChannel is the last resort: plain request/response against /state.
type HTTPChannel struct {
	endpoint
	mode     HTTPMode
	client   *http.Client
	interval time.Duration

	mu       sync.Mutex
	rawURL   string
	room     string
	ctx      context.Context
	cancel   context.CancelFunc
	poll     clock.Timer
	covered  func() bool
	lastSeen string
	closed   bool
}

func NewHTTPChannel(cfg HTTPConfig) *HTTPChannel {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	name := "http-push"
	if cfg.Mode == HTTPPoll {
		name = "http-poll"
	}
	return &HTTPChannel{
		endpoint: newEndpoint(name, cfg.Clock),
		mode:     cfg.Mode,
		client:   cfg.Client,
		interval: cfg.PollInterval,
		rawURL:   cfg.URL,
		room:     cfg.Room,
	}
}

func (h *HTTPChannel) SetEndpoint(endpoint string) {
	h.mu.Lock()
	h.rawURL = endpoint
	h.mu.Unlock()
}

// SetStandby makes the poller skip its turn while covered reports true.
func (h *HTTPChannel) SetStandby(covered func() bool) {
	h.mu.Lock()
	h.covered = covered
	h.mu.Unlock()
}

func (h *HTTPChannel) target() (string, error) {
	h.mu.Lock()
	raw, room := h.rawURL, h.room
	h.mu.Unlock()
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if room != "" {
		q := u.Query()
		q.Set("room", room)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (h *HTTPChannel) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.fail(Closed, "connect", ErrChannelClosed)
	}
	if h.ctx != nil {
		h.mu.Unlock()
		return nil
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.mu.Unlock()

	if _, err := h.target(); err != nil {
		return h.fail(Unsupported, "connect", err)
	}
	h.opened()
	if h.mode == HTTPPoll {
		h.schedulePoll(0)
	}
	return nil
}

func (h *HTTPChannel) schedulePoll(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.poll = h.clk.AfterFunc(d, h.pollOnce)
}

func (h *HTTPChannel) pollOnce() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	ctx, covered := h.ctx, h.covered
	h.mu.Unlock()

	if covered == nil || !covered() {
		snap, found, err := h.Fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				h.report(Transient, "poll", err)
			}
		case found:
			h.offer(snap)
		}
	}
	h.schedulePoll(h.interval)
}

// offer delivers snap unless the same (epoch, seq) already went out.
func (h *HTTPChannel) offer(snap snapshot.Snapshot) {
	key := fmt.Sprintf("%s/%d/%d", snap.Epoch, snap.Seq, snap.Timestamp)
	h.mu.Lock()
	if key == h.lastSeen {
		h.mu.Unlock()
		return
	}
	h.lastSeen = key
	h.mu.Unlock()
	h.deliver(protocol.Snapshot{Snapshot: snap})
}

// Fetch pulls the relay's last snapshot for the room.
func (h *HTTPChannel) Fetch(ctx context.Context) (snapshot.Snapshot, bool, error) {
	target, err := h.target()
	if err != nil {
		return snapshot.Snapshot{}, false, h.fail(Unsupported, "fetch", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return snapshot.Snapshot{}, false, h.fail(Unsupported, "fetch", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return snapshot.Snapshot{}, false, h.fail(Transient, "fetch", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		h.alive()
		return snapshot.Snapshot{}, false, nil
	case resp.StatusCode != http.StatusOK:
		return snapshot.Snapshot{}, false, h.fail(Transient, "fetch", fmt.Errorf("status %s", resp.Status))
	}

	var body StateBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return snapshot.Snapshot{}, false, h.fail(Malformed, "fetch", err)
	}
	h.alive()
	return body.Payload, true, nil
}

// Send posts snapshots in push mode. Liveness and snapshot requests are
// no-ops, the next poll or push answers them anyway.
func (h *HTTPChannel) Send(msg protocol.Message) error {
	h.mu.Lock()
	closed, ctx := h.closed, h.ctx
	h.mu.Unlock()
	if closed || ctx == nil {
		return h.fail(Closed, "send", ErrNotOpen)
	}

	switch m := msg.(type) {
	case protocol.Snapshot:
		if h.mode != HTTPPush {
			return h.fail(Unsupported, "send", ErrNotSupported)
		}
		return h.push(ctx, m.Snapshot)
	case protocol.RequestSnapshot, protocol.Hello, protocol.Ping, protocol.Pong:
		return nil
	default:
		return h.fail(Unsupported, "send", fmt.Errorf("%w: %s", ErrNotSupported, msg.Kind()))
	}
}

func (h *HTTPChannel) push(ctx context.Context, snap snapshot.Snapshot) error {
	target, err := h.target()
	if err != nil {
		return h.fail(Unsupported, "push", err)
	}
	b, err := json.Marshal(StateBody{Payload: snap})
	if err != nil {
		return h.fail(Malformed, "push", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		return h.fail(Unsupported, "push", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return h.fail(Transient, "push", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return h.fail(Transient, "push", fmt.Errorf("status %s", resp.Status))
	}
	h.alive()
	return nil
}

func (h *HTTPChannel) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.poll != nil {
		h.poll.Stop()
		h.poll = nil
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()
	h.setStatus(StatusClosed)
	return nil
}
