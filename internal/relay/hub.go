// Package relay is the server side of the websocket transport: rooms of
// GM and viewer connections, each room caching the last state so late
// joiners can be answered without bothering the GM.
package relay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/Scrimzay/hexboard/internal/transport"
	"github.com/Scrimzay/hexboard/internal/viewer"
)

const (
	DefaultRoom         = "default"
	DefaultPingInterval = 20 * time.Second
)

type HubConfig struct {
	// Bus, when set, bridges every room to the in-process topic of the same
	// name so a GM in this process reaches remote viewers.
	Bus          *transport.Bus
	PingInterval time.Duration
	Logger       *log.Logger
}

type room struct {
	name   string
	cache  *viewer.Store
	peers  map[*Peer]struct{}
	bridge *transport.RelayChannel
}

// RoomInfo is a room as /healthz reports it.
type RoomInfo struct {
	Name        string `json:"name"`
	Peers       int    `json:"peers"`
	GMs         int    `json:"gms"`
	HasSnapshot bool   `json:"hasSnapshot"`
	Epoch       string `json:"epoch,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
}

type Hub struct {
	bus          *transport.Bus
	pingInterval time.Duration
	log          *log.Logger

	register   chan *Peer
	unregister chan *Peer
	done       chan struct{}

	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Hub{
		bus:          cfg.Bus,
		pingInterval: cfg.PingInterval,
		log:          cfg.Logger,
		register:     make(chan *Peer),
		unregister:   make(chan *Peer),
		done:         make(chan struct{}),
		rooms:        make(map[string]*room),
	}
}

// Run owns registration and keepalive pings until ctx ends. It always
// returns ctx's error.
func (h *Hub) Run(ctx context.Context) error {
	pingTicker := time.NewTicker(h.pingInterval)
	defer func() {
		pingTicker.Stop()
		close(h.done)
		h.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p := <-h.register:
			h.add(p)

		case p := <-h.unregister:
			h.remove(p)

		case <-pingTicker.C:
			for _, p := range h.allPeers() {
				if err := p.ping(); err != nil {
					h.log.Printf("relay: ping %s: %v", p, err)
					go h.Unregister(p)
				}
			}
		}
	}
}

func (h *Hub) Register(p *Peer) {
	select {
	case h.register <- p:
	case <-h.done:
		p.conn.Close()
	}
}

func (h *Hub) Unregister(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

// Open makes sure a room exists, bridged to the bus if there is one.
func (h *Hub) Open(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roomLocked(name)
}

func (h *Hub) roomLocked(name string) *room {
	if name == "" {
		name = DefaultRoom
	}
	if r, ok := h.rooms[name]; ok {
		return r
	}
	r := &room{name: name, cache: viewer.NewStore(nil), peers: make(map[*Peer]struct{})}
	h.rooms[name] = r

	if h.bus != nil {
		ch := h.bus.Open(name)
		ch.OnMessage(func(msg protocol.Message) { h.fromBridge(name, msg) })
		if err := ch.Connect(context.Background()); err != nil {
			h.log.Printf("relay: bridge %s: %v", name, err)
		} else {
			r.bridge = ch
		}
	}
	return r
}

func (h *Hub) add(p *Peer) {
	h.mu.Lock()
	r := h.roomLocked(p.room)
	r.peers[p] = struct{}{}
	st := r.cache.State()
	if st.HasSnapshot {
		p.synced = true
	}
	n := len(r.peers)
	h.mu.Unlock()

	h.log.Printf("relay: %s joined (%d in room)", p, n)
	if st.HasSnapshot {
		h.sendTo(p, protocol.Snapshot{Snapshot: st.Snapshot})
	}
}

func (h *Hub) remove(p *Peer) {
	h.mu.Lock()
	r, ok := h.rooms[p.room]
	if ok {
		if _, ok = r.peers[p]; ok {
			delete(r.peers, p)
		}
	}
	h.mu.Unlock()
	if ok {
		p.conn.Close()
		h.log.Printf("relay: %s left", p)
	}
}

func (h *Hub) allPeers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Peer
	for _, r := range h.rooms {
		for p := range r.peers {
			out = append(out, p)
		}
	}
	return out
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()
	for _, r := range rooms {
		for p := range r.peers {
			p.conn.Close()
		}
		if r.bridge != nil {
			r.bridge.Close()
		}
	}
}

// Receive handles one message read from p.
func (h *Hub) Receive(p *Peer, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.RequestSnapshot:
		h.answer(p)

	case protocol.Hello:
		h.mu.Lock()
		synced := p.synced
		h.mu.Unlock()
		if synced {
			h.sendTo(p, protocol.Pong{})
			return
		}
		h.answer(p)

	case protocol.Ping:
		if p.role == RoleViewer {
			h.sendTo(p, protocol.Pong{})
			return
		}
		h.publish(p.room, m, p, false)

	case protocol.Pong:

	default:
		if p.role != RoleGM {
			h.log.Printf("relay: dropping %s from %s", msg.Kind(), p)
			return
		}
		h.publish(p.room, msg, p, false)
	}
}

// answer replies to a snapshot request from the cache, or passes the
// request on to whoever can build one.
func (h *Hub) answer(p *Peer) {
	h.mu.Lock()
	r := h.roomLocked(p.room)
	st := r.cache.State()
	if st.HasSnapshot {
		p.synced = true
		h.mu.Unlock()
		h.sendTo(p, protocol.Snapshot{Snapshot: st.Snapshot})
		return
	}
	var gms []*Peer
	for q := range r.peers {
		if q.role == RoleGM && q != p {
			gms = append(gms, q)
		}
	}
	bridge := r.bridge
	h.mu.Unlock()

	h.fanout(gms, protocol.RequestSnapshot{})
	if bridge != nil {
		bridge.Send(protocol.RequestSnapshot{})
	}
}

// Publish feeds GM state into a room from outside a websocket, the
// POST /state handler. It reports whether the message was relayed.
func (h *Hub) Publish(roomName string, msg protocol.Message) bool {
	return h.publish(roomName, msg, nil, false)
}

func (h *Hub) fromBridge(roomName string, msg protocol.Message) {
	switch msg.(type) {
	case protocol.RequestSnapshot, protocol.Hello, protocol.Pong:
		// the GM on the bus hears these directly
		return
	}
	h.publish(roomName, msg, nil, true)
}

func (h *Hub) publish(roomName string, msg protocol.Message, from *Peer, fromBridge bool) bool {
	h.mu.Lock()
	r := h.roomLocked(roomName)
	switch msg.(type) {
	case protocol.Ping:
	case protocol.Snapshot, protocol.OverlaySet, protocol.SetCurrentMap, protocol.Viewport:
		if !r.cache.Apply(msg) {
			h.mu.Unlock()
			return false
		}
	default:
		h.mu.Unlock()
		return false
	}

	_, full := msg.(protocol.Snapshot)
	targets := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		if p == from {
			continue
		}
		if full {
			p.synced = true
		}
		targets = append(targets, p)
	}
	var bridge *transport.RelayChannel
	if !fromBridge {
		bridge = r.bridge
	}
	h.mu.Unlock()

	h.fanout(targets, msg)
	if bridge != nil {
		if err := bridge.Send(msg); err != nil {
			h.log.Printf("relay: bridge %s: %v", roomName, err)
		}
	}
	return true
}

func (h *Hub) sendTo(p *Peer, msg protocol.Message) {
	h.fanout([]*Peer{p}, msg)
}

func (h *Hub) fanout(peers []*Peer, msg protocol.Message) {
	f := frames{msg: msg}
	for _, p := range peers {
		data, err := f.forPeer(p)
		if err != nil {
			h.log.Printf("relay: encode %s for %s: %v", msg.Kind(), p, err)
			continue
		}
		if err := p.write(data); err != nil {
			h.log.Printf("relay: write to %s: %v", p, err)
			go h.Unregister(p)
		}
	}
}

// Snapshot returns the room's cached state.
func (h *Hub) Snapshot(roomName string) (snapshot.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return snapshot.Snapshot{}, false
	}
	st := r.cache.State()
	return st.Snapshot, st.HasSnapshot
}

func (h *Hub) Rooms() []RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		st := r.cache.State()
		info := RoomInfo{Name: r.name, Peers: len(r.peers), HasSnapshot: st.HasSnapshot}
		if st.HasSnapshot {
			info.Epoch, info.Seq = st.Snapshot.Epoch, st.Snapshot.Seq
		}
		for p := range r.peers {
			if p.role == RoleGM {
				info.GMs++
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
