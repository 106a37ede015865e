// Package session runs the GM side: it listens to the world and turns
// every change into the right kind of send, and answers viewers that ask
// for state.
package session

import (
	"log"
	"time"

	"github.com/Scrimzay/hexboard/internal/broadcast"
	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/Scrimzay/hexboard/internal/world"
)

const DefaultResyncMinAge = 500 * time.Millisecond

// Link is the GM's transport, usually a *transport.Layer in fanout mode.
type Link interface {
	OnMessage(fn func(protocol.Message))
	Send(msg protocol.Message)
}

type Config struct {
	ThrottleInterval  time.Duration
	HeartbeatInterval time.Duration
	// ResyncMinAge is how recent a full snapshot must be for a HELLO to be
	// answered without sending another.
	ResyncMinAge time.Duration
	Clock        clock.Clock
	Logger       *log.Logger
	Epoch        string
}

type GM struct {
	world *world.World
	disp  *broadcast.Dispatcher
	link  Link
	clk   clock.Clock
	log   *log.Logger

	minAge time.Duration
	unsub  func()
}

func New(w *world.World, link Link, cfg Config) *GM {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ResyncMinAge <= 0 {
		cfg.ResyncMinAge = DefaultResyncMinAge
	}
	clk := clock.Or(cfg.Clock)
	g := &GM{world: w, link: link, clk: clk, log: cfg.Logger, minAge: cfg.ResyncMinAge}
	g.disp = broadcast.New(g.build, link, broadcast.Config{
		ThrottleInterval:  cfg.ThrottleInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Clock:             clk,
		Logger:            cfg.Logger,
		Epoch:             cfg.Epoch,
	})
	link.OnMessage(g.inbound)
	g.unsub = w.Subscribe(g.changed)
	return g
}

func (g *GM) build() snapshot.Snapshot {
	return g.world.Snapshot(g.clk.Now())
}

func (g *GM) World() *world.World { return g.world }

func (g *GM) Dispatcher() *broadcast.Dispatcher { return g.disp }

// Start sends the opening snapshot and arms the heartbeat.
func (g *GM) Start() {
	g.log.Printf("gm session %s started", g.disp.Epoch())
	g.disp.Notify()
	g.disp.Start()
}

func (g *GM) changed(kind world.ChangeKind) {
	switch kind {
	case world.ChangeContinuous:
		g.disp.NotifyContinuous()
	case world.ChangeOverlay:
		g.disp.Publish(protocol.OverlaySet{Tiles: g.world.PublishedTiles()})
		g.disp.Notify()
	case world.ChangeMap:
		g.disp.Publish(protocol.SetCurrentMap{URL: g.world.MapURL()})
		g.disp.Notify()
	case world.ChangeViewport:
		g.disp.Publish(protocol.Viewport{Viewport: g.world.Viewport()})
		g.disp.Notify()
	default:
		g.disp.Notify()
	}
}

func (g *GM) inbound(msg protocol.Message) {
	switch msg.(type) {
	case protocol.RequestSnapshot:
		g.disp.SendFull()
	case protocol.Hello:
		g.disp.Resync(g.minAge)
	case protocol.Ping:
		g.link.Send(protocol.Pong{})
	}
}

// Close stops listening to the world and silences the dispatcher. The
// link is left to its owner.
func (g *GM) Close() {
	g.unsub()
	g.disp.Close()
}
