package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Scrimzay/hexboard/internal/config"
	"github.com/Scrimzay/hexboard/internal/relay"
	"github.com/Scrimzay/hexboard/internal/server"
	"github.com/Scrimzay/hexboard/internal/session"
	"github.com/Scrimzay/hexboard/internal/transport"
	"github.com/Scrimzay/hexboard/internal/viewer"
	"github.com/Scrimzay/hexboard/internal/world"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[hexboard] ")
	log.Println("=== STARTING HEXBOARD ===")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("failed to serve: %v", err)
	}
	log.Println("bye")
}

// run hosts the relay and the GM table in one process, joined by an
// in-process bus.
func run(ctx context.Context, cfg config.Config) error {
	bus := transport.NewBus(nil)
	hub := relay.NewHub(relay.HubConfig{Bus: bus, PingInterval: cfg.PingInterval})
	hub.Open(cfg.Room)

	gameWorld := world.New(cfg.HexRadius, nil)
	gameWorld.InitMap(cfg.Map, 0)

	gmLayer := transport.NewLayer(transport.LayerConfig{Mode: transport.ModeFanout}, gmChannels(cfg, bus)...)
	defer gmLayer.Close()

	gm := session.New(gameWorld, gmLayer, session.Config{
		ThrottleInterval:  cfg.Throttle,
		HeartbeatInterval: cfg.Heartbeat,
	})
	defer gm.Close()

	srv := &http.Server{Addr: cfg.Addr(), Handler: server.SetupRouter(hub, gm)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error {
		log.Printf("Server starting at port %s", cfg.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// partial failures (no multicast route, say) are logged by the layer
	gmLayer.Connect(ctx, "")
	gm.Start()

	if cfg.LocalViewer {
		g.Go(func() error { return localViewer(ctx, cfg, bus) })
	}
	return g.Wait()
}

// gmChannels is everything the GM fans out to: the bus to this process's
// relay, plus LAN multicast and a remote relay's /state when enabled.
func gmChannels(cfg config.Config, bus *transport.Bus) []transport.Channel {
	channels := []transport.Channel{bus.Open(cfg.Room)}
	if cfg.Multicast {
		channels = append(channels, transport.NewMulticastChannel(transport.MulticastConfig{
			Group:         cfg.MulticastGroup,
			BackoffBase:   cfg.BackoffBase,
			BackoffFactor: cfg.BackoffFactor,
			BackoffMax:    cfg.BackoffMax,
		}))
	}
	if cfg.PushState {
		channels = append(channels, transport.NewHTTPChannel(transport.HTTPConfig{
			URL:  cfg.StateURL,
			Room: cfg.Room,
			Mode: transport.HTTPPush,
		}))
		log.Printf("pushing state to %s", cfg.StateURL)
	}
	return channels
}

// localViewer watches the table over the bus and logs what a viewer would
// draw.
func localViewer(ctx context.Context, cfg config.Config, bus *transport.Bus) error {
	logger := log.New(os.Stderr, "[local-viewer] ", log.LstdFlags)
	layer := transport.NewLayer(transport.LayerConfig{
		Mode:       transport.ModePrimary,
		Handshake:  true,
		HelloDelay: cfg.HelloDelay,
		Logger:     logger,
	}, bus.Open(cfg.Room))
	defer layer.Close()

	store := viewer.NewStore(nil)
	defer store.Close()
	viewer.NewClient(layer, store, logger)
	frames := viewer.NewFrameLoop(store, viewer.Liveness{Heartbeat: cfg.Heartbeat, StaleFactor: cfg.StaleFactor}, time.Second, viewer.LogRenderer(logger))
	frames.Start()
	defer frames.Close()

	if err := layer.Connect(ctx, ""); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
