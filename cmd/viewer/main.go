// Command viewer is a headless player view: it follows a room on the relay
// and logs every frame it would draw.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Scrimzay/hexboard/internal/config"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/transport"
	"github.com/Scrimzay/hexboard/internal/viewer"
)

const frameInterval = 500 * time.Millisecond

func main() {
	cfg, err := config.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[viewer] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// best channel first
	channels := []transport.Channel{
		transport.NewWSClient(transport.WSConfig{
			URL:           cfg.RelayURL,
			Room:          cfg.Room,
			Role:          "viewer",
			Codec:         protocol.CodecByName(cfg.Codec),
			BackoffBase:   cfg.BackoffBase,
			BackoffFactor: cfg.BackoffFactor,
			BackoffMax:    cfg.BackoffMax,
		}),
	}
	if cfg.Multicast {
		channels = append(channels, transport.NewMulticastChannel(transport.MulticastConfig{
			Group:         cfg.MulticastGroup,
			BackoffBase:   cfg.BackoffBase,
			BackoffFactor: cfg.BackoffFactor,
			BackoffMax:    cfg.BackoffMax,
		}))
	}
	channels = append(channels, transport.NewHTTPChannel(transport.HTTPConfig{
		URL:          cfg.StateURL,
		Room:         cfg.Room,
		Mode:         transport.HTTPPoll,
		PollInterval: cfg.PollInterval,
	}))

	layer := transport.NewLayer(transport.LayerConfig{
		Mode:          transport.ModePrimary,
		Handshake:     true,
		HelloDelay:    cfg.HelloDelay,
		FallbackAfter: cfg.FallbackAfter,
	}, channels...)
	defer layer.Close()

	store := viewer.NewStore(nil)
	defer store.Close()
	viewer.NewClient(layer, store, nil)

	liveness := viewer.Liveness{Heartbeat: cfg.Heartbeat, StaleFactor: cfg.StaleFactor}
	frames := viewer.NewFrameLoop(store, liveness, frameInterval, viewer.LogRenderer(nil))
	frames.Start()
	defer frames.Close()

	log.Printf("following room %s via %s", cfg.Room, cfg.RelayURL)
	if err := layer.Connect(ctx, ""); err != nil {
		// channels keep retrying in the background
		log.Printf("connect: %v", err)
	}
	<-ctx.Done()

	for _, st := range layer.Statuses() {
		log.Printf("%s: %s after %d retries", st.Name, st.Status, st.Retries)
	}
}
