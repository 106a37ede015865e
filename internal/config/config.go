// Package config reads settings from an optional .env file, the
// environment and command-line flags, in that order of precedence (flags
// win).
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8000"`
	Room string `env:"HEXBOARD_ROOM" envDefault:"default"`
	// Map is the preset the GM table starts with.
	Map string `env:"HEXBOARD_MAP" envDefault:"blank"`

	RelayURL string `env:"HEXBOARD_RELAY_URL" envDefault:"ws://localhost:8000/ws"`
	StateURL string `env:"HEXBOARD_STATE_URL" envDefault:"http://localhost:8000/state"`
	Codec    string `env:"HEXBOARD_CODEC" envDefault:"json"`

	HexRadius   float64       `env:"HEXBOARD_HEX_RADIUS" envDefault:"32"`
	Throttle    time.Duration `env:"HEXBOARD_THROTTLE" envDefault:"40ms"`
	Heartbeat   time.Duration `env:"HEXBOARD_HEARTBEAT" envDefault:"2s"`
	StaleFactor int           `env:"HEXBOARD_STALE_FACTOR" envDefault:"3"`

	BackoffBase   time.Duration `env:"HEXBOARD_BACKOFF_BASE" envDefault:"500ms"`
	BackoffFactor float64       `env:"HEXBOARD_BACKOFF_FACTOR" envDefault:"1.7"`
	BackoffMax    time.Duration `env:"HEXBOARD_BACKOFF_MAX" envDefault:"15s"`

	HelloDelay    time.Duration `env:"HEXBOARD_HELLO_DELAY" envDefault:"1500ms"`
	FallbackAfter time.Duration `env:"HEXBOARD_FALLBACK_AFTER" envDefault:"30s"`
	PollInterval  time.Duration `env:"HEXBOARD_POLL_INTERVAL" envDefault:"2s"`
	PingInterval  time.Duration `env:"HEXBOARD_PING_INTERVAL" envDefault:"20s"`

	Multicast      bool   `env:"HEXBOARD_MULTICAST" envDefault:"false"`
	MulticastGroup string `env:"HEXBOARD_MULTICAST_GROUP" envDefault:"239.192.0.4:9192"`

	// PushState makes the GM also POST every full snapshot to StateURL,
	// for a relay running somewhere else.
	PushState bool `env:"HEXBOARD_PUSH_STATE" envDefault:"false"`

	// LocalViewer runs a headless viewer inside the GM process, on the
	// in-process bus.
	LocalViewer bool `env:"HEXBOARD_LOCAL_VIEWER" envDefault:"false"`
}

// LoadDotEnv reads path into the environment without overriding what is
// already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseEnv fills target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseConfig reads .env, then the environment, then args.
func ParseConfig(fset *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fset.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fset.StringVar(&cfg.Room, "room", cfg.Room, "session room")
	fset.StringVar(&cfg.Map, "map", cfg.Map, "preset map to start with")
	fset.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "relay websocket URL")
	fset.StringVar(&cfg.StateURL, "state-url", cfg.StateURL, "relay /state URL")
	fset.StringVar(&cfg.Codec, "codec", cfg.Codec, "wire codec: json or msgpack")
	fset.Float64Var(&cfg.HexRadius, "hex-radius", cfg.HexRadius, "hex radius in world units")
	fset.DurationVar(&cfg.Throttle, "throttle", cfg.Throttle, "minimum gap between continuous sends")
	fset.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "heartbeat interval")
	fset.IntVar(&cfg.StaleFactor, "stale-factor", cfg.StaleFactor, "missed heartbeats before a viewer shows disconnected")
	fset.DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "first reconnect delay")
	fset.Float64Var(&cfg.BackoffFactor, "backoff-factor", cfg.BackoffFactor, "reconnect delay growth")
	fset.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "longest reconnect delay")
	fset.DurationVar(&cfg.HelloDelay, "hello-delay", cfg.HelloDelay, "delay before the HELLO handshake message")
	fset.DurationVar(&cfg.FallbackAfter, "fallback-after", cfg.FallbackAfter, "silence before pulling state over HTTP, 0 disables")
	fset.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "HTTP poll interval")
	fset.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "relay websocket keepalive interval")
	fset.BoolVar(&cfg.Multicast, "multicast", cfg.Multicast, "also use LAN multicast")
	fset.StringVar(&cfg.MulticastGroup, "multicast-group", cfg.MulticastGroup, "multicast group host:port")
	fset.BoolVar(&cfg.PushState, "push-state", cfg.PushState, "also push full snapshots to -state-url")
	fset.BoolVar(&cfg.LocalViewer, "local-viewer", cfg.LocalViewer, "run a viewer inside the GM process")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("config: port is required")
	case c.Codec != "json" && c.Codec != "msgpack":
		return fmt.Errorf("config: unknown codec %q", c.Codec)
	case c.HexRadius <= 0:
		return fmt.Errorf("config: hex radius must be positive, got %v", c.HexRadius)
	case c.Heartbeat <= 0 || c.Throttle <= 0:
		return errors.New("config: throttle and heartbeat must be positive")
	case c.PushState && c.StateURL == "":
		return errors.New("config: push-state needs a state url")
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return ":" + c.Port
}
