// Package transport moves protocol messages between the GM and its viewers
// over several channels, and picks between them.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

type Status uint8

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a channel's view of its own health.
type State struct {
	Status       Status
	Retries      int
	LastActivity time.Time
	LastError    error
}

// Channel is one way of reaching the other side. Send never blocks on the
// receiver: handlers registered with OnMessage run on the channel's own
// goroutine.
type Channel interface {
	Name() string
	Connect(ctx context.Context) error
	Send(msg protocol.Message) error
	OnMessage(fn func(protocol.Message))
	OnOpen(fn func())
	// OnError receives errors that happen off the Send path, such as a
	// dropped connection or an undecodable frame.
	OnError(fn func(error))
	State() State
	Close() error
}

// Endpointer is implemented by channels whose target can be changed before
// Connect.
type Endpointer interface {
	SetEndpoint(endpoint string)
}

// Fetcher pulls the latest snapshot out of band. found is false when the
// other side has nothing yet.
type Fetcher interface {
	Fetch(ctx context.Context) (snap snapshot.Snapshot, found bool, err error)
}

// Standby is implemented by channels that should stay quiet while a better
// channel is carrying traffic. The layer hands them a check to call.
type Standby interface {
	SetStandby(covered func() bool)
}

// endpoint holds what every channel tracks: its name, handlers and State.
type endpoint struct {
	name string
	clk  clock.Clock

	mu     sync.Mutex
	state  State
	onMsg  func(protocol.Message)
	onOpen func()
	onErr  func(error)
}

func newEndpoint(name string, clk clock.Clock) endpoint {
	return endpoint{name: name, clk: clock.Or(clk)}
}

func (e *endpoint) Name() string { return e.name }

func (e *endpoint) OnMessage(fn func(protocol.Message)) {
	e.mu.Lock()
	e.onMsg = fn
	e.mu.Unlock()
}

func (e *endpoint) OnOpen(fn func()) {
	e.mu.Lock()
	e.onOpen = fn
	e.mu.Unlock()
}

func (e *endpoint) OnError(fn func(error)) {
	e.mu.Lock()
	e.onErr = fn
	e.mu.Unlock()
}

func (e *endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *endpoint) isOpen() bool {
	return e.State().Status == StatusOpen
}

func (e *endpoint) setStatus(s Status) {
	e.mu.Lock()
	e.state.Status = s
	e.mu.Unlock()
}

// opened marks the channel open, clears the retry count and runs the open
// hook.
func (e *endpoint) opened() {
	e.mu.Lock()
	e.state.Status = StatusOpen
	e.state.Retries = 0
	e.state.LastError = nil
	e.state.LastActivity = e.clk.Now()
	fn := e.onOpen
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// alive notes a successful exchange and brings an errored channel back to
// open without running the open hook again.
func (e *endpoint) alive() {
	e.mu.Lock()
	e.state.LastActivity = e.clk.Now()
	if e.state.Status == StatusError {
		e.state.Status = StatusOpen
		e.state.LastError = nil
	}
	e.mu.Unlock()
}

func (e *endpoint) retried() {
	e.mu.Lock()
	e.state.Retries++
	e.mu.Unlock()
}

func (e *endpoint) deliver(msg protocol.Message) {
	e.mu.Lock()
	e.state.LastActivity = e.clk.Now()
	fn := e.onMsg
	e.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// fail records err and builds the *Error for it. A transient failure also
// moves the channel into the error state.
func (e *endpoint) fail(kind ErrorKind, op string, err error) *Error {
	te := &Error{Kind: kind, Channel: e.name, Op: op, Err: err}
	e.mu.Lock()
	e.state.LastError = te
	if kind == Transient && e.state.Status != StatusClosed {
		e.state.Status = StatusError
	}
	e.mu.Unlock()
	return te
}

// report is fail plus the OnError hook, for errors nobody returns.
func (e *endpoint) report(kind ErrorKind, op string, err error) {
	te := e.fail(kind, op, err)
	e.mu.Lock()
	fn := e.onErr
	e.mu.Unlock()
	if fn != nil {
		fn(te)
	}
}
