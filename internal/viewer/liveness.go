package viewer

import (
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
)

const DefaultStaleFactor = 3

// Liveness turns the time of the last received message into a
// connected/stale flag. The GM heartbeats every Heartbeat, so missing
// StaleFactor of them in a row means the link is gone.
type Liveness struct {
	Heartbeat   time.Duration
	StaleFactor int
	Clock       clock.Clock
}

func (l Liveness) Timeout() time.Duration {
	f := l.StaleFactor
	if f <= 0 {
		f = DefaultStaleFactor
	}
	return l.Heartbeat * time.Duration(f)
}

func (l Liveness) Connected(lastReceived time.Time) bool {
	if lastReceived.IsZero() {
		return false
	}
	return clock.Or(l.Clock).Now().Sub(lastReceived) < l.Timeout()
}
