package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies what went wrong on a channel. The layer decides what
// to do about it: retry, skip to the next channel, or drop the message.
type ErrorKind uint8

const (
	Transient ErrorKind = iota
	Malformed
	Closed
	Unsupported
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	case Closed:
		return "closed"
	case Unsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

var (
	ErrNotOpen        = errors.New("transport: channel not open")
	ErrChannelClosed  = errors.New("transport: channel closed")
	ErrNotSupported   = errors.New("transport: message not supported by channel")
	ErrNoOpenChannels = errors.New("transport: no open channel")
)

type Error struct {
	Kind    ErrorKind
	Channel string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Channel, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of a transport error, and false for anything
// that is not one.
func KindOf(err error) (ErrorKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}
