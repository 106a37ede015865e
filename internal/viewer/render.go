package viewer

import (
	"fmt"
	"log"
	"strings"
)

// Describe is a one-line text rendering of a frame, for headless viewers.
func Describe(f Frame) string {
	var b strings.Builder
	if f.Connected {
		b.WriteString("live")
	} else {
		b.WriteString("stale")
	}
	if !f.State.HasSnapshot {
		b.WriteString(", waiting for a snapshot")
		return b.String()
	}
	s := f.State.Snapshot
	fmt.Fprintf(&b, ", %s/%d, %d tokens, %d tiles, %d drawings", s.Epoch, s.Seq, len(s.Tokens), len(s.OverlayTiles), len(s.Drawings))
	if s.CurrentMapURL != "" {
		fmt.Fprintf(&b, ", map %s", s.CurrentMapURL)
	}
	if s.CombatMode {
		fmt.Fprintf(&b, ", round %d active %s", s.Round, s.ActiveID)
	}
	if s.Ghost != nil {
		fmt.Fprintf(&b, ", dragging %s to %s", s.Ghost.TokenID, s.Ghost.Cell)
	}
	return b.String()
}

// LogRenderer renders frames as log lines.
func LogRenderer(logger *log.Logger) func(Frame) {
	if logger == nil {
		logger = log.Default()
	}
	return func(f Frame) { logger.Println(Describe(f)) }
}
