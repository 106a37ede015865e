package viewer

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/snapshot"
)

func TestDescribe(t *testing.T) {
	if got := Describe(Frame{}); got != "stale, waiting for a snapshot" {
		t.Fatalf("empty frame: %q", got)
	}

	f := Frame{Connected: true, State: State{HasSnapshot: true, Snapshot: snapshot.Snapshot{
		Epoch:         "e",
		Seq:           7,
		Tokens:        []snapshot.Token{{ID: "a"}},
		CombatMode:    true,
		Round:         2,
		ActiveID:      "a",
		CurrentMapURL: "cave.png",
		Ghost:         &snapshot.Ghost{TokenID: "a", Cell: hex.Axial{Q: 1, R: -1}},
	}}}
	want := "live, e/7, 1 tokens, 0 tiles, 0 drawings, map cave.png, round 2 active a, dragging a to (1,-1)"
	if got := Describe(f); got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}

	var buf bytes.Buffer
	LogRenderer(log.New(&buf, "", 0))(f)
	if !strings.HasPrefix(buf.String(), "live, e/7") {
		t.Fatalf("logged %q", buf.String())
	}
}
