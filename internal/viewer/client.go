package viewer

import (
	"fmt"
	"log"
	"sync"

	"github.com/Scrimzay/hexboard/internal/protocol"
)

// Link is the transport side of a viewer, usually a *transport.Layer.
type Link interface {
	OnMessage(fn func(protocol.Message))
	Send(msg protocol.Message)
}

// Client wires a Link into a Store. Heartbeats name the GM's latest
// snapshot, so a viewer that sees one it does not have asks for it.
type Client struct {
	link  Link
	store *Store
	log   *log.Logger

	mu        sync.Mutex
	requested string
}

func NewClient(link Link, store *Store, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{link: link, store: store, log: logger}
	link.OnMessage(c.handle)
	return c
}

func (c *Client) Store() *Store { return c.store }

// RequestSnapshot asks the GM side for a full snapshot.
func (c *Client) RequestSnapshot() {
	c.link.Send(protocol.RequestSnapshot{})
}

func (c *Client) handle(msg protocol.Message) {
	c.store.Apply(msg)

	p, ok := msg.(protocol.Ping)
	if !ok || p.Epoch == "" {
		return
	}
	st := c.store.State()
	cur := st.Snapshot
	if st.HasSnapshot && cur.Epoch == p.Epoch && cur.Seq >= p.Seq {
		return
	}

	// one request per missed snapshot, the answer may take a heartbeat
	want := fmt.Sprintf("%s/%d", p.Epoch, p.Seq)
	c.mu.Lock()
	if c.requested == want {
		c.mu.Unlock()
		return
	}
	c.requested = want
	c.mu.Unlock()

	c.log.Printf("viewer: behind %s (have %s/%d), requesting snapshot", want, cur.Epoch, cur.Seq)
	c.RequestSnapshot()
}
