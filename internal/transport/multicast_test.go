package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Scrimzay/hexboard/internal/clock"
	"github.com/Scrimzay/hexboard/internal/protocol"
)

func TestMulticastRejectsUnicastGroup(t *testing.T) {
	m := NewMulticastChannel(MulticastConfig{Group: "127.0.0.1:9192"})
	err := m.Connect(context.Background())
	if kind, ok := KindOf(err); !ok || kind != Unsupported {
		t.Fatalf("err = %v", err)
	}
	if err := m.Send(protocol.Hello{}); err == nil {
		t.Fatal("send without a group should fail")
	}
}

func TestMulticastLoopback(t *testing.T) {
	const group = "239.192.0.77:19192"
	a := NewMulticastChannel(MulticastConfig{Group: group})
	b := NewMulticastChannel(MulticastConfig{Group: group})
	for _, m := range []*MulticastChannel{a, b} {
		if err := m.Connect(context.Background()); err != nil {
			t.Skipf("multicast unavailable here: %v", err)
		}
		t.Cleanup(func() { m.Close() })
	}
	aIn, bIn := collect(t, a), collect(t, b)

	if err := a.Send(protocol.SetCurrentMap{URL: "m.png"}); err != nil {
		t.Skipf("multicast send unavailable here: %v", err)
	}
	select {
	case msg := <-bIn:
		if m, ok := msg.(protocol.SetCurrentMap); !ok || m.URL != "m.png" {
			t.Fatalf("got %#v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Skip("no multicast loopback route")
	}
	expectNothing(t, aIn)
}

func TestMulticastRejoinsWithBackoff(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m := NewMulticastChannel(MulticastConfig{
		Group:         "239.192.0.78:19193",
		BackoffBase:   100 * time.Millisecond,
		BackoffFactor: 2,
		BackoffMax:    time.Second,
		Clock:         fake,
	})
	t.Cleanup(func() { m.Close() })
	attempts := 0
	m.listen = func(string, *net.Interface, *net.UDPAddr) (*net.UDPConn, error) {
		attempts++
		return nil, errors.New("no route to group")
	}

	err := m.Connect(context.Background())
	if kind, _ := KindOf(err); kind != Transient {
		t.Fatalf("err = %v", err)
	}
	if st := m.State(); st.Status != StatusConnecting || st.Retries != 1 || fake.Pending() != 1 {
		t.Fatalf("state = %+v, pending %d", st, fake.Pending())
	}

	fake.Advance(99 * time.Millisecond)
	if attempts != 1 {
		t.Fatalf("rejoined early: %d attempts", attempts)
	}
	fake.Advance(time.Millisecond)
	fake.Advance(200 * time.Millisecond)
	if st := m.State(); attempts != 3 || st.Retries != 3 {
		t.Fatalf("attempts = %d, retries = %d", attempts, st.Retries)
	}

	m.listen = net.ListenMulticastUDP
	fake.Advance(400 * time.Millisecond)
	if st := m.State(); st.Status != StatusOpen {
		t.Logf("multicast unavailable here, rejoin after a dead socket not checked: %v", st.LastError)
	} else {
		if st.Retries != 0 {
			t.Fatalf("retries = %d after joining", st.Retries)
		}
		m.mu.Lock()
		m.conn.Close()
		m.mu.Unlock()
		deadline := time.Now().Add(2 * time.Second)
		for fake.Pending() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("dead socket never scheduled a rejoin")
			}
			time.Sleep(5 * time.Millisecond)
		}
		fake.Advance(100 * time.Millisecond)
		if st := m.State(); st.Status != StatusOpen {
			t.Fatalf("state after rejoin = %+v", st)
		}
	}

	m.Close()
	if fake.Pending() != 0 {
		t.Fatal("close left a rejoin armed")
	}
	if st := m.State(); st.Status != StatusClosed {
		t.Fatalf("state = %+v", st)
	}
}
