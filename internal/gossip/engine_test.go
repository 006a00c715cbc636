package gossip

import (
	"net"
	"testing"
	"time"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/overlay"
	"github.com/gossipmesh/gossipmesh/internal/testlog"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

func fakeNeighbor(t *testing.T) (identity.ID, *wire.Listener, chan wire.Gossip) {
	ln, err := wire.Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	received := make(chan wire.Gossip, 16)
	go ln.Serve(func(conn *wire.Conn, msg wire.Decoded) {
		if msg.Type == wire.TypeGossip {
			var g wire.Gossip
			msg.Into(&g)
			received <- g
		}
	})
	addr := ln.Addr().(*net.TCPAddr)
	return identity.New("127.0.0.1", addr.Port), ln, received
}

func TestContentHashDetectsTampering(t *testing.T) {
	self := identity.New("self", 1)
	neighbors := overlay.NewNeighbors()
	e := New(self, neighbors, wire.NewPool(2, time.Second), testlog.New(t), 10, time.Hour, time.Second, nil)

	msg := wire.Gossip{MsgID: "m1", Body: "hello", Hash: "not-the-real-hash"}
	e.Receive(identity.New("x", 2), msg)

	if e.SeenCount() != 0 {
		t.Fatalf("expected a hash mismatch to be dropped without marking seen")
	}
}

func TestReceiveDedupsAndForwardsToOthersOnly(t *testing.T) {
	self := identity.New("self", 1)
	nA, lnA, recvA := fakeNeighbor(t)
	nB, lnB, recvB := fakeNeighbor(t)
	defer lnA.Close()
	defer lnB.Close()

	neighbors := overlay.NewNeighbors()
	neighbors.Set([]identity.ID{nA, nB})

	e := New(self, neighbors, wire.NewPool(2, time.Second), testlog.New(t), 10, time.Hour, time.Second, nil)

	body := "payload"
	hash := contentHash("origin-msg-1", body)
	msg := wire.Gossip{MsgID: "origin-msg-1", Body: body, Hash: hash}

	// nA is the sender, so it should not be re-forwarded there; only nB
	// should receive the relay.
	e.Receive(nA, msg)

	select {
	case got := <-recvB:
		if got.MsgID != msg.MsgID {
			t.Fatalf("unexpected relay payload: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the message to be relayed to the non-sender neighbor")
	}

	select {
	case <-recvA:
		t.Fatalf("sender should not receive its own message back")
	case <-time.After(100 * time.Millisecond):
	}

	if e.SeenCount() != 1 {
		t.Fatalf("expected seen count 1, got %d", e.SeenCount())
	}

	// A repeat of the same message must be dropped, not re-forwarded.
	e.Receive(nA, msg)
	select {
	case <-recvB:
		t.Fatalf("duplicate message should not be relayed again")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGenerateStopsAtMaxGen(t *testing.T) {
	self := identity.New("self", 1)
	n, ln, recv := fakeNeighbor(t)
	defer ln.Close()

	neighbors := overlay.NewNeighbors()
	neighbors.Set([]identity.ID{n})

	e := New(self, neighbors, wire.NewPool(2, time.Second), testlog.New(t), 3, time.Millisecond, time.Second, func(seq int) string { return "" })

	for i := 0; i < 3; i++ {
		if !e.generate() {
			t.Fatalf("expected generate to succeed on call %d", i+1)
		}
	}
	if e.generate() {
		t.Fatalf("expected generate to refuse a 4th message past the cap")
	}

	for i := 0; i < 3; i++ {
		select {
		case <-recv:
		case <-time.After(time.Second):
			t.Fatalf("expected message %d to be forwarded to the neighbor", i+1)
		}
	}

	if e.SeenCount() != 3 {
		t.Fatalf("expected seen count 3, got %d", e.SeenCount())
	}
}
