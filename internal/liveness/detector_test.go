package liveness

import (
	"net"
	"testing"
	"time"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/overlay"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
	"github.com/gossipmesh/gossipmesh/internal/testlog"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

func newTestDetector(t *testing.T, self identity.ID, seeds *seeddir.Directory) *Detector {
	return New(self, overlay.NewNeighbors(), seeds, wire.NewPool(2, time.Second), testlog.New(t), 50*time.Millisecond, time.Second, 3)
}

func TestEvidenceForUnknownByDefault(t *testing.T) {
	d := newTestDetector(t, identity.New("self", 1), seeddir.New([]identity.ID{identity.New("seed", 2)}))
	if got := d.evidenceFor(identity.New("stranger", 3)); got != wire.VerdictUnknown {
		t.Fatalf("expected UNKNOWN, got %s", got)
	}
}

func TestEvidenceForAliveAfterNoteAlive(t *testing.T) {
	d := newTestDetector(t, identity.New("self", 1), seeddir.New([]identity.ID{identity.New("seed", 2)}))
	subject := identity.New("n", 3)
	d.NoteAlive(subject)
	if got := d.evidenceFor(subject); got != wire.VerdictAlive {
		t.Fatalf("expected ALIVE, got %s", got)
	}
}

func TestEvidenceForDeadAfterMissThreshold(t *testing.T) {
	d := newTestDetector(t, identity.New("self", 1), seeddir.New([]identity.ID{identity.New("seed", 2)}))
	subject := identity.New("n", 3)
	for i := 0; i < 3; i++ {
		d.recordMissWithoutEscalating(subject)
	}
	if got := d.evidenceFor(subject); got != wire.VerdictDead {
		t.Fatalf("expected DEAD, got %s", got)
	}
}

// recordMissWithoutEscalating increments the miss counter directly,
// bypassing the goroutine suspect() spawns at threshold, so the evidence
// test above only exercises evidenceFor.
func (d *Detector) recordMissWithoutEscalating(n identity.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.misses[n.String()]++
}

func TestHandlePingRespondsWithPong(t *testing.T) {
	d := newTestDetector(t, identity.New("self", 1), seeddir.New([]identity.ID{identity.New("seed", 2)}))

	ln, err := wire.Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go ln.Serve(func(conn *wire.Conn, msg wire.Decoded) {
		if msg.Type == wire.TypePing {
			d.HandlePing(conn)
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	conn, err := wire.Dial(addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	if err := conn.Send(wire.Ping{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	decoded, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if decoded.Type != wire.TypePong {
		t.Fatalf("expected PONG, got %s", decoded.Type)
	}
}

func TestHandleSuspectQueryReportsOwnEvidence(t *testing.T) {
	d := newTestDetector(t, identity.New("self", 1), seeddir.New([]identity.ID{identity.New("seed", 2)}))

	ln, err := wire.Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go ln.Serve(func(conn *wire.Conn, msg wire.Decoded) {
		if msg.Type == wire.TypeSuspectQuery {
			var m wire.SuspectQuery
			msg.Into(&m)
			d.HandleSuspectQuery(conn, m)
		}
	})

	subject := identity.New("subject", 9)
	d.NoteAlive(subject)

	addr := ln.Addr().(*net.TCPAddr)
	conn, err := wire.Dial(addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	if err := conn.Send(wire.SuspectQuery{Subject: subject}); err != nil {
		t.Fatalf("send: %v", err)
	}
	decoded, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var resp wire.SuspectResponse
	if err := decoded.Into(&resp); err != nil {
		t.Fatalf("into: %v", err)
	}
	if resp.Verdict != wire.VerdictAlive {
		t.Fatalf("expected ALIVE, got %s", resp.Verdict)
	}
}

// TestSuspectWithNoOtherNeighborsEscalatesDirectly exercises the resolved
// open question: with no other neighbor to corroborate, self alone forms
// the quorum, so a missing neighbor is reported to the seed cluster
// without waiting on anyone else's opinion.
func TestSuspectWithNoOtherNeighborsEscalatesDirectly(t *testing.T) {
	seedLn, err := wire.Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer seedLn.Close()

	reports := make(chan wire.DeadNodeReport, 4)
	go seedLn.Serve(func(conn *wire.Conn, msg wire.Decoded) {
		if msg.Type == wire.TypeDeadNodeReport {
			var m wire.DeadNodeReport
			msg.Into(&m)
			reports <- m
		}
	})
	seedAddr := seedLn.Addr().(*net.TCPAddr)
	seedID := identity.New("127.0.0.1", seedAddr.Port)

	self := identity.New("self", 1)
	subject := identity.New("subject", 2)

	d := New(self, overlay.NewNeighbors(), seeddir.New([]identity.ID{seedID}), wire.NewPool(2, time.Second), testlog.New(t), 50*time.Millisecond, time.Second, 3)
	d.neighbors.Set([]identity.ID{subject})

	d.suspect(subject)

	select {
	case report := <-reports:
		if !report.Subject.Equal(subject) {
			t.Fatalf("expected report about %v, got %v", subject, report.Subject)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a DEAD_NODE_REPORT to be sent with no other neighbors to consult")
	}
}
