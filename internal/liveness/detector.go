// Package liveness probes a peer's neighbors on a fixed cadence, escalates a
// consistently unresponsive neighbor to its other neighbors for a second
// opinion, and reports a confirmed death to the seed cluster.
package liveness

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/overlay"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// Detector runs the ping loop and suspicion protocol for one peer.
type Detector struct {
	self      identity.ID
	neighbors *overlay.Neighbors
	seeds     *seeddir.Directory
	pool      *wire.Pool
	log       *logrus.Entry

	pingInterval  time.Duration
	pingTimeout   time.Duration
	missThreshold int
	aliveWindow   time.Duration

	mu         sync.Mutex
	misses     map[string]int
	lastAlive  map[string]time.Time
	suspecting map[string]bool

	stop chan struct{}
	done chan struct{}
}

// New builds a Detector. neighbors must be the same instance the overlay
// builder refreshes.
func New(self identity.ID, neighbors *overlay.Neighbors, seeds *seeddir.Directory, pool *wire.Pool, log *logrus.Entry, pingInterval, pingTimeout time.Duration, missThreshold int) *Detector {
	if missThreshold <= 0 {
		missThreshold = 3
	}
	return &Detector{
		self:          self,
		neighbors:     neighbors,
		seeds:         seeds,
		pool:          pool,
		log:           log,
		pingInterval:  pingInterval,
		pingTimeout:   pingTimeout,
		missThreshold: missThreshold,
		aliveWindow:   3 * pingInterval,
		misses:        make(map[string]int),
		lastAlive:     make(map[string]time.Time),
		suspecting:    make(map[string]bool),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run pings every current neighbor once per interval until Stop is called.
// Call it in its own goroutine.
func (d *Detector) Run() {
	defer close(d.done)

	ticker := time.NewTicker(d.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			for _, n := range d.neighbors.Get() {
				go d.pingOne(n)
			}
		}
	}
}

// Stop halts the ping loop.
func (d *Detector) Stop() {
	close(d.stop)
	<-d.done
}

// NoteAlive records sender as recently alive, for use as evidence when
// another neighbor later asks this node for its opinion. The peer node's
// listener calls this with the sender of every inbound GOSSIP.
func (d *Detector) NoteAlive(id identity.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAlive[id.String()] = time.Now()
}

func (d *Detector) pingOne(n identity.ID) {
	ok := d.sendPing(n)
	if ok {
		d.recordSuccess(n)
	} else {
		d.recordMiss(n)
	}
}

func (d *Detector) sendPing(n identity.ID) bool {
	conn, err := d.pool.Get(n.String())
	if err != nil {
		return false
	}
	conn.SetDeadline(time.Now().Add(d.pingTimeout))
	if err := conn.Send(wire.Ping{}); err != nil {
		conn.Close()
		return false
	}
	decoded, err := conn.Receive()
	if err != nil || decoded.Type != wire.TypePong {
		conn.Close()
		return false
	}
	d.pool.Put(n.String(), conn)
	return true
}

func (d *Detector) recordSuccess(n identity.ID) {
	d.mu.Lock()
	key := n.String()
	d.misses[key] = 0
	d.lastAlive[key] = time.Now()
	d.mu.Unlock()
}

func (d *Detector) recordMiss(n identity.ID) {
	key := n.String()

	d.mu.Lock()
	d.misses[key]++
	missed := d.misses[key]
	already := d.suspecting[key]
	if missed >= d.missThreshold && !already {
		d.suspecting[key] = true
	}
	d.mu.Unlock()

	if missed >= d.missThreshold && !already {
		go d.suspect(n)
	}
}

// evidenceFor answers what this node currently believes about subject,
// based only on its own recent ping and gossip observations.
func (d *Detector) evidenceFor(subject identity.ID) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := subject.String()
	if t, ok := d.lastAlive[key]; ok && time.Since(t) < d.aliveWindow {
		return wire.VerdictAlive
	}
	if d.misses[key] >= d.missThreshold {
		return wire.VerdictDead
	}
	return wire.VerdictUnknown
}

// HandlePing answers an inbound PING with PONG.
func (d *Detector) HandlePing(conn *wire.Conn) {
	conn.Send(wire.Pong{})
}

// HandleSuspectQuery answers an inbound SUSPECT_QUERY with this node's own
// evidence about the subject.
func (d *Detector) HandleSuspectQuery(conn *wire.Conn, msg wire.SuspectQuery) {
	conn.Send(wire.SuspectResponse{Subject: msg.Subject, Verdict: d.evidenceFor(msg.Subject)})
}

// suspect runs the confirmation round for a neighbor that just crossed the
// miss threshold: every other current neighbor is asked for its own
// evidence, and the subject is confirmed dead if strictly more than half
// of the responding parties (counting this node itself) say DEAD.
func (d *Detector) suspect(subject identity.ID) {
	d.log.WithField("subject", subject).Info("suspicion started")

	others := identity.Without(d.neighbors.Get(), subject)
	others = identity.Without(others, d.self)

	deadCount := 1 // self, having just crossed the miss threshold
	nonUnknown := 0

	for _, o := range others {
		verdict, err := d.queryNeighbor(o, subject)
		if err != nil {
			continue
		}
		if verdict == wire.VerdictUnknown || verdict == "" {
			continue
		}
		nonUnknown++
		if verdict == wire.VerdictDead {
			deadCount++
		}
		d.log.WithFields(logrus.Fields{"subject": subject, "from": o, "verdict": verdict}).Debug("suspect response received")
	}

	quorum := nonUnknown + 1 // responding parties plus self

	d.mu.Lock()
	delete(d.suspecting, subject.String())
	d.mu.Unlock()

	if deadCount > quorum/2 {
		d.log.WithField("subject", subject).Warn("neighbor confirmed dead")
		d.report(subject)
		return
	}

	d.log.WithField("subject", subject).Info("suspicion not confirmed, resetting miss counter")
	d.mu.Lock()
	d.misses[subject.String()] = 0
	d.mu.Unlock()
}

func (d *Detector) queryNeighbor(o, subject identity.ID) (string, error) {
	conn, err := d.pool.Get(o.String())
	if err != nil {
		return "", err
	}
	conn.SetDeadline(time.Now().Add(d.pingTimeout))
	if err := conn.Send(wire.SuspectQuery{Subject: subject}); err != nil {
		conn.Close()
		return "", err
	}
	decoded, err := conn.Receive()
	if err != nil {
		conn.Close()
		return "", err
	}
	if decoded.Type != wire.TypeSuspectResponse {
		conn.Close()
		return "", fmt.Errorf("expected SUSPECT_RESPONSE, got %s", decoded.Type)
	}
	var resp wire.SuspectResponse
	if err := decoded.Into(&resp); err != nil {
		conn.Close()
		return "", err
	}
	d.pool.Put(o.String(), conn)
	return resp.Verdict, nil
}

// report sends DEAD_NODE_REPORT to every seed.
func (d *Detector) report(subject identity.ID) {
	ts := time.Now().Unix()
	body := fmt.Sprintf("Dead Node:%s:%d:%d:%s", subject.Host, subject.Port, ts, d.self.Host)

	for _, seed := range d.seeds.Seeds() {
		conn, err := d.pool.Get(seed.String())
		if err != nil {
			d.log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("failed to reach seed for DEAD_NODE_REPORT")
			continue
		}
		conn.SetDeadline(time.Now().Add(d.pingTimeout))
		msg := wire.DeadNodeReport{Subject: subject, Reporter: d.self, Timestamp: ts, Body: body}
		if err := conn.Send(msg); err != nil {
			d.log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("failed to send DEAD_NODE_REPORT")
			conn.Close()
			continue
		}
		d.pool.Put(seed.String(), conn)
	}

	d.log.WithField("subject", subject).Info("DEAD_NODE_REPORT sent to seed cluster")
}
