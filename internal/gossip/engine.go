// Package gossip disseminates short-lived messages across the overlay:
// each peer originates a bounded run of its own messages and relays every
// message it sees for the first time to its current neighbors, using a
// content hash to stop a message from being reprocessed once it has
// already circulated back around.
package gossip

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/overlay"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// BodyFunc produces the payload for the seq'th message a peer originates.
// A nil BodyFunc yields an empty body.
type BodyFunc func(seq int) string

// Engine runs the generation and forwarding loop for one peer.
type Engine struct {
	self      identity.ID
	neighbors *overlay.Neighbors
	pool      *wire.Pool
	log       *logrus.Entry

	maxGen   int
	interval time.Duration
	timeout  time.Duration
	bodyFn   BodyFunc

	mu   sync.Mutex
	seq  int
	seen map[string]struct{}

	stop chan struct{}
	done chan struct{}
}

// New builds a gossip Engine. neighbors must be the same instance the
// overlay builder refreshes, so a rebuild is visible without extra wiring.
func New(self identity.ID, neighbors *overlay.Neighbors, pool *wire.Pool, log *logrus.Entry, maxGen int, interval, timeout time.Duration, bodyFn BodyFunc) *Engine {
	if maxGen <= 0 {
		maxGen = 10
	}
	return &Engine{
		self:      self,
		neighbors: neighbors,
		pool:      pool,
		log:       log,
		maxGen:    maxGen,
		interval:  interval,
		timeout:   timeout,
		bodyFn:    bodyFn,
		seen:      make(map[string]struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run generates one message every interval until maxGen messages have been
// originated, then returns permanently. Call it in its own goroutine.
func (e *Engine) Run() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if !e.generate() {
				return
			}
		}
	}
}

// Stop halts the generation loop. Already-dispatched forwards are not
// cancelled.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// generate originates the next message in sequence. It returns false, without
// sending anything, once maxGen messages have already been originated, so the
// caller can stop its ticker.
func (e *Engine) generate() bool {
	e.mu.Lock()
	if e.seq >= e.maxGen {
		e.mu.Unlock()
		return false
	}
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	body := ""
	if e.bodyFn != nil {
		body = e.bodyFn(seq)
	}

	msgID := fmt.Sprintf("%d:%s:%d:%d", time.Now().Unix(), e.self.Host, e.self.Port, seq)
	hash := contentHash(msgID, body)
	e.markSeen(hash)

	e.log.WithFields(logrus.Fields{"msg_id": msgID, "seq": seq}).Info("gossip originated")

	msg := wire.Gossip{MsgID: msgID, Body: body, Hash: hash}
	for _, n := range e.neighbors.Get() {
		e.forward(n, msg)
	}

	return true
}

// Receive processes a message arriving from sender. A hash mismatch is
// dropped with a warning; a message already in the seen set is dropped
// silently; a genuinely new message is recorded and relayed to every
// current neighbor except sender.
func (e *Engine) Receive(sender identity.ID, msg wire.Gossip) {
	want := contentHash(msg.MsgID, msg.Body)
	if want != msg.Hash {
		e.log.WithFields(logrus.Fields{"msg_id": msg.MsgID, "from": sender}).Warn("gossip hash mismatch, dropping")
		return
	}

	if e.alreadySeen(msg.Hash) {
		return
	}
	e.markSeen(msg.Hash)

	e.log.WithFields(logrus.Fields{"msg_id": msg.MsgID, "from": sender}).Debug("gossip received")

	for _, n := range e.neighbors.Get() {
		if n.Equal(sender) {
			continue
		}
		e.forward(n, msg)
	}
}

func (e *Engine) forward(to identity.ID, msg wire.Gossip) {
	conn, err := e.pool.Get(to.String())
	if err != nil {
		e.log.WithFields(logrus.Fields{"to": to, "error": err}).Warn("gossip forward: dial failed")
		return
	}
	conn.SetDeadline(time.Now().Add(e.timeout))
	if err := conn.Send(msg); err != nil {
		e.log.WithFields(logrus.Fields{"to": to, "error": err}).Warn("gossip forward: send failed")
		conn.Close()
		return
	}
	e.pool.Put(to.String(), conn)
}

func (e *Engine) markSeen(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[hash] = struct{}{}
}

func (e *Engine) alreadySeen(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.seen[hash]
	return ok
}

// SeenCount reports how many distinct messages this engine has processed,
// for status reporting.
func (e *Engine) SeenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

func contentHash(msgID, body string) string {
	sum := sha256.Sum256([]byte(msgID + body))
	return hex.EncodeToString(sum[:])
}
