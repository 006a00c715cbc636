// Package peernode wires the overlay builder, gossip engine, and liveness
// detector into one running process: a single listener accepts inbound
// GOSSIP, PING, SUSPECT_QUERY, and REMOVAL_NOTIFY from other peers, while
// startup performs a one-time register/fetch/build sequence against the
// seed cluster. A REMOVAL_NOTIFY rebuilds the overlay neighbor set from the
// surviving peer list, so a removed or confirmed-dead peer cannot linger as
// an unreachable neighbor forever.
package peernode

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/config"
	"github.com/gossipmesh/gossipmesh/internal/eventlog"
	"github.com/gossipmesh/gossipmesh/internal/gossip"
	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/liveness"
	"github.com/gossipmesh/gossipmesh/internal/overlay"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
	"github.com/gossipmesh/gossipmesh/internal/status"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// Node is one running peer process.
type Node struct {
	self      identity.ID
	log       *logrus.Entry
	pool      *wire.Pool
	neighbors *overlay.Neighbors
	gossipEng *gossip.Engine
	detector  *liveness.Detector
	rep       *status.Reporter
	ln        *wire.Listener

	rngSeed int64

	peersMu sync.Mutex
	peers   []identity.ID // last-known authoritative peer list, refreshed on REMOVAL_NOTIFY
}

// New registers self with the seed cluster, pulls the authoritative peer
// list, builds the overlay, and returns a Node ready to Run. Registration
// failure (no seed reachable, or every seed NACKs) is returned as an
// error so the caller can exit(1).
func New(cfg *config.Config, dir *seeddir.Directory) (*Node, error) {
	self := identity.New(cfg.Host, cfg.Port)

	log, err := cfg.Logger(eventlog.RolePeer)
	if err != nil {
		return nil, fmt.Errorf("peernode: %w", err)
	}

	pool := wire.NewPool(cfg.MaxPool, cfg.TCPTimeout)

	ln, err := wire.Listen(cfg.BindAddr(), cfg.TCPTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("peernode: bind: %w", err)
	}

	peers, err := register(self, dir, pool, cfg.TCPTimeout, log)
	if err != nil {
		ln.Close()
		return nil, err
	}

	seed := cfg.RNGSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	neighbors := overlay.NewNeighbors()
	neighbors.Set(overlay.Build(peers, self, seed))
	log.WithField("neighbors", neighbors.Get()).Info("overlay built")

	gossipEng := gossip.New(self, neighbors, pool, log, cfg.MaxGossip, cfg.GossipInterval, cfg.TCPTimeout, nil)
	detector := liveness.New(self, neighbors, dir, pool, log, cfg.PingInterval, cfg.PingTimeout, cfg.MissThreshold)
	reporter := status.New(log, cfg.StatusInterval, func() status.Snapshot {
		return status.Snapshot{Neighbors: neighbors.Len(), SeenCount: gossipEng.SeenCount()}
	})

	return &Node{
		self:      self,
		log:       log,
		pool:      pool,
		neighbors: neighbors,
		gossipEng: gossipEng,
		detector:  detector,
		rep:       reporter,
		ln:        ln,
		rngSeed:   seed,
		peers:     peers,
	}, nil
}

// Addr returns the bound local address, useful for tests that bind to :0.
func (n *Node) Addr() net.Addr {
	return n.ln.Addr()
}

// Run starts the periodic workers and serves the listener. It blocks until
// Shutdown closes the listener.
func (n *Node) Run() {
	go n.gossipEng.Run()
	go n.detector.Run()
	go n.rep.Run()

	n.log.WithField("addr", n.ln.Addr()).Info("peer node listening")
	n.ln.Serve(n.handle)
}

// Shutdown stops every periodic worker, closes the listener, and closes
// every pooled connection.
func (n *Node) Shutdown() {
	n.gossipEng.Stop()
	n.detector.Stop()
	n.rep.Stop()
	n.ln.Close()
	n.pool.Close()
}

func (n *Node) handle(conn *wire.Conn, msg wire.Decoded) {
	switch msg.Type {
	case wire.TypeGossip:
		var m wire.Gossip
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed GOSSIP")
			return
		}
		n.detector.NoteAlive(senderFromConn(conn))
		n.gossipEng.Receive(senderFromConn(conn), m)

	case wire.TypePing:
		n.detector.HandlePing(conn)

	case wire.TypeSuspectQuery:
		var m wire.SuspectQuery
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed SUSPECT_QUERY")
			return
		}
		n.detector.HandleSuspectQuery(conn, m)

	case wire.TypeRemovalNotify:
		var m wire.RemovalNotify
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed REMOVAL_NOTIFY")
			return
		}
		n.applyRemoval(m.Peer)

	default:
		n.log.WithField("type", msg.Type).Warn("unexpected message type at peer listener")
	}
}

// applyRemoval drops removed from the cached peer list, rebuilds the
// overlay neighbor set from what remains, and invalidates any pooled
// connection to it, so a removed or dead peer never lingers as an
// unreachable neighbor.
func (n *Node) applyRemoval(removed identity.ID) {
	n.peersMu.Lock()
	survivors := identity.Without(n.peers, removed)
	n.peers = survivors
	n.peersMu.Unlock()

	n.neighbors.Set(overlay.Build(survivors, n.self, n.rngSeed))
	n.pool.Invalidate(removed.String())

	n.log.WithFields(logrus.Fields{"peer": removed, "neighbors": n.neighbors.Get()}).Info("applied REMOVAL_NOTIFY, overlay rebuilt")
}

// senderFromConn recovers the sender's identity from the remote address of
// an inbound connection. The remote port here is an ephemeral client port
// rather than the sender's listening port, so the result does not equal any
// neighbor's identity: GOSSIP dedup keys only on message hash, the relay in
// gossip.Engine.Receive does not skip the immediate sender, and NoteAlive
// records the evidence under a key that no neighbor's identity matches.
func senderFromConn(conn *wire.Conn) identity.ID {
	addr := conn.RemoteAddr()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return identity.New(tcp.IP.String(), tcp.Port)
	}
	return identity.ID{}
}

// register tries each seed in turn until one ACKs, then fetches the
// authoritative peer list from that same seed.
func register(self identity.ID, dir *seeddir.Directory, pool *wire.Pool, timeout time.Duration, log *logrus.Entry) ([]identity.ID, error) {
	var lastErr error

	for _, seed := range dir.Seeds() {
		conn, err := wire.Dial(seed.String(), timeout)
		if err != nil {
			lastErr = err
			log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("register: seed unreachable")
			continue
		}

		conn.SetDeadline(time.Now().Add(timeout))
		if err := conn.Send(wire.RegisterRequest{Peer: self}); err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		decoded, err := conn.Receive()
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}

		switch decoded.Type {
		case wire.TypeRegisterAck:
			log.WithField("seed", seed).Info("registration complete")
		case wire.TypeRegisterNack:
			var nack wire.RegisterNack
			decoded.Into(&nack)
			conn.Close()
			lastErr = fmt.Errorf("register: seed %s rejected: %s", seed, nack.Reason)
			continue
		default:
			conn.Close()
			lastErr = fmt.Errorf("register: unexpected reply %s from %s", decoded.Type, seed)
			continue
		}

		if err := conn.Send(wire.GetPeerList{}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("register: fetch peer list: %w", err)
		}
		decoded, err = conn.Receive()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("register: fetch peer list: %w", err)
		}
		if decoded.Type != wire.TypePeerList {
			conn.Close()
			return nil, fmt.Errorf("register: expected PEER_LIST, got %s", decoded.Type)
		}
		var list wire.PeerList
		if err := decoded.Into(&list); err != nil {
			conn.Close()
			return nil, fmt.Errorf("register: decode peer list: %w", err)
		}
		conn.Close()

		return list.Members, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("register: no seeds configured")
	}
	return nil, fmt.Errorf("register: exhausted all seeds: %w", lastErr)
}
