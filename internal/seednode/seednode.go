// Package seednode wires the consensus coordinator, membership store, and
// seed sync loop into one running process: a single listener accepts both
// peer-originated requests (REGISTER_REQUEST, GET_PEER_LIST,
// DEAD_NODE_REPORT) and seed-originated ones (PROPOSE_REGISTER,
// PROPOSE_REMOVE, REMOVAL_NOTIFY, SYNC_MEMBERSHIP), routed by message type.
package seednode

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/config"
	"github.com/gossipmesh/gossipmesh/internal/consensus"
	"github.com/gossipmesh/gossipmesh/internal/eventlog"
	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/membership"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
	"github.com/gossipmesh/gossipmesh/internal/seedsync"
	"github.com/gossipmesh/gossipmesh/internal/status"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// Node is one running seed process.
type Node struct {
	self  identity.ID
	log   *logrus.Entry
	store *membership.Store
	pool  *wire.Pool
	coord *consensus.Coordinator
	sync  *seedsync.Loop
	rep   *status.Reporter
	ln    *wire.Listener
}

// New builds a seed Node bound to cfg.BindAddr() and immediately occupies
// the port (bind failures are returned so the caller can exit(1)).
func New(cfg *config.Config, dir *seeddir.Directory) (*Node, error) {
	self := identity.New(cfg.Host, cfg.Port)

	log, err := cfg.Logger(eventlog.RoleSeed)
	if err != nil {
		return nil, fmt.Errorf("seednode: %w", err)
	}

	store := membership.New()
	pool := wire.NewPool(cfg.MaxPool, cfg.TCPTimeout)
	coord := consensus.New(self, dir, store, pool, log, cfg.ProposalTimeout)
	syncLoop := seedsync.New(self, dir, store, pool, log, cfg.SyncInterval, cfg.TCPTimeout)
	reporter := status.New(log, cfg.StatusInterval, func() status.Snapshot {
		return status.Snapshot{Members: store.Len()}
	})

	ln, err := wire.Listen(cfg.BindAddr(), cfg.TCPTimeout, log)
	if err != nil {
		return nil, fmt.Errorf("seednode: bind: %w", err)
	}

	if dir.Count() == 1 {
		log.Warn("seed directory has a single seed, quorum is 1")
	}

	return &Node{
		self:  self,
		log:   log,
		store: store,
		pool:  pool,
		coord: coord,
		sync:  syncLoop,
		rep:   reporter,
		ln:    ln,
	}, nil
}

// Addr returns the bound local address, useful for tests that bind to :0.
func (n *Node) Addr() net.Addr {
	return n.ln.Addr()
}

// Run starts the periodic workers and serves the listener. It blocks until
// Shutdown closes the listener.
func (n *Node) Run() {
	go n.sync.Run()
	go n.rep.Run()

	n.log.WithField("addr", n.ln.Addr()).Info("seed node listening")
	n.ln.Serve(n.handle)
}

// Shutdown stops every periodic worker, closes the listener, and closes
// every pooled connection.
func (n *Node) Shutdown() {
	n.sync.Stop()
	n.rep.Stop()
	n.ln.Close()
	n.pool.Close()
}

func (n *Node) handle(conn *wire.Conn, msg wire.Decoded) {
	switch msg.Type {
	case wire.TypeRegisterRequest:
		var req wire.RegisterRequest
		if err := msg.Into(&req); err != nil {
			n.log.WithField("error", err).Warn("malformed REGISTER_REQUEST")
			return
		}
		n.coord.HandleRegisterRequest(conn, req)

	case wire.TypeGetPeerList:
		n.coord.HandleGetPeerList(conn)

	case wire.TypeDeadNodeReport:
		var report wire.DeadNodeReport
		if err := msg.Into(&report); err != nil {
			n.log.WithField("error", err).Warn("malformed DEAD_NODE_REPORT")
			return
		}
		n.coord.HandleDeadNodeReport(report)

	case wire.TypeProposeRegister:
		var m wire.ProposeRegister
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed PROPOSE_REGISTER")
			return
		}
		n.coord.HandleProposeRegister(conn, m)

	case wire.TypeProposeRemove:
		var m wire.ProposeRemove
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed PROPOSE_REMOVE")
			return
		}
		n.coord.HandleProposeRemove(conn, m)

	case wire.TypeRemovalNotify:
		var m wire.RemovalNotify
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed REMOVAL_NOTIFY")
			return
		}
		n.coord.HandleRemovalNotify(m)

	case wire.TypeSyncMembership:
		var m wire.SyncMembership
		if err := msg.Into(&m); err != nil {
			n.log.WithField("error", err).Warn("malformed SYNC_MEMBERSHIP")
			return
		}
		n.coord.HandleSyncMembership(m)

	default:
		n.log.WithField("type", msg.Type).Warn("unexpected message type at seed listener")
	}
}
