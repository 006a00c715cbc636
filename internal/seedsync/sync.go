// Package seedsync runs the periodic anti-entropy exchange between seeds:
// every seed pushes its committed membership snapshot to every other seed
// on a fixed cadence, so a seed that missed a REGISTER commit (for example
// because it was briefly unreachable during vote solicitation) still
// converges without a second consensus round.
package seedsync

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/membership"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// Loop drives the periodic SYNC_MEMBERSHIP exchange for one seed.
type Loop struct {
	self  identity.ID
	dir   *seeddir.Directory
	store *membership.Store
	pool  *wire.Pool
	log   *logrus.Entry

	interval time.Duration
	timeout  time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a sync Loop.
func New(self identity.ID, dir *seeddir.Directory, store *membership.Store, pool *wire.Pool, log *logrus.Entry, interval, timeout time.Duration) *Loop {
	return &Loop{
		self:     self,
		dir:      dir,
		store:    store,
		pool:     pool,
		log:      log,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run pushes this seed's membership snapshot to every other seed once per
// interval until Stop is called. Call it in its own goroutine.
func (l *Loop) Run() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.syncOnce()
		}
	}
}

// Stop halts the sync loop.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loop) syncOnce() {
	members := l.store.List()

	for _, seed := range l.dir.Others(l.self) {
		conn, err := l.pool.Get(seed.String())
		if err != nil {
			l.log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("sync: failed to reach seed")
			continue
		}
		conn.SetDeadline(time.Now().Add(l.timeout))
		if err := conn.Send(wire.SyncMembership{Members: members}); err != nil {
			l.log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("sync: send failed")
			conn.Close()
			continue
		}
		l.pool.Put(seed.String(), conn)
	}
}
