// Package status runs the ambient periodic summary line every node prints
// to its event log, independent of any protocol traffic: an operator
// tailing the log gets a steady heartbeat of counts even during a quiet
// stretch with no membership changes or gossip activity.
package status

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot is whatever counts the caller wants reported this tick. Seed and
// peer processes populate different fields and leave the rest at zero.
type Snapshot struct {
	Members   int
	Neighbors int
	SeenCount int
}

// SnapshotFunc returns the current counts to report.
type SnapshotFunc func() Snapshot

// Reporter logs a Snapshot on a fixed cadence.
type Reporter struct {
	log      *logrus.Entry
	interval time.Duration
	snapshot SnapshotFunc

	stop chan struct{}
	done chan struct{}
}

// New builds a Reporter. snapshot is called fresh on every tick.
func New(log *logrus.Entry, interval time.Duration, snapshot SnapshotFunc) *Reporter {
	return &Reporter{
		log:      log,
		interval: interval,
		snapshot: snapshot,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run logs one status line per interval until Stop is called. Call it in
// its own goroutine.
func (r *Reporter) Run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			s := r.snapshot()
			r.log.WithFields(logrus.Fields{
				"members":   s.Members,
				"neighbors": s.Neighbors,
				"seen":      s.SeenCount,
			}).Info("STATUS")
		}
	}
}

// Stop halts the reporter.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}
