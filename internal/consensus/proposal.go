package consensus

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// Kind distinguishes the two proposal flavors a seed can run.
type Kind string

const (
	KindRegister Kind = "REGISTER"
	KindRemove   Kind = "REMOVE"
)

// State is the three-state proposal lifecycle: PENDING to exactly one
// terminal state, then discarded.
type State int

const (
	Pending State = iota
	Approved
	Rejected
)

// Proposal is the transient per-attempt record a seed keeps while soliciting
// votes. It is discarded once resolved.
type Proposal struct {
	ID         string
	Kind       Kind
	Subject    identity.ID
	Originator identity.ID
	Deadline   time.Time

	mu    sync.Mutex
	votes map[string]string // voter canonical string -> YES/NO
	state State
	done  chan struct{}
}

func newProposal(kind Kind, subject, originator identity.ID, deadline time.Time) *Proposal {
	return &Proposal{
		ID:         newProposalID(),
		Kind:       kind,
		Subject:    subject,
		Originator: originator,
		Deadline:   deadline,
		votes:      make(map[string]string),
		state:      Pending,
		done:       make(chan struct{}),
	}
}

// newProposalID returns a short, locally-unique identifier.
func newProposalID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable, but a
		// proposal ID collision is far less dangerous than a crash: fall
		// back to a fixed-but-documented sentinel rather than panicking.
		return "00000000"
	}
	return hex.EncodeToString(buf[:])
}

// RecordVote stores voter's vote (idempotently on repeats).
func (p *Proposal) RecordVote(voter identity.ID, vote string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.votes[voter.String()] = vote
}

// Tally returns the current yes/no counts.
func (p *Proposal) Tally() (yes, no int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.votes {
		switch v {
		case wire.VoteYes:
			yes++
		case wire.VoteNo:
			no++
		}
	}
	return yes, no
}

// Resolve transitions the proposal to its terminal state exactly once and
// wakes any goroutine blocked on Wait (a repeat request arriving while this
// proposal was still pending).
func (p *Proposal) Resolve(approved bool) {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	if approved {
		p.state = Approved
	} else {
		p.state = Rejected
	}
	p.mu.Unlock()
	close(p.done)
}

// Wait blocks until Resolve has been called, then reports the outcome.
func (p *Proposal) Wait() bool {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Approved
}
