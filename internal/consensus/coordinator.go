// Package consensus runs the two-phase proposal protocol a seed uses to
// change the membership set: a register or remove proposal is solicited
// across the seed cluster and committed only once it carries a majority of
// YES votes.
package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/membership"
	"github.com/gossipmesh/gossipmesh/internal/seeddir"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

// Coordinator is the consensus engine living inside each seed. It serves
// both roles: originator (when this seed receives the initiating request)
// and voter (when another seed solicits this seed's vote).
type Coordinator struct {
	self  identity.ID
	dir   *seeddir.Directory
	store *membership.Store
	pool  *wire.Pool
	log   *logrus.Entry

	proposalTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*Proposal // key: kind|subject -> in-flight proposal

	outcomesMu sync.Mutex
	lastLogged map[string]time.Time // dedup window for CONSENSUS OUTCOME lines
}

// New builds a Coordinator. pool is used to dial other seeds when
// soliciting votes; the caller's listener routes inbound peer and seed
// messages to the Handle* methods below.
func New(self identity.ID, dir *seeddir.Directory, store *membership.Store, pool *wire.Pool, log *logrus.Entry, proposalTimeout time.Duration) *Coordinator {
	return &Coordinator{
		self:            self,
		dir:             dir,
		store:           store,
		pool:            pool,
		log:             log,
		proposalTimeout: proposalTimeout,
		pending:         make(map[string]*Proposal),
		lastLogged:      make(map[string]time.Time),
	}
}

func proposalKey(kind Kind, subject identity.ID) string {
	return string(kind) + "|" + subject.String()
}

// HandleRegisterRequest is the peer-facing entrypoint for REGISTER_REQUEST.
// It replies on conn with REGISTER_ACK or REGISTER_NACK.
func (c *Coordinator) HandleRegisterRequest(conn *wire.Conn, req wire.RegisterRequest) {
	if c.store.Contains(req.Peer) {
		c.log.WithField("peer", req.Peer).Info("REGISTER_REQUEST for existing member, ACK without proposal")
		conn.Send(wire.RegisterAck{})
		return
	}

	approved := c.run(KindRegister, req.Peer)
	if approved {
		conn.Send(wire.RegisterAck{})
	} else {
		conn.Send(wire.RegisterNack{Reason: "quorum not reached"})
	}
}

// HandleDeadNodeReport is the peer-facing entrypoint for DEAD_NODE_REPORT.
// There is no response on the wire for this message type.
func (c *Coordinator) HandleDeadNodeReport(report wire.DeadNodeReport) {
	if !c.store.Contains(report.Subject) {
		c.log.WithField("subject", report.Subject).Info("DEAD_NODE_REPORT for non-member, ignoring")
		return
	}

	c.run(KindRemove, report.Subject)
}

// HandleGetPeerList answers GET_PEER_LIST with a snapshot of the
// membership set.
func (c *Coordinator) HandleGetPeerList(conn *wire.Conn) {
	conn.Send(wire.PeerList{Members: c.store.List()})
}

// HandleProposeRegister is the seed-facing entrypoint for PROPOSE_REGISTER.
// It votes deterministically and replies with VOTE on the same connection.
func (c *Coordinator) HandleProposeRegister(conn *wire.Conn, msg wire.ProposeRegister) {
	// Idempotent: a repeat or already-committed register is still a YES,
	// since admitting it again is a no-op.
	c.log.WithFields(logrus.Fields{"proposal_id": msg.ProposalID, "peer": msg.Peer, "from": msg.Originator}).Debug("received PROPOSE_REGISTER")
	conn.Send(wire.Vote{ProposalID: msg.ProposalID, Vote: wire.VoteYes, Voter: c.self})
}

// HandleProposeRemove is the seed-facing entrypoint for PROPOSE_REMOVE. It
// votes YES iff the subject is currently a member of this seed's own
// membership set.
func (c *Coordinator) HandleProposeRemove(conn *wire.Conn, msg wire.ProposeRemove) {
	vote := wire.VoteNo
	if c.store.Contains(msg.Peer) {
		vote = wire.VoteYes
	}
	c.log.WithFields(logrus.Fields{"proposal_id": msg.ProposalID, "peer": msg.Peer, "vote": vote}).Debug("received PROPOSE_REMOVE")
	conn.Send(wire.Vote{ProposalID: msg.ProposalID, Vote: vote, Voter: c.self})
}

// HandleRemovalNotify applies a committed removal broadcast by whichever
// seed committed it.
func (c *Coordinator) HandleRemovalNotify(msg wire.RemovalNotify) {
	if c.store.Remove(msg.Peer) {
		c.log.WithField("peer", msg.Peer).Info("applied REMOVAL_NOTIFY")
	}
}

// HandleSyncMembership unions a remote seed's committed members into this
// seed's own set. This never removes and never admits anything this seed
// didn't already (or would) vote YES for, since every REGISTER vote this
// seed casts is YES for a non-member: a union only ever reflects what
// already passed quorum somewhere in the cluster.
func (c *Coordinator) HandleSyncMembership(msg wire.SyncMembership) {
	added := c.store.Union(msg.Members)
	for _, id := range added {
		c.log.WithField("peer", id).Debug("learned member via SYNC_MEMBERSHIP")
	}
}

// run executes the full originator-side proposal algorithm for (kind,
// subject): idempotency was already checked by the caller, so run always
// creates or attaches to a proposal and blocks until it resolves.
func (c *Coordinator) run(kind Kind, subject identity.ID) bool {
	key := proposalKey(kind, subject)

	c.mu.Lock()
	if existing, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"kind": kind, "subject": subject}).Debug("attaching to in-flight proposal, treating as repeat request")
		return existing.Wait()
	}

	p := newProposal(kind, subject, c.self, time.Now().Add(c.proposalTimeout))
	c.pending[key] = p
	c.mu.Unlock()

	p.RecordVote(c.self, wire.VoteYes)

	quorum := c.dir.Quorum()
	total := c.dir.Count()
	others := c.dir.Others(c.self)

	c.log.WithFields(logrus.Fields{
		"proposal_id": p.ID, "kind": kind, "subject": subject,
		"votes": 1, "needed": quorum,
	}).Info("PROPOSAL started")

	type voteResult struct {
		seed identity.ID
		vote string
		err  error
	}
	results := make(chan voteResult, len(others))
	for _, seed := range others {
		seed := seed
		go func() {
			vote, err := c.solicitVote(p, seed)
			results <- voteResult{seed: seed, vote: vote, err: err}
		}()
	}

	outstanding := len(others)
	approved := false
	decided := outstanding == 0 // no other seeds: self-vote alone decides
	if decided {
		yes, _ := p.Tally()
		approved = yes >= quorum
	}

	deadline := time.After(c.proposalTimeout)

	for !decided && outstanding > 0 {
		select {
		case res := <-results:
			outstanding--
			if res.err != nil {
				c.log.WithFields(logrus.Fields{"proposal_id": p.ID, "seed": res.seed, "error": res.err}).Warn("vote solicitation failed, treating as unreceived")
			} else {
				p.RecordVote(res.seed, res.vote)
				yes, _ := p.Tally()
				c.log.WithFields(logrus.Fields{"proposal_id": p.ID, "from": res.seed, "vote": res.vote, "total_yes": yes, "needed": quorum}).Info("vote received")
			}

			yes, no := p.Tally()
			if yes >= quorum {
				approved, decided = true, true
			} else if yes+(total-(yes+no)) < quorum {
				approved, decided = false, true
			}
		case <-deadline:
			yes, _ := p.Tally()
			approved, decided = yes >= quorum, true
		}
	}
	if !decided {
		yes, _ := p.Tally()
		approved = yes >= quorum
	}

	p.Resolve(approved)

	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()

	if approved {
		c.commit(kind, subject)
	}
	c.logOutcome(kind, subject, p.ID, approved)

	return approved
}

// solicitVote dials seed, sends the proposal, and reads the vote back on
// the same connection.
func (c *Coordinator) solicitVote(p *Proposal, seed identity.ID) (string, error) {
	conn, err := c.pool.Get(seed.String())
	if err != nil {
		return "", err
	}

	conn.SetDeadline(time.Now().Add(c.proposalTimeout))

	var sendErr error
	switch p.Kind {
	case KindRegister:
		sendErr = conn.Send(wire.ProposeRegister{ProposalID: p.ID, Peer: p.Subject, Originator: c.self})
	case KindRemove:
		sendErr = conn.Send(wire.ProposeRemove{ProposalID: p.ID, Peer: p.Subject, Originator: c.self})
	}
	if sendErr != nil {
		conn.Close()
		return "", sendErr
	}

	decoded, err := conn.Receive()
	if err != nil {
		conn.Close()
		return "", err
	}
	if decoded.Type != wire.TypeVote {
		conn.Close()
		return "", fmt.Errorf("expected VOTE, got %s", decoded.Type)
	}

	var v wire.Vote
	if err := decoded.Into(&v); err != nil {
		conn.Close()
		return "", err
	}
	if v.ProposalID != p.ID {
		// Unknown/mismatched proposal_id: discard.
		conn.Close()
		return "", fmt.Errorf("vote for unknown proposal_id %s", v.ProposalID)
	}

	c.pool.Put(seed.String(), conn)
	return v.Vote, nil
}

// commit applies an approved proposal to the local membership set and, for
// REMOVE, broadcasts REMOVAL_NOTIFY to the rest of the seed cluster and to
// every surviving peer, so neighbor sets refresh rather than holding a
// removed address forever.
func (c *Coordinator) commit(kind Kind, subject identity.ID) {
	switch kind {
	case KindRegister:
		c.store.Insert(subject)
	case KindRemove:
		remaining := c.store.List()
		c.store.Remove(subject)
		c.broadcastRemoval(subject)
		c.notifyPeers(subject, remaining)
	}
}

func (c *Coordinator) broadcastRemoval(subject identity.ID) {
	for _, seed := range c.dir.Others(c.self) {
		conn, err := c.pool.Get(seed.String())
		if err != nil {
			c.log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("failed to reach seed for REMOVAL_NOTIFY")
			continue
		}
		conn.SetDeadline(time.Now().Add(c.proposalTimeout))
		if err := conn.Send(wire.RemovalNotify{Peer: subject}); err != nil {
			c.log.WithFields(logrus.Fields{"seed": seed, "error": err}).Warn("failed to send REMOVAL_NOTIFY")
			conn.Close()
			continue
		}
		c.pool.Put(seed.String(), conn)
	}
	c.pool.Invalidate(subject.String())
}

// notifyPeers tells every peer still in the membership set (as of just
// before subject was removed) that subject is gone, so each one can drop it
// from its neighbor set and its connection pool.
func (c *Coordinator) notifyPeers(subject identity.ID, members []identity.ID) {
	for _, peer := range members {
		if peer.Equal(subject) {
			continue
		}
		conn, err := c.pool.Get(peer.String())
		if err != nil {
			c.log.WithFields(logrus.Fields{"peer": peer, "error": err}).Warn("failed to reach peer for REMOVAL_NOTIFY")
			continue
		}
		conn.SetDeadline(time.Now().Add(c.proposalTimeout))
		if err := conn.Send(wire.RemovalNotify{Peer: subject}); err != nil {
			c.log.WithFields(logrus.Fields{"peer": peer, "error": err}).Warn("failed to send REMOVAL_NOTIFY")
			conn.Close()
			continue
		}
		c.pool.Put(peer.String(), conn)
	}
}

// logOutcome emits the CONSENSUS OUTCOME line, deduplicated within a short
// window so a same-subject race between two originators doesn't double-log.
func (c *Coordinator) logOutcome(kind Kind, subject identity.ID, proposalID string, approved bool) {
	key := proposalKey(kind, subject)

	c.outcomesMu.Lock()
	if last, ok := c.lastLogged[key]; ok && time.Since(last) < time.Second {
		c.outcomesMu.Unlock()
		return
	}
	c.lastLogged[key] = time.Now()
	c.outcomesMu.Unlock()

	outcome := "REJECTED"
	if approved {
		outcome = "APPROVED"
	}
	c.log.WithFields(logrus.Fields{
		"proposal_id": proposalID, "kind": kind, "subject": subject,
	}).Infof("CONSENSUS OUTCOME - %s", outcome)
}
