package consensus

import (
	"testing"
	"time"

	"github.com/gossipmesh/gossipmesh/internal/identity"
	"github.com/gossipmesh/gossipmesh/internal/wire"
)

func TestProposalTally(t *testing.T) {
	p := newProposal(KindRegister, identity.New("s", 1), identity.New("self", 0), time.Now().Add(time.Second))

	p.RecordVote(identity.New("v1", 1), wire.VoteYes)
	p.RecordVote(identity.New("v2", 2), wire.VoteNo)
	p.RecordVote(identity.New("v1", 1), wire.VoteYes) // repeat, idempotent

	yes, no := p.Tally()
	if yes != 1 || no != 1 {
		t.Fatalf("expected yes=1 no=1, got yes=%d no=%d", yes, no)
	}
}

func TestProposalResolveIsIdempotentAndWakesWaiters(t *testing.T) {
	p := newProposal(KindRemove, identity.New("s", 1), identity.New("self", 0), time.Now().Add(time.Second))

	done := make(chan bool, 1)
	go func() {
		done <- p.Wait()
	}()

	p.Resolve(true)
	p.Resolve(false) // second call must be a no-op

	select {
	case approved := <-done:
		if !approved {
			t.Fatalf("expected the first Resolve(true) to win")
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait never returned")
	}

	if p.Wait() != true {
		t.Fatalf("expected a later Wait to still observe the resolved state")
	}
}

func TestNewProposalIDIsNonEmpty(t *testing.T) {
	id := newProposalID()
	if id == "" {
		t.Fatalf("expected a non-empty proposal id")
	}
}
