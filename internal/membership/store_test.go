package membership

import (
	"testing"

	"github.com/gossipmesh/gossipmesh/internal/identity"
)

func TestInsertAndContains(t *testing.T) {
	s := New()
	id := identity.New("a", 1)

	if !s.Insert(id) {
		t.Fatalf("expected first insert to report true")
	}
	if s.Insert(id) {
		t.Fatalf("expected second insert to report false")
	}
	if !s.Contains(id) {
		t.Fatalf("expected store to contain id")
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}
}

func TestRemove(t *testing.T) {
	s := New()
	id := identity.New("a", 1)
	s.Insert(id)

	if !s.Remove(id) {
		t.Fatalf("expected remove to report true")
	}
	if s.Contains(id) {
		t.Fatalf("expected store to no longer contain id")
	}
	if s.Remove(id) {
		t.Fatalf("expected second remove to report false")
	}
}

func TestUnionOnlyGrows(t *testing.T) {
	s := New()
	a := identity.New("a", 1)
	b := identity.New("b", 2)
	s.Insert(a)

	added := s.Union([]identity.ID{a, b})
	if len(added) != 1 || !added[0].Equal(b) {
		t.Fatalf("expected only b to be reported added, got %v", added)
	}
	if !s.Contains(a) || !s.Contains(b) {
		t.Fatalf("expected both members present after union")
	}
	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}
}

func TestListIsSnapshot(t *testing.T) {
	s := New()
	s.Insert(identity.New("a", 1))

	list := s.List()
	s.Insert(identity.New("b", 2))

	if len(list) != 1 {
		t.Fatalf("expected the earlier snapshot to stay at len 1, got %d", len(list))
	}
}
