package identity

import "testing"

func TestParseColon(t *testing.T) {
	id, err := Parse("127.0.0.1:7000")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if id.Host != "127.0.0.1" || id.Port != 7000 {
		t.Fatalf("got %+v", id)
	}
}

func TestParseComma(t *testing.T) {
	id, err := Parse("example.com,9000")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if id.Host != "example.com" || id.Port != 9000 {
		t.Fatalf("got %+v", id)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []string{"", "noseparator", "127.0.0.1:", "127.0.0.1:notanumber", "127.0.0.1:0", "127.0.0.1:99999"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	id := New("10.0.0.1", 1234)
	if id.String() != "10.0.0.1:1234" {
		t.Fatalf("got %q", id.String())
	}
	reparsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reparsed.Equal(id) {
		t.Fatalf("round trip mismatch: %+v vs %+v", reparsed, id)
	}
}

func TestEqual(t *testing.T) {
	a := New("h", 1)
	b := New("h", 1)
	c := New("h", 2)
	if !a.Equal(b) {
		t.Fatalf("expected equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected not equal")
	}
}

func TestSetDedup(t *testing.T) {
	s := NewSet([]ID{New("a", 1), New("b", 2), New("a", 1)})
	if s.Len() != 2 {
		t.Fatalf("expected 2 members, got %d", s.Len())
	}
	if !s.Contains(New("a", 1)) {
		t.Fatalf("expected a:1 to be present")
	}
	if !s.Remove(New("a", 1)) {
		t.Fatalf("expected remove to report true")
	}
	if s.Remove(New("a", 1)) {
		t.Fatalf("expected second remove to report false")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 member after remove, got %d", s.Len())
	}
}

func TestWithout(t *testing.T) {
	all := []ID{New("a", 1), New("b", 2), New("c", 3)}
	out := Without(all, New("b", 2))
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	for _, id := range out {
		if id.Equal(New("b", 2)) {
			t.Fatalf("b:2 should have been excluded")
		}
	}
}
