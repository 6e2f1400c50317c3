package identmap

import (
	"testing"

	"github.com/bskyhook/notifier/internal/subscriber"
)

func TestInsertGetRemove(t *testing.T) {
	m := New()
	sub := subscriber.New("did:example:1", "http://example.invalid", [32]byte{}, nil)

	if _, ok := m.Get("did:example:1"); ok {
		t.Fatal("expected no entry before insert")
	}

	m.Insert("did:example:1", sub)
	got, ok := m.Get("did:example:1")
	if !ok || got.ID != sub.ID {
		t.Fatalf("expected to get back inserted subscriber, got %v ok=%v", got, ok)
	}

	m.Remove("did:example:1")
	if _, ok := m.Get("did:example:1"); ok {
		t.Fatal("expected entry gone after remove")
	}
}

func TestLastWriterWins(t *testing.T) {
	m := New()
	s1 := subscriber.New("did:example:1", "http://a.invalid", [32]byte{}, nil)
	s2 := subscriber.New("did:example:1", "http://b.invalid", [32]byte{}, nil)

	m.Insert("did:example:1", s1)
	m.Insert("did:example:1", s2)

	got, ok := m.Get("did:example:1")
	if !ok || got.ID != s2.ID {
		t.Fatalf("expected last writer (%d) to win, got %v", s2.ID, got)
	}
}
