package index

import (
	"sort"
	"testing"

	"github.com/bskyhook/notifier/internal/subscriber"
)

func newSub(did string) *subscriber.Subscriber {
	return subscriber.New(did, "http://example.invalid/hook", [32]byte{}, nil)
}

func idsOf(subs []*subscriber.Subscriber) []uint64 {
	ids := make([]uint64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func containsID(subs []*subscriber.Subscriber, id uint64) bool {
	for _, s := range subs {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Scenario 1: disjoint match.
func TestScenario_DisjointMatch(t *testing.T) {
	tr := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")

	tr.Add("hello", u1)
	tr.Add("world", u1)
	tr.Add("ab", u2)

	got := tr.FindAllMatches([]byte("hello world"))
	if len(got) != 1 || !containsID(got, u1.ID) {
		t.Fatalf("want {u1}, got %v", idsOf(got))
	}
}

// Scenario 2: multi-subscriber match.
func TestScenario_MultiSubscriberMatch(t *testing.T) {
	tr := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")

	tr.Add("hello", u1)
	tr.Add("hello", u2)

	got := tr.FindAllMatches([]byte("hello world"))
	if len(got) != 2 || !containsID(got, u1.ID) || !containsID(got, u2.ID) {
		t.Fatalf("want {u1,u2}, got %v", idsOf(got))
	}
}

// Scenario 3: substring-of-phrase.
func TestScenario_SubstringOfPhrase(t *testing.T) {
	tr := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")

	tr.Add("hello", u1)
	tr.Add("or", u2)

	got := tr.FindAllMatches([]byte("hello world"))
	if len(got) != 2 || !containsID(got, u1.ID) || !containsID(got, u2.ID) {
		t.Fatalf("want {u1,u2}, got %v", idsOf(got))
	}
}

// Scenario 4: remove.
func TestScenario_Remove(t *testing.T) {
	tr := New()
	u := newSub("did:example:1")

	tr.Add("hello", u)
	if ok := tr.Remove("hello", u); !ok {
		t.Fatal("remove should report true")
	}

	got := tr.FindAllMatches([]byte("hello"))
	if len(got) != 0 {
		t.Fatalf("want no matches after remove, got %v", idsOf(got))
	}
}

// Scenario 5: split ("helicopter" then "hello" share prefix "hel").
func TestScenario_Split(t *testing.T) {
	tr := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")

	tr.Add("helicopter", u1)
	tr.Add("hello", u2)

	got := tr.FindAllMatches([]byte("hello helicopter"))
	if len(got) != 2 || !containsID(got, u1.ID) || !containsID(got, u2.ID) {
		t.Fatalf("want {u1,u2}, got %v", idsOf(got))
	}

	root := tr.roots['h']
	if len(root.edges) != 1 {
		t.Fatalf("want a single junction edge at root 'h', got %d edges", len(root.edges))
	}
	if string(root.edges[0].label) != "el" {
		t.Fatalf("want junction at shared prefix 'hel' (edge label 'el' after consuming 'h'), got %q", root.edges[0].label)
	}
	junction := root.edges[0].child
	if len(junction.edges) != 2 {
		t.Fatalf("want two children at the 'hel' junction, got %d", len(junction.edges))
	}
}

// Scenario 6: empty phrase.
func TestScenario_EmptyPhrase(t *testing.T) {
	tr := New()
	u := newSub("did:example:1")

	if tr.Add("", u) {
		t.Fatal("add(\"\") should return false")
	}
	if tr.Remove("", u) {
		t.Fatal("remove(\"\") should return false")
	}
	for _, b := range tr.roots {
		if len(b.edges) != 0 || len(b.subscribers) != 0 {
			t.Fatal("empty phrase must not mutate the tree")
		}
	}
}

// P4: insert idempotence.
func TestAdd_Idempotent(t *testing.T) {
	tr := New()
	u := newSub("did:example:1")

	if !tr.Add("hello", u) {
		t.Fatal("first add should return true")
	}
	before := len(tr.roots['h'].edges)

	if tr.Add("hello", u) {
		t.Fatal("second identical add should return false")
	}
	after := len(tr.roots['h'].edges)
	if before != after {
		t.Fatalf("tree shape changed on duplicate add: %d -> %d edges", before, after)
	}
}

// P5: remove-after-add leaves no trace.
func TestRemoveAfterAdd(t *testing.T) {
	tr := New()
	u := newSub("did:example:1")

	tr.Add("needle", u)
	if !tr.Remove("needle", u) {
		t.Fatal("remove should succeed")
	}
	if got := tr.FindAllMatches([]byte("a needle in a haystack")); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", idsOf(got))
	}
}

// P6: independence — results for disjoint subscribers equal the union of
// single-subscriber trees.
func TestIndependence(t *testing.T) {
	text := []byte("the quick brown fox jumps over the lazy dog")

	full := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")
	full.Add("quick", u1)
	full.Add("fox", u1)
	full.Add("lazy", u2)
	full.Add("dog", u2)

	only1 := New()
	only1.Add("quick", u1)
	only1.Add("fox", u1)

	only2 := New()
	only2.Add("lazy", u2)
	only2.Add("dog", u2)

	gotFull := idsOf(full.FindAllMatches(text))
	union := append(idsOf(only1.FindAllMatches(text)), idsOf(only2.FindAllMatches(text))...)
	sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })

	if len(gotFull) != len(union) {
		t.Fatalf("full=%v union=%v", gotFull, union)
	}
	for i := range gotFull {
		if gotFull[i] != union[i] {
			t.Fatalf("full=%v union=%v", gotFull, union)
		}
	}
}

// P7: split preservation — after a split, previously added phrases still
// match.
func TestSplitPreservesPriorMatches(t *testing.T) {
	tr := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")
	u3 := newSub("did:example:3")

	tr.Add("helicopter", u1)
	tr.Add("hello", u2) // splits "helicopter"'s edge at "hel"
	tr.Add("help", u3)  // adds a third edge at the "hel" junction

	cases := []struct {
		text string
		want uint64
	}{
		{"a helicopter flew by", u1.ID},
		{"hello there", u2.ID},
		{"please help me", u3.ID},
	}
	for _, c := range cases {
		got := tr.FindAllMatches([]byte(c.text))
		if !containsID(got, c.want) {
			t.Fatalf("text %q: want subscriber %d present, got %v", c.text, c.want, idsOf(got))
		}
	}
}

// The partial-common-prefix case must perform a mid-label split rather than
// being left unhandled.
func TestAdd_PartialCommonPrefixSplit(t *testing.T) {
	tr := New()
	u1 := newSub("did:example:1")
	u2 := newSub("did:example:2")

	tr.Add("team", u1)
	tr.Add("teapot", u2)

	root := tr.roots['t']
	if len(root.edges) != 1 {
		t.Fatalf("want single edge from root 't', got %d", len(root.edges))
	}
	if string(root.edges[0].label) != "ea" {
		t.Fatalf("want common-prefix edge label 'ea', got %q", root.edges[0].label)
	}
	junction := root.edges[0].child
	if len(junction.edges) != 2 {
		t.Fatalf("want two children at the 'tea' junction, got %d", len(junction.edges))
	}

	if got := tr.FindAllMatches([]byte("join the team today")); !containsID(got, u1.ID) {
		t.Fatalf("want u1 matched via 'team', got %v", idsOf(got))
	}
	if got := tr.FindAllMatches([]byte("a teapot on the stove")); !containsID(got, u2.ID) {
		t.Fatalf("want u2 matched via 'teapot', got %v", idsOf(got))
	}
}

// P8: Patricia invariant — no two edges share a non-empty common prefix;
// labels are non-empty.
func TestPatriciaInvariant(t *testing.T) {
	tr := New()
	words := []string{"team", "teapot", "tea", "technology", "ted", "hello", "helicopter", "help"}
	for i, w := range words {
		tr.Add(w, newSub(w+string(rune('0'+i))))
	}

	var check func(b *branch)
	check = func(b *branch) {
		for i, e := range b.edges {
			if len(e.label) == 0 {
				t.Fatalf("empty edge label found")
			}
			for j, other := range b.edges {
				if i == j {
					continue
				}
				if commonPrefixLen(e.label, other.label) != 0 {
					t.Fatalf("edges %q and %q share a common prefix", e.label, other.label)
				}
			}
			check(e.child)
		}
	}
	for _, root := range tr.roots {
		check(root)
	}
}

// P9: root fanout is always exactly 256.
func TestRootFanout(t *testing.T) {
	tr := New()
	if len(tr.roots) != 256 {
		t.Fatalf("want 256 roots, got %d", len(tr.roots))
	}
}

// P3: dedup — a subscriber with multiple matching phrases in the same text
// is reported once.
func TestDedup(t *testing.T) {
	tr := New()
	u := newSub("did:example:1")
	tr.Add("cat", u)
	tr.Add("dog", u)

	got := tr.FindAllMatches([]byte("the cat chased the dog"))
	if len(got) != 1 {
		t.Fatalf("want exactly one match, got %v", idsOf(got))
	}
}

// P1/P2: soundness and completeness via one text containing the phrase and
// one that does not.
func TestSoundnessAndCompleteness(t *testing.T) {
	tr := New()
	u := newSub("did:example:1")
	tr.Add("needle", u)

	text := "a needle in a haystack, another needle too"
	got := tr.FindAllMatches([]byte(text))
	if !containsID(got, u.ID) {
		t.Fatalf("completeness: expected u present, got %v", idsOf(got))
	}

	noMatch := tr.FindAllMatches([]byte("nothing of interest here"))
	if containsID(noMatch, u.ID) {
		t.Fatal("soundness: matched without an actual substring occurrence")
	}
}
