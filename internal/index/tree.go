// Package index implements the multi-pattern substring-matching core: a
// 256-rooted radix (Patricia) tree over byte phrases, supporting concurrent
// insertion, removal, and deduplicated substring queries.
package index

import (
	"bytes"
	"sync"

	"github.com/bskyhook/notifier/internal/subscriber"
)

// Tree is the 256-rooted radix tree holding the union of every subscriber's
// phrases. The root array is allocated once, at construction, and never
// resized; every other mutation happens strictly under mu.
type Tree struct {
	mu    sync.RWMutex
	roots [256]*branch
}

// New allocates a Tree with all 256 root branches in place.
func New() *Tree {
	t := &Tree{}
	for i := range t.roots {
		t.roots[i] = newBranch()
	}
	return t
}

// Add inserts phrase for sub. Returns false for an empty phrase or if sub was
// already registered for an equal phrase (idempotent insert).
func (t *Tree) Add(phrase string, sub *subscriber.Subscriber) bool {
	if phrase == "" {
		return false
	}
	p := []byte(phrase)

	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.roots[p[0]]
	return writeBranch(root, p[1:], sub)
}

// Remove deletes sub from the node exactly matching phrase, without creating
// or splitting nodes, and without compacting the tree afterwards. Returns
// false if phrase is empty or no exact node matches.
func (t *Tree) Remove(phrase string, sub *subscriber.Subscriber) bool {
	if phrase == "" {
		return false
	}
	p := []byte(phrase)

	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.roots[p[0]]
	target, ok := findExact(root, p[1:])
	if !ok {
		return false
	}
	target.removeSelf(sub.ID)
	return true
}

// FindAllMatches returns, deduplicated, every subscriber with at least one
// phrase occurring as a contiguous substring of text. Order is unspecified.
func (t *Tree) FindAllMatches(text []byte) []*subscriber.Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[uint64]struct{})
	var out []*subscriber.Subscriber

	for i := 0; i < len(text); i++ {
		root := t.roots[text[i]]
		walkBranch(root, text[i+1:], seen, &out)
	}
	return out
}

// writeBranch performs the descent/insertion algorithm, including the
// mid-label split for the partial-common-prefix case (neither the existing
// edge label nor the remaining path is a prefix of the other).
func writeBranch(b *branch, remaining []byte, sub *subscriber.Subscriber) bool {
outer:
	for {
		if len(remaining) == 0 {
			return b.addSelf(sub)
		}

		for i := range b.edges {
			e := &b.edges[i]
			label := e.label

			switch {
			case len(label) <= len(remaining) && bytes.HasPrefix(remaining, label):
				remaining = remaining[len(label):]
				b = e.child
				continue outer

			case len(label) > len(remaining) && bytes.HasPrefix(label, remaining):
				splitEdge(e, len(remaining), sub)
				return true

			default:
				if cp := commonPrefixLen(label, remaining); cp > 0 {
					splitEdgeAtCommonPrefix(e, cp, remaining[cp:], sub)
					return true
				}
			}
		}

		// No edge matched at all: append a fresh edge/child for the
		// remainder.
		child := newBranch()
		child.addSelf(sub)
		b.edges = append(b.edges, edge{label: cloneBytes(remaining), child: child})
		return true
	}
}

// splitEdge handles the case where an existing edge's label is strictly
// longer than, and starts with, the remaining path: split at offset k,
// placing sub at the new junction.
func splitEdge(e *edge, k int, sub *subscriber.Subscriber) {
	oldLabel, oldChild := e.label, e.child

	junction := newBranch()
	junction.edges = []edge{{label: cloneBytes(oldLabel[k:]), child: oldChild}}
	junction.addSelf(sub)

	e.label = cloneBytes(oldLabel[:k])
	e.child = junction
}

// splitEdgeAtCommonPrefix handles the partial-common-prefix case: label and
// remaining share a non-empty prefix of length cp shorter than both. A new
// junction is created with two children: the former child under the old
// label's suffix, and a fresh child under the new phrase's suffix containing
// sub.
func splitEdgeAtCommonPrefix(e *edge, cp int, remainderTail []byte, sub *subscriber.Subscriber) {
	oldLabel, oldChild := e.label, e.child

	newChild := newBranch()
	newChild.addSelf(sub)

	junction := newBranch()
	junction.edges = []edge{
		{label: cloneBytes(oldLabel[cp:]), child: oldChild},
		{label: cloneBytes(remainderTail), child: newChild},
	}

	e.label = cloneBytes(oldLabel[:cp])
	e.child = junction
}

// walkBranch unions b's subscribers into out (deduplicated via seen), then
// descends into the unique edge, if any, whose label prefixes remaining.
func walkBranch(b *branch, remaining []byte, seen map[uint64]struct{}, out *[]*subscriber.Subscriber) {
	for {
		for _, s := range b.subscribers {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			*out = append(*out, s)
		}

		if len(remaining) == 0 {
			return
		}

		matched := false
		for _, e := range b.edges {
			if len(e.label) <= len(remaining) && bytes.HasPrefix(remaining, e.label) {
				remaining = remaining[len(e.label):]
				b = e.child
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}
}

// findExact walks the "consume full label" case only, creating nothing; it
// is used by Remove to locate the node a phrase terminates at.
func findExact(b *branch, remaining []byte) (*branch, bool) {
	for {
		if len(remaining) == 0 {
			return b, true
		}

		matched := false
		for _, e := range b.edges {
			if len(e.label) <= len(remaining) && bytes.HasPrefix(remaining, e.label) {
				remaining = remaining[len(e.label):]
				b = e.child
				matched = true
				break
			}
		}
		if !matched {
			return nil, false
		}
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
