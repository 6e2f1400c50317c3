package index

import "github.com/bskyhook/notifier/internal/subscriber"

// edge is a single labeled pointer from a branch to a child branch. The label
// is always non-empty; invariant 1 (the Patricia property) guarantees no two
// edges of the same branch share a non-empty common prefix.
type edge struct {
	label []byte
	child *branch
}

// branch is one node of the radix tree. subscribers holds every subscriber
// whose phrase, walking from the root, terminates exactly at this node.
type branch struct {
	edges       []edge
	subscribers []*subscriber.Subscriber
}

func newBranch() *branch {
	return &branch{}
}

// addSelf appends sub to b's subscriber list if not already present. Returns
// true if the list changed.
func (b *branch) addSelf(sub *subscriber.Subscriber) bool {
	for _, s := range b.subscribers {
		if s.ID == sub.ID {
			return false
		}
	}
	b.subscribers = append(b.subscribers, sub)
	return true
}

// removeSelf removes every entry matching sub's id from b's subscriber list.
// Returns true if anything was removed.
func (b *branch) removeSelf(id uint64) bool {
	out := b.subscribers[:0]
	removed := false
	for _, s := range b.subscribers {
		if s.ID == id {
			removed = true
			continue
		}
		out = append(out, s)
	}
	b.subscribers = out
	return removed
}

// commonPrefixLen returns the length of the longest common prefix of a and b.
func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
