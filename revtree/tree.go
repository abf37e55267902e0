// Package revtree implements the per-document revision tree: the forest of
// rooted revision paths that every storage backend merges incoming edits
// into, plus winner selection, conflict enumeration, and depth-bounded
// stemming. The package is pure (no I/O, no suspension points) so every
// backend shares the same merge and winner logic and converges on
// identical results.
package revtree

import "github.com/evalgo-org/rouchdb/rev"

// Status marks whether a node's body is retrievable or known only by hash.
type Status int

const (
	// Available means the node's body can be fetched from the body store.
	Available Status = iota
	// Missing marks an ancestor known only by (pos, hash), typical after
	// stemming or partial replication.
	Missing
)

// Opts carries per-node flags. Today this is only the deletion flag, but it
// is a struct (not a bare bool) so additional per-revision flags can be
// added without changing every call site.
type Opts struct {
	Deleted bool
}

// Node is one revision in a path. Its position is implied by its depth
// within the enclosing Path: the node at depth d has position Path.Pos + d.
type Node struct {
	Hash     string
	Status   Status
	Opts     Opts
	Children []*Node
}

// Path is a rooted subtree of revisions: the node at depth d of Tree has
// revision position Pos + d. A node may have more than one child; a Path
// is a rooted subtree, not necessarily a single chain.
type Path struct {
	Pos  uint64
	Tree *Node
}

// Tree is the forest of revision paths for one document. Most documents
// have exactly one root; more than one root occurs only when a merge
// discovers completely disjoint ancestry.
type Tree []*Path

// Leaf describes one open revision: a node with no children.
type Leaf struct {
	Pos     uint64
	Hash    string
	Deleted bool
}

// Revision returns the (pos, hash) pair identifying this leaf.
func (l Leaf) Revision() rev.Revision {
	return rev.New(l.Pos, l.Hash)
}

// Clone deep-copies the tree so callers (notably Merge and Stem) can mutate
// their own copy without aliasing the caller's.
func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for i, p := range t {
		out[i] = &Path{Pos: p.Pos, Tree: cloneNode(p.Tree)}
	}
	return out
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	children := make([]*Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = cloneNode(c)
	}
	return &Node{Hash: n.Hash, Status: n.Status, Opts: n.Opts, Children: children}
}

// NewPath builds a rooted chain from a leaf-to-root list of revisions, the
// shape a document's ancestry is carried in over the wire. revsLeafToRoot[0] is
// the new leaf; the rest are ancestors, nearest first. Only the leaf is
// marked Available; ancestors are markers (Missing) unless the caller has
// their bodies too, in which case use NewPathWithStatus.
func NewPath(revsLeafToRoot []rev.Revision, leafOpts Opts) *Path {
	statuses := make([]Status, len(revsLeafToRoot))
	for i := range statuses {
		statuses[i] = Missing
	}
	if len(statuses) > 0 {
		statuses[0] = Available
	}
	return NewPathWithStatus(revsLeafToRoot, statuses, leafOpts)
}

// NewPathWithStatus is NewPath but lets the caller mark which ancestors are
// locally available (used when replaying a partially-stemmed tree).
func NewPathWithStatus(revsLeafToRoot []rev.Revision, statuses []Status, leafOpts Opts) *Path {
	if len(revsLeafToRoot) == 0 {
		return nil
	}
	root := revsLeafToRoot[len(revsLeafToRoot)-1]
	return &Path{Pos: root.Pos, Tree: buildChain(revsLeafToRoot, statuses, leafOpts)}
}

// buildChain builds the root-to-leaf node chain: nodes[n-1] (the oldest
// ancestor) is the root, each shallower node is its single child, down to
// nodes[0] (the new leaf).
func buildChain(revsLeafToRoot []rev.Revision, statuses []Status, leafOpts Opts) *Node {
	n := len(revsLeafToRoot)
	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		nodes[i] = &Node{Hash: revsLeafToRoot[i].Hash, Status: statuses[i]}
	}
	nodes[0].Opts = leafOpts
	for i := n - 1; i > 0; i-- {
		nodes[i].Children = []*Node{nodes[i-1]}
	}
	return nodes[n-1]
}

// CollectLeaves gathers every leaf across the forest in deterministic
// winner order: non-deleted before deleted, higher Pos before lower, then
// lexicographically greater Hash before lesser. The first entry is always
// the winner.
func CollectLeaves(t Tree) []Leaf {
	var leaves []Leaf
	for _, p := range t {
		walkLeaves(p.Tree, p.Pos, &leaves)
	}
	sortLeaves(leaves)
	return leaves
}

func walkLeaves(n *Node, pos uint64, out *[]Leaf) {
	if n == nil {
		return
	}
	if len(n.Children) == 0 {
		*out = append(*out, Leaf{Pos: pos, Hash: n.Hash, Deleted: n.Opts.Deleted})
		return
	}
	for _, c := range n.Children {
		walkLeaves(c, pos+1, out)
	}
}

func sortLeaves(leaves []Leaf) {
	// Simple insertion sort: leaf counts per document are small (almost
	// always 1, rarely more than a handful of conflicts), so this avoids
	// pulling in sort.Slice's reflection-based comparator for a one-off.
	for i := 1; i < len(leaves); i++ {
		for j := i; j > 0 && leafLess(leaves[j], leaves[j-1]); j-- {
			leaves[j], leaves[j-1] = leaves[j-1], leaves[j]
		}
	}
}

// leafLess reports whether a sorts strictly before b in winner order.
func leafLess(a, b Leaf) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted // non-deleted first
	}
	if a.Pos != b.Pos {
		return a.Pos > b.Pos // higher pos first
	}
	return a.Hash > b.Hash // greater hash first
}

// FindNode searches the whole forest for a node at the given (pos, hash),
// returning it along with the path it belongs to.
func FindNode(t Tree, pos uint64, hash string) (*Node, *Path, bool) {
	for _, p := range t {
		if n := findInNode(p.Tree, p.Pos, pos, hash); n != nil {
			return n, p, true
		}
	}
	return nil, nil, false
}

func findInNode(n *Node, curPos, targetPos uint64, targetHash string) *Node {
	if n == nil {
		return nil
	}
	if curPos == targetPos && n.Hash == targetHash {
		return n
	}
	for _, c := range n.Children {
		if found := findInNode(c, curPos+1, targetPos, targetHash); found != nil {
			return found
		}
	}
	return nil
}
