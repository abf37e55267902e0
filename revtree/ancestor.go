package revtree

import "github.com/evalgo-org/rouchdb/rev"

// LatestAvailable returns the nearest available revision at or below
// (pos, hash): if that node itself is Available it is returned directly;
// otherwise its descendants are searched depth-first, first child first, and
// the first Available node found is returned. It reports false if (pos, hash) isn't in the
// tree at all, or no Available node exists beneath it.
func LatestAvailable(t Tree, pos uint64, hash string) (rev.Revision, bool) {
	n, p, ok := FindNode(t, pos, hash)
	if !ok {
		return rev.Revision{}, false
	}
	return findLatest(n, pos, p)
}

func findLatest(n *Node, pos uint64, p *Path) (rev.Revision, bool) {
	if n.Status == Available {
		return rev.New(pos, n.Hash), true
	}
	for _, c := range n.Children {
		if r, ok := findLatest(c, pos+1, p); ok {
			return r, ok
		}
	}
	return rev.Revision{}, false
}

// PossibleAncestors returns revisions currently in tree that might be
// ancestors of a revision the caller claims exists but this tree does not
// have. Since a tree that lacks the claimed revision cannot know its true
// ancestry, every existing leaf with a lower generation is a candidate: the
// caller (replicate, or a backend's revs_diff) uses these to decide what
// ancestry context to send back, mirroring CouchDB's conservative
// generation-based heuristic.
func PossibleAncestors(t Tree, missing rev.Revision) []rev.Revision {
	var out []rev.Revision
	for _, l := range CollectLeaves(t) {
		if l.Pos < missing.Pos {
			out = append(out, l.Revision())
		}
	}
	return out
}
