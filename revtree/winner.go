package revtree

import "github.com/evalgo-org/rouchdb/rev"

// Winner returns the winning revision for a document: the first entry of
// CollectLeaves, or the zero revision if the forest is empty.
func Winner(t Tree) (rev.Revision, bool) {
	leaves := CollectLeaves(t)
	if len(leaves) == 0 {
		return rev.Revision{}, false
	}
	return leaves[0].Revision(), true
}

// IsDeleted reports whether the document's current winner is a deletion.
func IsDeleted(t Tree) bool {
	leaves := CollectLeaves(t)
	if len(leaves) == 0 {
		return true
	}
	return leaves[0].Deleted
}

// Conflicts returns the non-winning, non-deleted leaves, in the same
// deterministic order as CollectLeaves. A deleted leaf losing to a
// non-deleted winner is not a conflict.
func Conflicts(t Tree) []rev.Revision {
	leaves := CollectLeaves(t)
	if len(leaves) <= 1 {
		return nil
	}
	out := make([]rev.Revision, 0, len(leaves)-1)
	for _, l := range leaves[1:] {
		if l.Deleted {
			continue
		}
		out = append(out, l.Revision())
	}
	return out
}
