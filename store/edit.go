package store

import (
	"encoding/json"

	"github.com/evalgo-org/rouchdb/rev"
	"github.com/evalgo-org/rouchdb/revtree"
)

// ApplyEdit runs the shared write path that the memory and embedded-KV
// backends both need: validate the claimed parent (or accept a full
// replication ancestry), compute the new revision, merge it into tree, and
// classify the result. The HTTP backend delegates this entirely to the
// remote CouchDB server instead, since the server already does it.
//
// For opts.NewEdits (plain writes), parent is the revision the caller read
// before editing (zero for a new document); ApplyEdit computes the new
// revision itself via rev.NewHash and rejects the write with Conflict if
// tree has leaves but none matches parent, or if the resulting outcome is
// NewBranch: a plain write is never allowed to fork the tree.
//
// For replication-mode writes (opts.NewEdits == false), revisions is the
// full claimed ancestry, leaf-first, exactly as received from bulk_get; it
// is merged as-is and NewBranch is accepted rather than rejected.
func ApplyEdit(tree revtree.Tree, opts BulkDocsOptions, parent rev.Revision, revisions []rev.Revision, deleted bool, body json.RawMessage, revLimit int) (revtree.Tree, rev.Revision, revtree.Outcome, []revtree.Dropped, error) {
	if opts.NewEdits {
		switch {
		case len(tree) == 0 && !parent.IsZero():
			return tree, rev.Revision{}, revtree.InternalNode, nil, New(KindConflict, "document does not exist")
		case len(tree) > 0 && parent.IsZero():
			return tree, rev.Revision{}, revtree.InternalNode, nil, New(KindConflict, "document already exists")
		case len(tree) > 0:
			if _, _, ok := revtree.FindNode(tree, parent.Pos, parent.Hash); !ok {
				return tree, rev.Revision{}, revtree.InternalNode, nil, New(KindConflict, "no matching revision to edit")
			}
		}

		hash, err := rev.NewHash(parent, deleted, body, nil)
		if err != nil {
			return tree, rev.Revision{}, revtree.InternalNode, nil, Wrap(KindJSON, err)
		}
		newRev := rev.New(rev.NextPosition(parent), hash)

		var chain []rev.Revision
		if parent.IsZero() {
			chain = []rev.Revision{newRev}
		} else {
			chain = []rev.Revision{newRev, parent}
		}
		newPath := revtree.NewPath(chain, revtree.Opts{Deleted: deleted})

		merged, outcome, dropped := revtree.MergeAndStem(tree, newPath, revLimit)
		// Merging into an empty tree always reports NewBranch (a new root);
		// that is a document creation, not a fork.
		if outcome == revtree.NewBranch && len(tree) > 0 {
			return tree, rev.Revision{}, outcome, nil, New(KindConflict, "edit would fork the revision tree")
		}
		return merged, newRev, outcome, dropped, nil
	}

	if len(revisions) == 0 {
		return tree, rev.Revision{}, revtree.InternalNode, nil, New(KindBadRequest, "replication write requires a revision chain")
	}
	leafOpts := revtree.Opts{Deleted: deleted}
	newPath := revtree.NewPath(revisions, leafOpts)
	merged, outcome, dropped := revtree.MergeAndStem(tree, newPath, revLimit)
	return merged, revisions[0], outcome, dropped, nil
}
