package revtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/rouchdb/rev"
)

func singleRootTree(revs []rev.Revision, deleted bool) Tree {
	p := NewPath(revs, Opts{Deleted: deleted})
	return Tree{p}
}

func TestMergeNewDocumentCreatesSingleRootLeaf(t *testing.T) {
	tree, outcome := Merge(nil, NewPath([]rev.Revision{rev.New(1, "a")}, Opts{}))
	assert.Equal(t, NewBranch, outcome) // no existing root to extend
	require.Len(t, tree, 1)
	winner, ok := Winner(tree)
	require.True(t, ok)
	assert.Equal(t, rev.New(1, "a"), winner)
}

func TestMergeWinnerTieBreakByHash(t *testing.T) {
	// 1-a -> 2-b, then fork 2-c from 1-a too.
	base := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)
	tree, outcome := Merge(base, NewPath([]rev.Revision{rev.New(2, "c"), rev.New(1, "a")}, Opts{}))
	assert.Equal(t, NewBranch, outcome)

	winner, ok := Winner(tree)
	require.True(t, ok)
	assert.Equal(t, rev.New(2, "c"), winner, "higher hash wins the tie at the same generation")

	conflicts := Conflicts(tree)
	require.Len(t, conflicts, 1)
	assert.Equal(t, rev.New(2, "b"), conflicts[0])
}

func TestMergeNonDeletedBeatsDeletedRegardlessOfHash(t *testing.T) {
	// 2-z would win a naive hash tie-break over 2-b, but 2-z is deleted, so
	// the live 2-b must win instead.
	tree := Tree{
		NewPath([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, Opts{Deleted: false}),
	}
	tree, outcome := Merge(tree, NewPath([]rev.Revision{rev.New(2, "z"), rev.New(1, "a")}, Opts{Deleted: true}))
	assert.Equal(t, NewBranch, outcome)

	winner, ok := Winner(tree)
	require.True(t, ok)
	assert.Equal(t, rev.New(2, "b"), winner)
	assert.False(t, IsDeleted(tree))
	assert.Empty(t, Conflicts(tree)) // the losing leaf is deleted, so it isn't a conflict
}

func TestMergeClassificationSequence(t *testing.T) {
	// 1-a -> 2-b
	tree := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)

	// Apply [3-c, 2-b] -> NewLeaf, winner 3-c.
	tree, outcome := Merge(tree, NewPath([]rev.Revision{rev.New(3, "c"), rev.New(2, "b")}, Opts{}))
	assert.Equal(t, NewLeaf, outcome)
	winner, ok := Winner(tree)
	require.True(t, ok)
	assert.Equal(t, rev.New(3, "c"), winner)

	// Apply [2-x, 1-a] -> NewBranch.
	tree, outcome = Merge(tree, NewPath([]rev.Revision{rev.New(2, "x"), rev.New(1, "a")}, Opts{}))
	assert.Equal(t, NewBranch, outcome)

	// Re-apply [2-b, 1-a] -> InternalNode, tree unchanged.
	before := len(CollectLeaves(tree))
	tree, outcome = Merge(tree, NewPath([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, Opts{}))
	assert.Equal(t, InternalNode, outcome)
	assert.Len(t, CollectLeaves(tree), before)
}

func TestMergeRootEqualsExistingLeaf(t *testing.T) {
	// Existing leaf is 2-b (no children). A new path whose root is exactly
	// 2-b, carrying its own child 3-d, should splice onto that leaf as
	// NewLeaf without any special-cased second pass.
	tree := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)
	tree, outcome := Merge(tree, NewPath([]rev.Revision{rev.New(3, "d"), rev.New(2, "b")}, Opts{}))
	assert.Equal(t, NewLeaf, outcome)

	winner, ok := Winner(tree)
	require.True(t, ok)
	assert.Equal(t, rev.New(3, "d"), winner)
}

func TestMergeDisjointAncestryAppendsNewRoot(t *testing.T) {
	tree := singleRootTree([]rev.Revision{rev.New(1, "a")}, false)
	tree, outcome := Merge(tree, NewPath([]rev.Revision{rev.New(1, "z")}, Opts{}))
	assert.Equal(t, NewBranch, outcome)
	assert.Len(t, tree, 2)
}

func TestMergeIsIdempotent(t *testing.T) {
	tree := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)
	path := NewPath([]rev.Revision{rev.New(3, "c"), rev.New(2, "b")}, Opts{})

	once, outcome1 := Merge(tree, path)
	twice, outcome2 := Merge(once, path)

	assert.Equal(t, NewLeaf, outcome1)
	assert.Equal(t, InternalNode, outcome2)
	assert.Equal(t, CollectLeaves(once), CollectLeaves(twice))
}

func TestStemRespectsDepthAndStopsAtBranchPoint(t *testing.T) {
	tree := singleRootTree([]rev.Revision{
		rev.New(4, "d"), rev.New(3, "c"), rev.New(2, "b"), rev.New(1, "a"),
	}, false)

	stemmed, dropped := Stem(tree, 2)
	require.Len(t, stemmed, 1)
	assert.Equal(t, uint64(3), stemmed[0].Pos, "root should advance to keep only 2 revisions")
	require.Len(t, dropped, 2)
	assert.Equal(t, "a", dropped[0].Hash)
	assert.Equal(t, "b", dropped[1].Hash)

	winner, ok := Winner(stemmed)
	require.True(t, ok)
	assert.Equal(t, rev.New(4, "d"), winner)
}

func TestStemNeverCutsThroughBranchPoint(t *testing.T) {
	tree := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)
	tree, _ = Merge(tree, NewPath([]rev.Revision{rev.New(2, "c"), rev.New(1, "a")}, Opts{}))

	stemmed, dropped := Stem(tree, 1)
	require.Len(t, stemmed, 1, "the branch point at 1-a must remain even though depth is 1")
	assert.Empty(t, dropped)
	assert.Equal(t, uint64(1), stemmed[0].Pos)
}

func TestLatestAvailableWalksThroughMissingAncestors(t *testing.T) {
	tree := singleRootTree([]rev.Revision{rev.New(3, "c"), rev.New(2, "b"), rev.New(1, "a")}, false)
	// NewPath leaves only the leaf Available; set the root's status directly
	// so the walk must pass through Missing ancestors.
	tree[0].Tree.Status = Missing // root "a" is missing

	got, ok := LatestAvailable(tree, 1, "a")
	require.True(t, ok)
	assert.Equal(t, rev.New(3, "c"), got, "should walk down to the first Available descendant")
}

func TestPossibleAncestorsReturnsLowerGenerationLeaves(t *testing.T) {
	tree := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)
	anc := PossibleAncestors(tree, rev.New(5, "missing"))
	require.Len(t, anc, 1)
	assert.Equal(t, rev.New(2, "b"), anc[0])
}

func TestMergeAndStemAppliesLimitAfterMerge(t *testing.T) {
	tree := singleRootTree([]rev.Revision{rev.New(2, "b"), rev.New(1, "a")}, false)
	tree, outcome, dropped := MergeAndStem(tree, NewPath([]rev.Revision{rev.New(3, "c"), rev.New(2, "b")}, Opts{}), 2)
	assert.Equal(t, NewLeaf, outcome)
	require.Len(t, dropped, 1)
	assert.Equal(t, "a", dropped[0].Hash)

	winner, ok := Winner(tree)
	require.True(t, ok)
	assert.Equal(t, rev.New(3, "c"), winner)
}
