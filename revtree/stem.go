package revtree

// Dropped names a revision removed from a path by stemming.
type Dropped struct {
	Pos  uint64
	Hash string
}

// Stem trims every path in tree down to at most depth revisions, never
// cutting through a branch point. It returns the trimmed
// forest (tree is left untouched) and the list of dropped (pos, hash) pairs
// so a backend can garbage-collect their now-unreachable bodies.
func Stem(tree Tree, depth int) (Tree, []Dropped) {
	result := tree.Clone()
	var dropped []Dropped

	out := make(Tree, 0, len(result))
	for _, p := range result {
		stemPath(p, depth, &dropped)
		if p.Tree != nil {
			out = append(out, p)
		}
	}
	return out, dropped
}

// stemPath repeatedly drops p's root while it has exactly one child and the
// path's remaining length still exceeds depth. A root with zero or more
// than one child (a leaf or a branch point) always stops the walk, even if
// the path is still deeper than depth: stemming never removes a branch
// point.
func stemPath(p *Path, depth int, dropped *[]Dropped) {
	for {
		if pathLength(p.Tree) <= depth {
			return
		}
		if len(p.Tree.Children) != 1 {
			return
		}
		*dropped = append(*dropped, Dropped{Pos: p.Pos, Hash: p.Tree.Hash})
		p.Tree = p.Tree.Children[0]
		p.Pos++
	}
}

// pathLength returns the number of nodes from n down to its deepest leaf,
// taking the maximum over all children at every branch so a branch point is
// never mistaken for shallower than it is.
func pathLength(n *Node) int {
	if n == nil {
		return 0
	}
	if len(n.Children) == 0 {
		return 1
	}
	max := 0
	for _, c := range n.Children {
		if l := pathLength(c); l > max {
			max = l
		}
	}
	return 1 + max
}
