// Package rev provides the revision and sequence primitives shared by the
// rev-tree, storage adapters, and replicator: parsing and formatting a
// CouchDB-style "{pos}-{hash}" revision, ordering revisions, and the
// numeric/opaque sequence type used for change ordering.
package rev

import (
	"fmt"
	"strconv"
	"strings"
)

// Revision identifies one point in a document's edit history.
type Revision struct {
	Pos  uint64
	Hash string
}

// New builds a Revision from its parts.
func New(pos uint64, hash string) Revision {
	return Revision{Pos: pos, Hash: hash}
}

// String renders the revision in CouchDB's "{pos}-{hash}" form.
func (r Revision) String() string {
	return fmt.Sprintf("%d-%s", r.Pos, r.Hash)
}

// IsZero reports whether r is the empty revision (no parent, new document).
func (r Revision) IsZero() bool {
	return r.Pos == 0 && r.Hash == ""
}

// Parse decodes a "{pos}-{hash}" revision string.
func Parse(s string) (Revision, error) {
	pos, hash, ok := strings.Cut(s, "-")
	if !ok || hash == "" {
		return Revision{}, fmt.Errorf("rev: invalid revision %q", s)
	}
	n, err := strconv.ParseUint(pos, 10, 64)
	if err != nil {
		return Revision{}, fmt.Errorf("rev: invalid revision %q: %w", s, err)
	}
	return Revision{Pos: n, Hash: hash}, nil
}

// MustParse is Parse but panics on error; for tests and literal constants.
func MustParse(s string) Revision {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Compare orders revisions by Pos ascending, then Hash lexicographically
// ascending.
func Compare(a, b Revision) int {
	if a.Pos != b.Pos {
		if a.Pos < b.Pos {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Hash, b.Hash)
}

// Equal reports whether a and b name the same (pos, hash) pair.
func Equal(a, b Revision) bool {
	return a.Pos == b.Pos && a.Hash == b.Hash
}
