package rev

import (
	"strconv"
	"strings"
)

// Seq is a database sequence identifier. Local backends (memory,
// embedded-KV) use a plain monotonic integer; the CouchDB HTTP backend
// treats sequences as opaque strings that must round-trip byte-for-byte.
type Seq struct {
	num      uint64
	opaque   string
	isOpaque bool
}

// Zero is the sequence meaning "from the beginning".
var Zero = Seq{}

// FromUint64 builds a local, numeric sequence.
func FromUint64(n uint64) Seq {
	return Seq{num: n}
}

// FromOpaque wraps a remote, opaque CouchDB sequence string unchanged.
func FromOpaque(s string) Seq {
	if s == "" {
		return Zero
	}
	return Seq{opaque: s, isOpaque: true}
}

// IsOpaque reports whether this sequence came from a remote server and must
// be passed back verbatim rather than reformatted.
func (s Seq) IsOpaque() bool {
	return s.isOpaque
}

// Num returns the numeric sequence for a local sequence. For an opaque
// sequence it extracts the leading numeric prefix before the first "-" for
// coarse ordering (e.g. "13-g1AAA..." -> 13), returning 0 if unparseable.
func (s Seq) Num() uint64 {
	if !s.isOpaque {
		return s.num
	}
	prefix, _, _ := strings.Cut(s.opaque, "-")
	n, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// String renders the sequence for use as a query parameter or checkpoint
// value. Opaque sequences are echoed unchanged; numeric sequences are
// formatted in base 10.
func (s Seq) String() string {
	if s.isOpaque {
		return s.opaque
	}
	return strconv.FormatUint(s.num, 10)
}

// IsZero reports whether s is the zero/"from the beginning" sequence.
func (s Seq) IsZero() bool {
	return !s.isOpaque && s.num == 0
}

// Less orders two sequences for the purposes of checkpoint comparison:
// when source and target checkpoints disagree, replication resumes from
// the lower of the two.
// Opaque sequences compare by their numeric prefix, falling back to string
// comparison when prefixes tie, since the full string ordering of a CouchDB
// update_seq is otherwise unspecified.
func (s Seq) Less(o Seq) bool {
	if sn, on := s.Num(), o.Num(); sn != on {
		return sn < on
	}
	return s.String() < o.String()
}

// Equal reports whether two sequences represent the same position.
func (s Seq) Equal(o Seq) bool {
	return s.isOpaque == o.isOpaque && s.num == o.num && s.opaque == o.opaque
}

// ParseQueryValue reconstructs a Seq from a "since"/"last_seq" wire value.
// Numeric strings become local sequences; anything else (including the
// "now" sentinel) is preserved as an opaque sequence so the HTTP backend can
// pass it straight through.
func ParseQueryValue(s string) Seq {
	if s == "" {
		return Zero
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return FromUint64(n)
	}
	return FromOpaque(s)
}
