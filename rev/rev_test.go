package rev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevisionDisplayAndParse(t *testing.T) {
	r := New(3, "abc123")
	assert.Equal(t, "3-abc123", r.String())

	parsed, err := Parse("3-abc123")
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestRevisionParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no dash", "nope"},
		{"non-numeric pos", "abc-123"},
		{"empty hash", "3-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestRevisionOrdering(t *testing.T) {
	r1 := New(1, "aaa")
	r2 := New(2, "aaa")
	r3 := New(2, "bbb")

	assert.Negative(t, Compare(r1, r2))
	assert.Negative(t, Compare(r2, r3))
	assert.Positive(t, Compare(r3, r1))
	assert.Zero(t, Compare(r1, r1))
}

func TestRevisionRoundTrip(t *testing.T) {
	cases := []string{"1-a", "42-0123456789abcdef0123456789abcdef", "1000000-z"}
	for _, c := range cases {
		parsed, err := Parse(c)
		require.NoError(t, err)
		assert.Equal(t, c, parsed.String())
	}
}

func TestSeqOpaqueRoundTrip(t *testing.T) {
	s := FromOpaque("13-g1AAAABveJzLYWBg4MhgTmHg")
	assert.True(t, s.IsOpaque())
	assert.Equal(t, uint64(13), s.Num())
	assert.Equal(t, "13-g1AAAABveJzLYWBg4MhgTmHg", s.String())
}

func TestSeqNumericDoesNotBecomeOpaque(t *testing.T) {
	s := ParseQueryValue("42")
	assert.False(t, s.IsOpaque())
	assert.Equal(t, uint64(42), s.Num())
}

func TestSeqZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.True(t, FromUint64(0).IsZero())
	assert.False(t, FromUint64(1).IsZero())
}

func TestSeqLess(t *testing.T) {
	a := FromUint64(1)
	b := FromUint64(2)
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestNewHashDeterministic(t *testing.T) {
	h1, err := NewHash(Revision{}, false, []byte(`{"a":1}`), nil)
	require.NoError(t, err)
	h2, err := NewHash(Revision{}, false, []byte(`{"a":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestNewHashAttachmentMapOrderIndependent(t *testing.T) {
	parent := New(1, "abc")
	h1, err := NewHash(parent, false, []byte(`{}`), map[string]string{"a.txt": "d1", "b.png": "d2"})
	require.NoError(t, err)
	h2, err := NewHash(parent, false, []byte(`{}`), map[string]string{"b.png": "d2", "a.txt": "d1"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNewHashDiffersOnDeletedFlag(t *testing.T) {
	h1, err := NewHash(Revision{}, false, []byte(`{}`), nil)
	require.NoError(t, err)
	h2, err := NewHash(Revision{}, true, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestNextPosition(t *testing.T) {
	assert.Equal(t, uint64(1), NextPosition(Revision{}))
	assert.Equal(t, uint64(4), NextPosition(New(3, "x")))
}
