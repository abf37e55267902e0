package replicate

import "testing"

func TestIDDeterministic(t *testing.T) {
	a := ID("alice", "bob", Options{})
	b := ID("alice", "bob", Options{})
	if a != b {
		t.Fatalf("ID not deterministic: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char hex id, got %q (%d chars)", a, len(a))
	}
}

func TestIDDistinguishesDirection(t *testing.T) {
	ab := ID("alice", "bob", Options{})
	ba := ID("bob", "alice", Options{})
	if ab == ba {
		t.Fatalf("expected distinct ids for opposite replication directions, got %q for both", ab)
	}
}

func TestIDDistinguishesDocIDFilter(t *testing.T) {
	plain := ID("a", "b", Options{})
	filtered := ID("a", "b", Options{DocIDs: []string{"x", "y"}})
	if plain == filtered {
		t.Fatal("expected a doc_ids filter to change the replication id")
	}

	// Order of DocIDs must not matter: two callers naming the same set in a
	// different order should land on the same checkpoint.
	filtered2 := ID("a", "b", Options{DocIDs: []string{"y", "x"}})
	if filtered != filtered2 {
		t.Fatalf("expected doc_ids order to be insignificant, got %q != %q", filtered, filtered2)
	}
}
