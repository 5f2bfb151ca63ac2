package digest

import "testing"

func TestChannel_Deterministic(t *testing.T) {
	a := Channel("News")
	b := Channel("News")
	if a != b {
		t.Fatalf("same name produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestChannel_DistinctNames(t *testing.T) {
	if Channel("News") == Channel("Sports") {
		t.Fatal("distinct names collided")
	}
}

func TestKeyed_SaltChangesDigest(t *testing.T) {
	if Keyed("alice", "salt1") == Keyed("alice", "salt2") {
		t.Fatal("different salts produced the same digest")
	}
	if Keyed("alice", "salt") != Keyed("alice", "salt") {
		t.Fatal("keyed digest is not deterministic")
	}
}

func TestKeyed_HexOnly(t *testing.T) {
	sig := Keyed("user", "salt")
	if len(sig) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(sig))
	}
	for _, c := range sig {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("non-hex character %q in signature", c)
		}
	}
}
