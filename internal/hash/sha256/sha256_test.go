// Package sha256 includes tests for the SHA-256 fingerprint hasher.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherHashLength checks digests are fixed-length hex.
func TestHasherHashLength(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "a", "<html><body>page</body></html>"} {
		got, err := New().Hash([]byte(input))
		if err != nil {
			t.Fatalf("Hash(%q) error = %v", input, err)
		}
		if len(got) != 64 {
			t.Fatalf("expected 64 hex chars for %q, got %d", input, len(got))
		}
	}
}
