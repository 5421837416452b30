package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefixAndIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New("do")
		if !strings.HasPrefix(id, "do-") {
			t.Fatalf("expected do- prefix, got %s", id)
		}
		if seen[id] {
			t.Fatalf("duplicate reference %s", id)
		}
		seen[id] = true
	}
}
