package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("act")
	if !strings.HasPrefix(id, "act_") {
		t.Fatalf("NewID(act) = %q, want act_ prefix", id)
	}
	if len(id) != len("act_")+26 {
		t.Fatalf("NewID(act) length = %d", len(id))
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
