package ids

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	a := New()
	b := New()

	if len(a) != 32 {
		t.Fatalf("expected 32-char id, got %d", len(a))
	}
	if a == b {
		t.Fatalf("expected distinct ids, got duplicates")
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("batch")
	if !strings.HasPrefix(id, "batch_") {
		t.Fatalf("expected batch_ prefix, got %s", id)
	}
	if len(id) != len("batch_")+32 {
		t.Fatalf("unexpected prefixed id length %d", len(id))
	}
	if got := Prefixed("  "); len(got) != 32 {
		t.Fatalf("expected bare id for empty prefix, got %s", got)
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("ABCDEFGHIJKLMNOP", 10); got != "ABCDEFGHIJ..." {
		t.Fatalf("unexpected redaction %q", got)
	}
	if got := Redact("short", 10); got != "short" {
		t.Fatalf("expected short value untouched, got %q", got)
	}
}
