package testfixtures

import "testing"

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewIDGenerator("session")

	first := gen.Next()
	second := gen.NextFunc()()

	if first != "session-1" || second != "session-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
}

func TestIDGeneratorCanReset(t *testing.T) {
	gen := NewIDGenerator("")
	_ = gen.Next()
	gen.SetCounter(0)
	gen.SetPrefix("visit")

	if next := gen.Next(); next != "visit-1" {
		t.Fatalf("expected visit-1 after reset, got %q", next)
	}
}

func TestIDGeneratorCountsIssued(t *testing.T) {
	gen := NewIDGenerator("")
	gen.Next()
	gen.Next()

	if gen.Issued() != 2 {
		t.Fatalf("expected 2 issued identifiers, got %d", gen.Issued())
	}
	if id := NewIDGenerator("").Next(); id != "session-1" {
		t.Fatalf("expected default prefix, got %q", id)
	}
}
