package workflow

import (
	"testing"
	"time"
)

func TestOperationIDFormat(t *testing.T) {
	day := time.Date(2026, 9, 1, 15, 4, 5, 0, time.UTC)

	if got := OperationIDPrefix(day); got != "OP-20260901-" {
		t.Fatalf("unexpected prefix: %s", got)
	}
	if got := FormatOperationID(day, 1); got != "OP-20260901-001" {
		t.Fatalf("unexpected id: %s", got)
	}
	if got := FormatOperationID(day, 42); got != "OP-20260901-042" {
		t.Fatalf("unexpected id: %s", got)
	}
	// Beyond three digits the number widens instead of wrapping, and stays
	// strictly increasing: 1000 follows 999, never a re-issued id.
	if got := FormatOperationID(day, 999); got != "OP-20260901-999" {
		t.Fatalf("unexpected id: %s", got)
	}
	if got := FormatOperationID(day, 1000); got != "OP-20260901-1000" {
		t.Fatalf("unexpected id: %s", got)
	}
	if got := FormatOperationID(day, 1234); got != "OP-20260901-1234" {
		t.Fatalf("unexpected id: %s", got)
	}
}
