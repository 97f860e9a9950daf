package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	sentinel := Conflict("attempt already finalized")
	err := fmt.Errorf("finalize attempt 9: %w", sentinel)

	if got := KindOf(err); got != KindConflict {
		t.Fatalf("expected conflict, got %s", got)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if got := MessageOf(err); got != "attempt already finalized" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	err := fmt.Errorf("scan row: %w", errors.New("connection reset"))
	if got := KindOf(err); got != KindInternal {
		t.Fatalf("expected internal, got %s", got)
	}
	if got := MessageOf(err); got != "internal error" {
		t.Fatalf("internal detail leaked: %q", got)
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil error should have no kind")
	}
}

func TestValidationCarriesField(t *testing.T) {
	err := fmt.Errorf("cast vote: %w", Validation("comment", "comment is required"))
	if FieldOf(err) != "comment" {
		t.Fatalf("expected field comment, got %q", FieldOf(err))
	}
	if err.Error() != "cast vote: comment: comment is required" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
