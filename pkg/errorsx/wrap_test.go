package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAttachesReason(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, ReasonSynthFetch)
	if Reason(err) != ReasonSynthFetch {
		t.Fatalf("reason: %v", Reason(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestWrapKeepsFirstReason(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonDialoguePost)
	err = Wrap(err, ReasonSynthFetch)
	if Reason(err) != ReasonDialoguePost {
		t.Fatalf("reason overwritten: %v", Reason(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonPlayback) != nil {
		t.Fatal("wrapping nil produced an error")
	}
}

func TestReasonThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(errors.New("inner"), ReasonRecognizerDenied))
	if !HasReason(err, ReasonRecognizerDenied) {
		t.Fatalf("reason lost through fmt wrapping: %v", Reason(err))
	}
}

func TestReasonUnknown(t *testing.T) {
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatal("plain error has a reason")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatal("nil error has a reason")
	}
}
