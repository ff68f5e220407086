package speech

import (
	"context"
	"errors"
)

// Recognition error classes. Permission denial degrades the conversation to
// typed input; an unsupported environment activates straight into text-only
// listening. Everything else is transient.
var (
	ErrPermissionDenied = errors.New("speech: microphone permission denied")
	ErrUnsupported      = errors.New("speech: recognition unsupported in this environment")
)

type EventKind int

const (
	// EventTranscript carries a finalized utterance.
	EventTranscript EventKind = iota
	// EventEnd signals the recognizer finished one capture attempt.
	EventEnd
	// EventError signals a failed capture attempt. An end event still follows.
	EventError
)

// Event is one recognition callback, delivered in capture order.
type Event struct {
	Kind       EventKind
	Transcript string
	Err        error
}

// Recognizer is a single-utterance speech recognizer. One Start is one
// capture attempt: the implementation delivers zero or one transcript, then
// an end event, and goes quiet until the next Start. Continuous listening is
// built above this contract by restarting after each end.
type Recognizer interface {
	// Name returns the recognizer name for logging/metrics.
	Name() string
	// Start begins one capture attempt. ErrPermissionDenied and
	// ErrUnsupported are terminal; other errors are transient.
	Start(ctx context.Context) error
	// Stop aborts the in-flight attempt, if any.
	Stop() error
	// Results returns the event channel shared by all attempts.
	Results() <-chan Event
}
