package speech

import "context"

// Synthesizer is the built-in (non-server) speech synthesis channel, used
// when the dialogue backend cannot synthesize the active language. Speak
// blocks until the utterance finishes or fails; Cancel aborts the current
// utterance from another goroutine.
type Synthesizer interface {
	// Name returns the synthesizer name for logging/metrics.
	Name() string
	Speak(ctx context.Context, text, locale string) error
	Cancel()
}
