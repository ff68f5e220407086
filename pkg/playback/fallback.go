package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/synclabs/voiceturn/pkg/errorsx"
	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/speech"
)

const (
	defaultMinReadingPause = 3 * time.Second
	defaultPerCharPause    = 40 * time.Millisecond
)

// Fallback is the last rung of the speech ladder: a built-in synthesizer when
// one exists, otherwise a silent reading pause sized to the text so the reply
// stays on screen long enough to be read. It always completes.
type Fallback struct {
	synth  speech.Synthesizer
	logger *slog.Logger

	minPause time.Duration
	perChar  time.Duration
}

// NewFallback builds the fallback channel. synth may be nil; pauses at or
// below zero take the defaults.
func NewFallback(synth speech.Synthesizer, minPause, perChar time.Duration, logger *slog.Logger) *Fallback {
	if minPause <= 0 {
		minPause = defaultMinReadingPause
	}
	if perChar <= 0 {
		perChar = defaultPerCharPause
	}
	return &Fallback{
		synth:    synth,
		logger:   logging.NewComponentLogger(logger, "fallback"),
		minPause: minPause,
		perChar:  perChar,
	}
}

// Speak voices the text through the built-in synthesizer, degrading to a
// reading pause when synthesis is missing or fails. It blocks until the
// speech or pause ends, or the context is cancelled.
func (f *Fallback) Speak(ctx context.Context, text, locale string) error {
	if f.synth != nil {
		err := f.synth.Speak(ctx, text, locale)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("built-in synthesis failed, holding reading pause",
			slog.String("error", errorsx.Wrap(err, errorsx.ReasonBuiltinSynth).Error()))
	}
	return f.pause(ctx, text)
}

// Cancel interrupts in-flight built-in synthesis. The reading pause is
// interrupted through the Speak context.
func (f *Fallback) Cancel() {
	if f.synth != nil {
		f.synth.Cancel()
	}
}

// HasSynth reports whether a built-in synthesizer is wired.
func (f *Fallback) HasSynth() bool {
	return f.synth != nil
}

// PauseFor returns the reading pause for a text.
func (f *Fallback) PauseFor(text string) time.Duration {
	pause := time.Duration(len(text)) * f.perChar
	if pause < f.minPause {
		pause = f.minPause
	}
	return pause
}

func (f *Fallback) pause(ctx context.Context, text string) error {
	pause := f.PauseFor(text)
	f.logger.Debug("reading pause", slog.Int64("pause_ms", pause.Milliseconds()))
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
