// Package capture turns a single-utterance recognizer into a continuous
// listening loop. It owns the restart cadence, the failure backoff, and the
// suspend/resume dance around playback so the microphone and the speaker are
// never live at the same time.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/errorsx"
	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/speech"
)

const (
	defaultRestartDelay   = 80 * time.Millisecond
	defaultFailureBackoff = 300 * time.Millisecond
	defaultMaxFailures    = 5
	defaultMinTranscript  = 2
)

// ErrCaptureExhausted signals that consecutive capture attempts kept failing
// and the loop gave up. The conversation continues on typed input.
var ErrCaptureExhausted = errors.New("capture: too many consecutive recognition failures")

// Config tunes the restart loop.
type Config struct {
	// RestartDelay is the pause between a capture attempt ending and the
	// next one starting.
	RestartDelay time.Duration
	// FailureBackoff is added per consecutive failed attempt, so a flapping
	// recognizer backs off linearly instead of hot-looping.
	FailureBackoff time.Duration
	// MaxFailures is the consecutive-failure count at which the loop stops
	// and reports ErrCaptureExhausted.
	MaxFailures int
	// MinTranscript drops finalized transcripts shorter than this many
	// characters. Filters out single-character recognition noise.
	MinTranscript int
}

func (c *Config) applyDefaults() {
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = defaultFailureBackoff
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.MinTranscript <= 0 {
		c.MinTranscript = defaultMinTranscript
	}
}

// Handlers receive capture outcomes. OnFinal fires for every accepted
// transcript; OnDown fires once when capture becomes unavailable, either
// terminally (permission denied, unsupported) or after failure exhaustion.
type Handlers struct {
	OnFinal func(transcript string)
	OnDown  func(err error)
}

// Adapter drives one recognizer through repeated single-utterance attempts.
//
// A generation counter invalidates scheduled restarts: Suspend and Resume bump
// it, so a restart armed before a suspend simply finds itself stale and does
// nothing. Attempts are never awaited, only outrun.
type Adapter struct {
	rec      speech.Recognizer
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	mu       sync.Mutex
	gen      uint64
	active   bool
	failures int
	ctx      context.Context

	pumpOnce sync.Once
}

func NewAdapter(rec speech.Recognizer, cfg Config, handlers Handlers, logger *slog.Logger) *Adapter {
	cfg.applyDefaults()
	return &Adapter{
		rec:      rec,
		cfg:      cfg,
		handlers: handlers,
		logger:   logging.NewComponentLogger(logger, "capture"),
		ctx:      context.Background(),
	}
}

// Start begins continuous listening. The context bounds every capture attempt
// started by this adapter until Stop.
func (a *Adapter) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.active = true
	a.failures = 0
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	a.pumpOnce.Do(func() { go a.pump() })
	go a.attempt(gen)
}

// Suspend stops listening without tearing the adapter down. Any scheduled
// restart becomes stale.
func (a *Adapter) Suspend() {
	a.mu.Lock()
	a.active = false
	a.gen++
	a.mu.Unlock()
	if err := a.rec.Stop(); err != nil {
		a.logger.Debug("recognizer stop", slog.String("error", err.Error()))
	}
}

// Resume re-enables listening after the given grace period. The grace keeps
// the tail of the previous playback out of the microphone.
func (a *Adapter) Resume(after time.Duration) {
	a.mu.Lock()
	a.active = true
	a.failures = 0
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	if after <= 0 {
		go a.attempt(gen)
		return
	}
	time.AfterFunc(after, func() { a.attempt(gen) })
}

// Stop is Suspend for good: used on deactivation.
func (a *Adapter) Stop() {
	a.Suspend()
}

// Listening reports whether the loop currently wants the microphone.
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Adapter) attempt(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || !a.active {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx
	a.mu.Unlock()

	err := a.rec.Start(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, speech.ErrPermissionDenied) || errors.Is(err, speech.ErrUnsupported) {
		a.down(errorsx.Wrap(err, errorsx.ReasonRecognizerDenied))
		return
	}
	a.logger.Warn("capture attempt failed to start",
		slog.String("recognizer", a.rec.Name()),
		slog.String("reason", string(errorsx.ReasonRecognizerStart)),
		slog.String("error", err.Error()))
	a.recordFailureAndReschedule(gen)
}

// pump consumes recognizer events for the lifetime of the adapter. Events
// from attempts outrun by a Suspend still drain here; the generation check in
// scheduleNext keeps them from reviving a suspended loop.
func (a *Adapter) pump() {
	for ev := range a.rec.Results() {
		switch ev.Kind {
		case speech.EventTranscript:
			a.onTranscript(ev.Transcript)
		case speech.EventError:
			a.onError(ev.Err)
		case speech.EventEnd:
			a.scheduleNext()
		}
	}
}

func (a *Adapter) onTranscript(transcript string) {
	transcript = strings.TrimSpace(transcript)
	if len(transcript) < a.cfg.MinTranscript {
		a.logger.Debug("transcript below minimum length, dropped")
		return
	}
	a.mu.Lock()
	a.failures = 0
	active := a.active
	a.mu.Unlock()
	if !active {
		return
	}
	if a.handlers.OnFinal != nil {
		a.handlers.OnFinal(transcript)
	}
}

func (a *Adapter) onError(err error) {
	if err != nil && (errors.Is(err, speech.ErrPermissionDenied) || errors.Is(err, speech.ErrUnsupported)) {
		a.down(errorsx.Wrap(err, errorsx.ReasonRecognizerDenied))
		return
	}
	a.mu.Lock()
	a.failures++
	failures := a.failures
	a.mu.Unlock()
	msg := "unknown"
	if err != nil {
		msg = err.Error()
	}
	a.logger.Warn("capture attempt failed",
		slog.Int("consecutive_failures", failures),
		slog.String("error", msg))
}

// scheduleNext arms the restart after one attempt ends. Backoff grows
// linearly with consecutive failures and the loop gives up past the cap.
func (a *Adapter) scheduleNext() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	if a.failures >= a.cfg.MaxFailures {
		a.active = false
		a.gen++
		a.mu.Unlock()
		a.logger.Error("capture exhausted, listening disabled",
			slog.Int("failures", a.cfg.MaxFailures))
		if a.handlers.OnDown != nil {
			a.handlers.OnDown(ErrCaptureExhausted)
		}
		return
	}
	delay := a.cfg.RestartDelay + time.Duration(a.failures)*a.cfg.FailureBackoff
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	time.AfterFunc(delay, func() { a.attempt(gen) })
}

func (a *Adapter) recordFailureAndReschedule(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || !a.active {
		a.mu.Unlock()
		return
	}
	a.failures++
	a.mu.Unlock()
	a.scheduleNext()
}

func (a *Adapter) down(err error) {
	a.mu.Lock()
	wasActive := a.active
	a.active = false
	a.gen++
	a.mu.Unlock()
	if !wasActive {
		return
	}
	a.logger.Warn("capture unavailable", slog.String("error", err.Error()))
	if a.handlers.OnDown != nil {
		a.handlers.OnDown(err)
	}
}
