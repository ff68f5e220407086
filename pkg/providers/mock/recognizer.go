// Package mock provides scriptable speech capabilities for tests and the
// demo binary.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/speech"
)

// RecognizerConfig scripts the recognizer's behavior.
type RecognizerConfig struct {
	// Utterances are delivered one per capture attempt, in order. Attempts
	// past the end of the list end silently.
	Utterances []string
	// Delay before each utterance is delivered.
	Delay time.Duration
	// StartErr, when set, fails every Start with this error.
	StartErr error
	// FailFirst fails the first N attempts with a transient error before
	// behaving normally.
	FailFirst int
}

// Recognizer replays scripted utterances through the single-utterance
// contract.
type Recognizer struct {
	cfg RecognizerConfig
	out chan speech.Event

	mu       sync.Mutex
	attempt  int
	next     int
	stopped  bool
	starts   int
	failures int
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	return &Recognizer{
		cfg: cfg,
		out: make(chan speech.Event, 32),
	}
}

func (r *Recognizer) Name() string { return "mock" }

func (r *Recognizer) Start(ctx context.Context) error {
	if r.cfg.StartErr != nil {
		return r.cfg.StartErr
	}
	r.mu.Lock()
	r.starts++
	r.attempt++
	attempt := r.attempt
	r.stopped = false

	if r.failures < r.cfg.FailFirst {
		r.failures++
		r.mu.Unlock()
		go func() {
			r.out <- speech.Event{Kind: speech.EventError, Err: context.DeadlineExceeded}
			r.out <- speech.Event{Kind: speech.EventEnd}
		}()
		return nil
	}

	var utterance string
	if r.next < len(r.cfg.Utterances) {
		utterance = r.cfg.Utterances[r.next]
		r.next++
	}
	r.mu.Unlock()

	// No scripted utterance left: the attempt stays open, like a microphone
	// hearing silence, until Stop.
	if utterance == "" {
		return nil
	}

	go func() {
		if r.cfg.Delay > 0 {
			select {
			case <-time.After(r.cfg.Delay):
			case <-ctx.Done():
				r.out <- speech.Event{Kind: speech.EventEnd}
				return
			}
		}
		r.mu.Lock()
		stale := r.stopped || attempt != r.attempt
		r.mu.Unlock()
		if !stale {
			r.out <- speech.Event{Kind: speech.EventTranscript, Transcript: utterance}
		}
		r.out <- speech.Event{Kind: speech.EventEnd}
	}()
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	return nil
}

func (r *Recognizer) Results() <-chan speech.Event { return r.out }

// Starts returns how many capture attempts were started.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

var _ speech.Recognizer = (*Recognizer)(nil)
