package mock

import (
	"context"
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/speech"
)

// Synthesizer records spoken texts and simulates a speaking duration.
type Synthesizer struct {
	// Duration each Speak takes. Zero returns immediately.
	Duration time.Duration
	// Err, when set, fails every Speak.
	Err error

	mu     sync.Mutex
	spoken []string
	cancel chan struct{}
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

func (s *Synthesizer) Name() string { return "mock" }

func (s *Synthesizer) Speak(ctx context.Context, text, locale string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	cancel := make(chan struct{})
	s.cancel = cancel
	s.mu.Unlock()

	if s.Duration <= 0 {
		return nil
	}
	t := time.NewTimer(s.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-cancel:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	if s.cancel != nil {
		select {
		case <-s.cancel:
		default:
			close(s.cancel)
		}
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Spoken returns the texts spoken so far.
func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
