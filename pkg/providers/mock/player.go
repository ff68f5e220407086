package mock

import (
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/speech"
)

// Player simulates clip playback. Each Play completes after Duration unless
// NeverEnd is set, which exercises the safety-timeout path.
type Player struct {
	// Duration each clip "plays" for. Zero completes almost immediately.
	Duration time.Duration
	// NeverEnd suppresses the natural completion event.
	NeverEnd bool
	// PlayErr, when set, fails every Play synchronously.
	PlayErr error

	mu      sync.Mutex
	playing bool
	plays   int
	stops   int
	timer   *time.Timer
	done    chan speech.PlaybackResult
}

func NewPlayer() *Player {
	return &Player{}
}

func (p *Player) Name() string { return "mock" }

func (p *Player) Play(clip speech.Clip) (<-chan speech.PlaybackResult, error) {
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.playing = true
	done := make(chan speech.PlaybackResult, 1)
	p.done = done
	if !p.NeverEnd {
		d := p.Duration
		if d <= 0 {
			d = time.Millisecond
		}
		p.timer = time.AfterFunc(d, func() {
			p.mu.Lock()
			if p.done == done {
				p.playing = false
			}
			p.mu.Unlock()
			done <- speech.PlaybackResult{}
		})
	}
	return done, nil
}

func (p *Player) Stop() {
	p.mu.Lock()
	p.stops++
	p.playing = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.done = nil
	p.mu.Unlock()
}

// Playing reports whether a clip is active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Plays returns how many clips were started.
func (p *Player) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

// Stops returns how many times playback was stopped.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

var _ speech.Player = (*Player)(nil)
