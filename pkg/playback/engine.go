// Package playback renders synthesized clips and guarantees that every
// playback reaches a completion exactly once, even when the underlying player
// loses the end event. Losing a completion would strand the conversation in
// the speaking state forever, so the engine arms a safety timer per clip.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/speech"
)

const (
	safetySlack   = 2 * time.Second
	safetyCeiling = 30 * time.Second
)

// Engine plays one clip at a time. Starting a new clip preempts the previous
// one; the preempted clip's completion is stale and ignored. Completion is
// idempotent: the first of natural end, playback error, or safety timeout
// wins and the rest are no-ops.
type Engine struct {
	player speech.Player
	logger *slog.Logger

	mu        sync.Mutex
	gen       uint64
	playing   bool
	startedAt time.Time
	deadline  time.Time
	timer     *time.Timer
	onDone    func(err error)
	// quit releases the goroutine awaiting the done channel when the clip is
	// preempted. The player contract allows done to never fire after Stop, so
	// the waiter cannot rely on the channel alone.
	quit chan struct{}
}

func NewEngine(player speech.Player, logger *slog.Logger) *Engine {
	return &Engine{
		player: player,
		logger: logging.NewComponentLogger(logger, "playback"),
	}
}

// Play starts the clip and invokes onDone exactly once when it finishes,
// fails, or hits the safety timeout. A prior playback, if any, is stopped
// first without firing its callback.
func (e *Engine) Play(clip speech.Clip, onDone func(err error)) error {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.releaseWaiterLocked()
	wasPlaying := e.playing
	e.playing = false
	e.mu.Unlock()

	if wasPlaying {
		e.player.Stop()
	}

	done, err := e.player.Play(clip)
	if err != nil {
		return err
	}

	safety := safetyBound(clip.Duration)
	now := time.Now()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.player.Stop()
		return nil
	}
	e.playing = true
	e.startedAt = now
	e.deadline = now.Add(safety)
	e.onDone = onDone
	quit := make(chan struct{})
	e.quit = quit
	e.timer = time.AfterFunc(safety, func() {
		if e.complete(gen, nil) {
			e.logger.Warn("playback safety timeout fired",
				slog.Int64("bound_ms", safety.Milliseconds()))
			e.player.Stop()
		}
	})
	e.mu.Unlock()

	go func() {
		select {
		case res := <-done:
			e.complete(gen, res.Err)
		case <-quit:
		}
	}()
	return nil
}

// Stop preempts the current clip without firing its completion. The caller
// decides what an interruption means.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.gen++
	wasPlaying := e.playing
	e.playing = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.onDone = nil
	e.releaseWaiterLocked()
	e.mu.Unlock()

	if wasPlaying {
		e.player.Stop()
	}
}

// Wake forces the completion of a playback that has outlived its safety
// deadline. Recovery hook for environments where timers stall while the
// process is backgrounded.
func (e *Engine) Wake() {
	e.mu.Lock()
	if !e.playing || time.Now().Before(e.deadline) {
		e.mu.Unlock()
		return
	}
	gen := e.gen
	e.mu.Unlock()

	played := e.PlayingFor()
	if e.complete(gen, nil) {
		e.logger.Warn("overdue playback completed on wake",
			slog.Int64("played_ms", played.Milliseconds()))
		e.player.Stop()
	}
}

// Playing reports whether a clip is currently active.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// PlayingFor returns how long the current clip has been active, zero when
// idle.
func (e *Engine) PlayingFor() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return 0
	}
	return time.Since(e.startedAt)
}

func (e *Engine) complete(gen uint64, err error) bool {
	e.mu.Lock()
	if gen != e.gen || !e.playing {
		e.mu.Unlock()
		return false
	}
	e.playing = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	cb := e.onDone
	e.onDone = nil
	e.releaseWaiterLocked()
	e.mu.Unlock()

	if cb != nil {
		cb(err)
	}
	return true
}

func (e *Engine) releaseWaiterLocked() {
	if e.quit != nil {
		close(e.quit)
		e.quit = nil
	}
}

// safetyBound returns the completion ceiling for one clip: the expected
// duration plus slack, capped, or the flat ceiling when the duration is
// unknown.
func safetyBound(d time.Duration) time.Duration {
	if d <= 0 {
		return safetyCeiling
	}
	bound := d + safetySlack
	if bound > safetyCeiling {
		return safetyCeiling
	}
	return bound
}
