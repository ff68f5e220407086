package speech

import "time"

// Clip is one synthesized speech payload ready for playback.
type Clip struct {
	Audio []byte
	MIME  string
	// Duration is zero when the clip length is unknown to the producer.
	Duration time.Duration
}

// PlaybackResult reports how a playback attempt finished. A nil Err is a
// natural end.
type PlaybackResult struct {
	Err error
}

// Player renders one clip at a time. Play returns a channel that delivers
// exactly one result when the clip ends or fails; Stop preempts the current
// clip, after which the done channel may or may not fire. Callers must not
// rely on Stop producing a result.
type Player interface {
	// Name returns the player name for logging/metrics.
	Name() string
	Play(clip Clip) (<-chan PlaybackResult, error)
	Stop()
}
