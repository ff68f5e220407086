package turn

import "sync/atomic"

// Clock is the strictly increasing turn identifier. Every asynchronous
// operation captures the id active at its start; a completion whose captured
// id no longer matches Current() has been superseded and must be a no-op.
// This is the only concurrency-control primitive in the core: turns are never
// cancelled, only outrun.
type Clock struct {
	id atomic.Uint64
}

func NewClock() *Clock {
	return &Clock{}
}

// Current returns the live turn id.
func (c *Clock) Current() uint64 {
	return c.id.Load()
}

// Next supersedes the live turn and returns the new id.
func (c *Clock) Next() uint64 {
	return c.id.Add(1)
}

// IsCurrent reports whether a captured id still identifies the live turn.
func (c *Clock) IsCurrent(id uint64) bool {
	return c.id.Load() == id
}
