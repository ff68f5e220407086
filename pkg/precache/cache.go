// Package precache pre-fetches synthesized audio for scripted narration so a
// scripted step can start speaking without a network round trip.
package precache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/dialogue"
	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/speech"
)

// State is the lookup outcome for one text.
type State int

const (
	// StateMiss means the text was never warmed or its fetch failed.
	StateMiss State = iota
	// StatePending means a warm fetch is in flight. Callers should not wait
	// on it; treat as a miss and fetch on demand.
	StatePending
	// StateReady means a decoded clip is available.
	StateReady
	// StateBuiltin means the backend cannot synthesize this language; skip
	// the fetch and go straight to the built-in fallback.
	StateBuiltin
)

type entry struct {
	state State
	clip  speech.Clip
}

// Cache holds warmed clips keyed by exact text. A failed fetch clears the
// pending entry so a later on-demand request retries from scratch.
type Cache struct {
	client  dialogue.Client
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func New(client dialogue.Client, timeout time.Duration, logger *slog.Logger) *Cache {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Cache{
		client:  client,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "precache"),
		entries: make(map[string]entry),
	}
}

// Warm starts background fetches for every text not already cached or in
// flight. Fire and forget: errors only clear the pending marker.
func (c *Cache) Warm(ctx context.Context, texts []string, language string) {
	for _, text := range texts {
		if text == "" {
			continue
		}
		c.mu.Lock()
		if _, ok := c.entries[text]; ok {
			c.mu.Unlock()
			continue
		}
		c.entries[text] = entry{state: StatePending}
		c.mu.Unlock()

		go c.fetch(ctx, text, language)
	}
}

// Lookup returns the cached clip and its state for a text.
func (c *Cache) Lookup(text string) (speech.Clip, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[text]
	if !ok {
		return speech.Clip{}, StateMiss
	}
	return e.clip, e.state
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) fetch(ctx context.Context, text, language string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Synthesize(ctx, dialogue.SynthRequest{
		TTSOnly:  true,
		TTSText:  text,
		Language: language,
	})
	if err != nil {
		c.logger.Debug("warm fetch failed",
			slog.String("error", err.Error()))
		c.drop(text)
		return
	}
	if resp.TTSUnavailable {
		c.store(text, entry{state: StateBuiltin})
		return
	}
	clip, err := dialogue.DecodeClip(resp.Audio)
	if err != nil {
		c.logger.Debug("warm fetch returned undecodable audio",
			slog.String("error", err.Error()))
		c.drop(text)
		return
	}
	c.store(text, entry{state: StateReady, clip: clip})
}

func (c *Cache) store(text string, e entry) {
	c.mu.Lock()
	c.entries[text] = e
	c.mu.Unlock()
}

func (c *Cache) drop(text string) {
	c.mu.Lock()
	delete(c.entries, text)
	c.mu.Unlock()
}
