package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names emitted by the controller. One full turn produces the sequence
// utterance_final -> dialogue_response -> speech_start -> speech_end.
const (
	EventTurnStarted      = "turn_started"
	EventTurnSuperseded   = "turn_superseded"
	EventUtteranceFinal   = "utterance_final"
	EventDialogueResponse = "dialogue_response"
	EventSpeechStart      = "speech_start"
	EventSpeechEnd        = "speech_end"
	EventSynthCacheHit    = "synth_cache_hit"
	EventSynthFallback    = "synth_fallback"
	EventReadingPause     = "reading_pause"
	EventBreakerOpen      = "synth_breaker_open"
	EventBreakerDenied    = "synth_breaker_denied"
	EventRateLimit        = "rate_limit"
)
