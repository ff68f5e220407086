package observers

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/synclabs/voiceturn/pkg/metrics"
)

// LatencyObserver correlates the controller's per-turn events and logs one
// latency summary when a turn finishes speaking. Turns that are superseded
// before completing are dropped silently.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	utterance   time.Time
	response    time.Time
	speechStart time.Time
	traceID     string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	turnID := ""
	if ev.Tags != nil {
		turnID = ev.Tags["turn_id"]
	}
	if turnID == "" {
		return
	}
	n, err := strconv.ParseUint(turnID, 10, 64)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneStaleLocked(n)
	switch ev.Name {
	case metrics.EventUtteranceFinal, metrics.EventTurnStarted:
		t := o.ensureLocked(turnID)
		if t.utterance.IsZero() {
			t.utterance = ev.Time
		}
		if t.traceID == "" && ev.Tags != nil {
			t.traceID = ev.Tags["trace_id"]
		}
	case metrics.EventDialogueResponse:
		t := o.ensureLocked(turnID)
		if t.response.IsZero() {
			t.response = ev.Time
		}
	case metrics.EventSpeechStart:
		t := o.ensureLocked(turnID)
		if t.speechStart.IsZero() {
			t.speechStart = ev.Time
		}
	case metrics.EventSpeechEnd:
		if t, ok := o.traces[turnID]; ok {
			o.logTurnLocked(turnID, t, ev.Time)
			delete(o.traces, turnID)
		}
	case metrics.EventTurnSuperseded:
		delete(o.traces, turnID)
	}
}

// pruneStaleLocked evicts traces for turns older than the one just observed.
// A turn that failed or was abandoned before speaking never emits speech_end,
// so its trace would otherwise outlive it.
func (o *LatencyObserver) pruneStaleLocked(current uint64) {
	for key := range o.traces {
		if id, err := strconv.ParseUint(key, 10, 64); err == nil && id < current {
			delete(o.traces, key)
		}
	}
}

func (o *LatencyObserver) ensureLocked(turnID string) *trace {
	t := o.traces[turnID]
	if t == nil {
		t = &trace{}
		o.traces[turnID] = t
	}
	return t
}

func (o *LatencyObserver) logTurnLocked(turnID string, t *trace, end time.Time) {
	o.log.Info("turn latency",
		"turn_id", turnID,
		"trace_id", t.traceID,
		"dialogue_ms", durationMs(t.utterance, t.response),
		"speech_start_ms", durationMs(t.response, t.speechStart),
		"speaking_ms", durationMs(t.speechStart, end),
		"total_ms", durationMs(t.utterance, end),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
