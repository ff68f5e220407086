// Package voiceturn is the turn-based spoken-dialogue orchestrator. The
// controller serializes microphone capture, dialogue round trips, and speech
// playback into one authoritative voice state, using a strictly increasing
// turn id to invalidate stale asynchronous completions.
package voiceturn

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synclabs/voiceturn/pkg/capture"
	"github.com/synclabs/voiceturn/pkg/configutil"
	"github.com/synclabs/voiceturn/pkg/dialogue"
	"github.com/synclabs/voiceturn/pkg/errorsx"
	"github.com/synclabs/voiceturn/pkg/language"
	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/metrics"
	"github.com/synclabs/voiceturn/pkg/playback"
	"github.com/synclabs/voiceturn/pkg/precache"
	"github.com/synclabs/voiceturn/pkg/redact"
	"github.com/synclabs/voiceturn/pkg/resilience"
	"github.com/synclabs/voiceturn/pkg/speech"
	"github.com/synclabs/voiceturn/pkg/turn"
)

// captureNotice is the transcript line shown when voice input is unavailable
// and the conversation degrades to typed input.
const captureNotice = "Voice input is unavailable. You can type your message instead."

// wakeResetAfter bounds how long SPEAKING may persist with no playback before
// Wake force-resets it.
const wakeResetAfter = 30 * time.Second

// Deps are the capabilities the controller orchestrates. Recognizer and
// Synthesizer may be nil: a nil recognizer activates straight into text-only
// listening, a nil synthesizer reduces the fallback channel to reading
// pauses. Player is required.
type Deps struct {
	Client      dialogue.Client
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Player      speech.Player
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Controller owns the voice state, the turn clock, the conversation history,
// and the audio cache. All mutation goes through its operations; asynchronous
// completions re-check the turn clock before touching anything.
type Controller struct {
	clock     *turn.Clock
	fsm       *turn.Machine
	history   *dialogue.History
	client    dialogue.Client
	capture   *capture.Adapter
	engine    *playback.Engine
	fallback  *playback.Fallback
	cache     *precache.Cache
	languages *language.Table
	breaker   *resilience.CircuitBreaker
	observer  metrics.Observer
	logger    *slog.Logger

	demoToken     string
	sentEntries   int
	resumeGrace   time.Duration
	unmuteDelay   time.Duration
	synthTimeout  time.Duration
	scriptedSynth time.Duration

	mu           sync.Mutex
	active       bool
	muted        bool
	processing   bool
	languageCode string
	stepContext  any
	transcript   string
	traceID      string
	callbacks    Callbacks
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewController wires a controller from config and capabilities.
func NewController(cfg Config, deps Deps) *Controller {
	observer := deps.Observer
	if observer == nil {
		observer = metrics.NoopObserver{}
	}

	overrides := make([]language.Config, 0, len(cfg.Languages.Overrides))
	for _, e := range cfg.Languages.Overrides {
		overrides = append(overrides, language.Config{Code: e.Code, Locale: e.Locale, Name: e.Name})
	}
	languages := language.NewTable(cfg.Languages.Default, overrides)

	scriptedSynth := configutil.DurationMS(cfg.Dialogue.ScriptedSynthTimeoutMS, 8*time.Second)

	c := &Controller{
		clock:   turn.NewClock(),
		fsm:     turn.NewMachine(),
		history: dialogue.NewHistory(cfg.History.MaxEntries),
		client:  deps.Client,
		engine:  playback.NewEngine(deps.Player, deps.Logger),
		fallback: playback.NewFallback(deps.Synthesizer,
			configutil.DurationMS(cfg.Fallback.MinReadingPauseMS, 3*time.Second),
			configutil.DurationMS(cfg.Fallback.PerCharPauseMS, 40*time.Millisecond),
			deps.Logger),
		cache:     precache.New(deps.Client, scriptedSynth, deps.Logger),
		languages: languages,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker.Threshold,
			configutil.DurationMS(cfg.Breaker.CooldownMS, 30*time.Second)),
		observer: observer,
		logger:   logging.NewComponentLogger(deps.Logger, "controller"),

		demoToken:     cfg.Dialogue.DemoToken,
		sentEntries:   orDefault(cfg.History.SentEntries, 12),
		resumeGrace:   configutil.DurationMS(cfg.Turn.ResumeGraceMS, 400*time.Millisecond),
		unmuteDelay:   configutil.DurationMS(cfg.Turn.UnmuteDelayMS, 200*time.Millisecond),
		synthTimeout:  configutil.DurationMS(cfg.Dialogue.SynthTimeoutMS, 6*time.Second),
		scriptedSynth: scriptedSynth,

		languageCode: languages.Default(),
	}

	if deps.Recognizer != nil {
		c.capture = capture.NewAdapter(deps.Recognizer, capture.Config{
			RestartDelay:   configutil.DurationMS(cfg.Capture.RestartMS, 80*time.Millisecond),
			FailureBackoff: configutil.DurationMS(cfg.Capture.FailureBackoffMS, 300*time.Millisecond),
			MaxFailures:    cfg.Capture.MaxFailures,
			MinTranscript:  cfg.Capture.MinTranscript,
		}, capture.Handlers{
			OnFinal: c.onUtterance,
			OnDown:  c.onCaptureDown,
		}, deps.Logger)
	}
	return c
}

// SetCallbacks registers application hooks. Call before Activate.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.callbacks = cb
	c.mu.Unlock()
}

// SetStepContext stores the opaque context blob forwarded verbatim in every
// backend request.
func (c *Controller) SetStepContext(v any) {
	c.mu.Lock()
	c.stepContext = v
	c.mu.Unlock()
}

// SetLanguage switches the active conversation language. Unknown codes
// resolve to the default language.
func (c *Controller) SetLanguage(code string) {
	resolved := c.languages.Resolve(code)
	c.mu.Lock()
	c.languageCode = resolved.Code
	c.mu.Unlock()
}

// Activate starts a conversation cycle. Never hard-fails: a missing or denied
// microphone degrades to muted, text-only listening.
func (c *Controller) Activate() {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.muted = false
	c.processing = false
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel
	hasCapture := c.capture != nil
	c.mu.Unlock()

	if err := c.fsm.Transition(turn.StateListening, "activate"); err != nil {
		c.logger.Error("activate transition failed", slog.String("error", err.Error()))
	}

	if !hasCapture {
		c.mu.Lock()
		c.muted = true
		c.mu.Unlock()
		c.setTranscript(captureNotice)
		c.logger.Info("speech capture unsupported, text-only session")
		return
	}
	c.capture.Start(ctx)
	c.logger.Info("conversation activated")
}

// Deactivate is the universal cancellation: supersede every in-flight turn,
// stop all resources, clear history and transcript, return to OFF.
// Idempotent.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	c.clock.Next()
	c.active = false
	c.processing = false
	c.muted = false
	c.transcript = ""
	c.traceID = ""
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.capture != nil {
		c.capture.Stop()
	}
	c.engine.Stop()
	c.fallback.Cancel()
	c.history.Clear()
	if err := c.fsm.Transition(turn.StateOff, "deactivate"); err != nil {
		c.logger.Error("deactivate transition failed", slog.String("error", err.Error()))
	}
}

// ToggleMute stops capture when muting and resumes it shortly after unmuting
// while idle. A no-op in text-only sessions.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	if !c.active || c.capture == nil {
		c.mu.Unlock()
		return
	}
	c.muted = !c.muted
	muted := c.muted
	processing := c.processing
	delay := c.unmuteDelay
	c.mu.Unlock()

	if muted {
		c.capture.Suspend()
		return
	}
	if !processing && c.fsm.State() == turn.StateListening {
		c.capture.Resume(delay)
	}
}

// SubmitText runs a typed message through the conversational pipeline,
// exactly as if it had been spoken.
func (c *Controller) SubmitText(text string) {
	c.processInput(text)
}

// SpeakDialogue voices a fixed scripted line. The dialogue endpoint is only
// consulted for synthesis; a warmed cache entry skips the network entirely.
func (c *Controller) SpeakDialogue(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	id, ctx, ok := c.beginTurn("scripted_speech")
	if !ok {
		return
	}
	c.setTranscript(text)
	c.emit(metrics.EventTurnStarted, id, map[string]any{"kind": "scripted"})

	go func() {
		clip, state := c.cache.Lookup(text)
		switch state {
		case precache.StateReady:
			c.emit(metrics.EventSynthCacheHit, id, nil)
			c.startPlayback(id, clip)
		case precache.StateBuiltin:
			c.speakFallback(ctx, id, text)
		default:
			c.synthesizeAndPlay(ctx, id, text, c.scriptedSynth)
		}
	}()
}

// GenerateGuidedWalkthrough routes a generation prompt through the dialogue
// endpoint. The prompt is never attributed to the user or recorded; only the
// assistant's reply enters history.
func (c *Controller) GenerateGuidedWalkthrough(prompt string) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return
	}
	id, ctx, ok := c.beginTurn("generated_speech")
	if !ok {
		return
	}
	c.emit(metrics.EventTurnStarted, id, map[string]any{"kind": "generated"})

	req := c.buildTurnRequest(prompt)
	go c.runDialogueTurn(ctx, id, req, false)
}

// PreCacheAudio warms the audio cache for upcoming scripted lines. The cache
// outlives activations, so warms run on the background context.
func (c *Controller) PreCacheAudio(texts []string) {
	c.cache.Warm(context.Background(), texts, c.languageSnapshot())
}

// Wake compensates for suspended timers after the host application was
// backgrounded: overdue playback is force-completed, and a SPEAKING state
// with no playback at all is reset once it exceeds the safety ceiling.
func (c *Controller) Wake() {
	c.engine.Wake()
	if c.fsm.State() != turn.StateSpeaking || c.engine.Playing() {
		return
	}
	since := c.fsm.SpeakingSince()
	if since.IsZero() || time.Since(since) < wakeResetAfter {
		return
	}
	c.logger.Warn("speaking state with no playback, force reset")
	c.finishTurn(c.clock.Current(), "wake_reset")
}

// State returns the current voice state.
func (c *Controller) State() turn.State {
	return c.fsm.State()
}

// TurnID returns the live turn id.
func (c *Controller) TurnID() uint64 {
	return c.clock.Current()
}

// Transcript returns the latest transcript line.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Muted reports whether capture is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Active reports whether a conversation cycle is live.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HistoryLen returns the number of history entries.
func (c *Controller) HistoryLen() int {
	return c.history.Len()
}

// AddStateListener registers an observer for voice state transitions.
func (c *Controller) AddStateListener(l turn.StateListener) {
	c.fsm.AddListener(l)
}

// onUtterance receives finalized utterances from the capture adapter.
func (c *Controller) onUtterance(text string) {
	c.mu.Lock()
	skip := !c.active || c.processing || c.muted
	c.mu.Unlock()
	if skip {
		return
	}
	c.logger.Debug("utterance", slog.String("text", redact.Text(text)))
	c.processInput(text)
}

// onCaptureDown marks the session text-only after a terminal capture failure.
// The state stays LISTENING so typed input keeps working.
func (c *Controller) onCaptureDown(err error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.muted = true
	c.mu.Unlock()
	c.setTranscript(captureNotice)
	c.logger.Warn("switching to typed input",
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
}

// processInput is the user-initiated pipeline: start a new turn, take the
// floor, record the message, and post the dialogue request.
func (c *Controller) processInput(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	id, ctx, ok := c.beginTurn("user_input")
	if !ok {
		return
	}
	c.setTranscript(text)
	c.emit(metrics.EventTurnStarted, id, map[string]any{"kind": "conversational"})
	c.emit(metrics.EventUtteranceFinal, id, map[string]any{"chars": len(text)})

	if cb := c.callbacksSnapshot(); cb.OnUserSpoke != nil {
		cb.OnUserSpoke(text)
	}

	req := c.buildTurnRequest(text)
	c.history.Append(dialogue.RoleUser, text)
	go c.runDialogueTurn(ctx, id, req, true)
}

// beginTurn supersedes the live turn and takes the floor: capture suspended,
// playback and pending fallback speech stopped, state PROCESSING.
func (c *Controller) beginTurn(reason string) (uint64, context.Context, bool) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return 0, nil, false
	}
	id := c.clock.Next()
	c.processing = true
	c.traceID = uuid.NewString()
	ctx := c.ctx
	c.mu.Unlock()

	if c.capture != nil {
		c.capture.Suspend()
	}
	c.engine.Stop()
	c.fallback.Cancel()

	if err := c.fsm.Transition(turn.StateProcessing, reason); err != nil {
		c.logger.Error("processing transition failed", slog.String("error", err.Error()))
	}
	return id, ctx, true
}

// buildTurnRequest snapshots history and step context for one dialogue post.
// History is captured before the current message is appended; the message
// travels in its own field.
func (c *Controller) buildTurnRequest(message string) dialogue.TurnRequest {
	c.mu.Lock()
	stepContext := c.stepContext
	lang := c.languageCode
	c.mu.Unlock()
	return dialogue.TurnRequest{
		Message:     message,
		History:     c.history.Tail(c.sentEntries),
		DemoToken:   c.demoToken,
		StepContext: stepContext,
		Language:    lang,
	}
}

// runDialogueTurn posts a turn and handles the reply. attributed marks the
// user-initiated pipeline, whose message must be rolled out of history when
// the request fails.
func (c *Controller) runDialogueTurn(ctx context.Context, id uint64, req dialogue.TurnRequest, attributed bool) {
	resp, err := c.client.Turn(ctx, req)
	if !c.clock.IsCurrent(id) {
		c.emit(metrics.EventTurnSuperseded, id, nil)
		return
	}
	if err != nil {
		if resilience.IsRateLimit(err) {
			c.emit(metrics.EventRateLimit, id, nil)
		}
		c.logger.Warn("dialogue turn failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		if attributed {
			c.history.PopLast()
		}
		c.finishTurn(id, "dialogue_failed")
		return
	}

	reply, actions := dialogue.ExtractActions(resp.Reply())
	c.emit(metrics.EventDialogueResponse, id, map[string]any{
		"actions":   len(actions),
		"has_audio": resp.Audio != "",
	})

	if reply != "" {
		c.history.Append(dialogue.RoleAssistant, reply)
		c.setTranscript(reply)
	}
	if cb := c.callbacksSnapshot(); cb.OnAction != nil {
		for _, payload := range actions {
			cb.OnAction(payload)
		}
	}
	if reply == "" {
		c.finishTurn(id, "empty_reply")
		return
	}

	timeout := c.synthTimeout
	if !attributed {
		timeout = c.scriptedSynth
	}
	c.speakReply(ctx, id, resp, reply, timeout)
}

// speakReply walks the speech ladder: inline audio, dedicated synthesis
// fetch, built-in fallback, reading pause. Every rung ends in finishTurn.
func (c *Controller) speakReply(ctx context.Context, id uint64, resp dialogue.TurnResponse, text string, timeout time.Duration) {
	if resp.Audio != "" {
		clip, err := dialogue.DecodeClip(resp.Audio)
		if err == nil {
			c.startPlayback(id, clip)
			return
		}
		c.logger.Warn("inline audio undecodable", slog.String("error", err.Error()))
	}
	if resp.TTSUnavailable {
		c.speakFallback(ctx, id, text)
		return
	}
	c.synthesizeAndPlay(ctx, id, text, timeout)
}

// synthesizeAndPlay issues the dedicated synthesis fetch, guarded by the
// circuit breaker so a struggling endpoint does not cost a timeout per turn.
func (c *Controller) synthesizeAndPlay(ctx context.Context, id uint64, text string, timeout time.Duration) {
	if !c.breaker.Allow() {
		c.emit(metrics.EventBreakerDenied, id, nil)
		c.logger.Debug("synthesis fetch skipped",
			slog.String("reason", string(errorsx.ReasonSynthCircuitOpen)))
		c.speakFallback(ctx, id, text)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := c.client.Synthesize(sctx, dialogue.SynthRequest{
		TTSOnly:  true,
		TTSText:  text,
		Language: c.languageSnapshot(),
	})
	cancel()

	if !c.clock.IsCurrent(id) {
		c.emit(metrics.EventTurnSuperseded, id, nil)
		return
	}
	if err != nil {
		c.breaker.OnError(err)
		if !c.breaker.Allow() {
			c.emit(metrics.EventBreakerOpen, id, nil)
		}
		if resilience.IsRateLimit(err) {
			c.emit(metrics.EventRateLimit, id, nil)
		}
		c.logger.Warn("synthesis fetch failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		c.speakFallback(ctx, id, text)
		return
	}
	if resp.TTSUnavailable || resp.Audio == "" {
		// Endpoint healthy, it just cannot voice this language.
		c.breaker.OnSuccess()
		c.logger.Debug("server synthesis unavailable",
			slog.String("reason", string(errorsx.ReasonSynthUnavailable)))
		c.speakFallback(ctx, id, text)
		return
	}
	clip, err := dialogue.DecodeClip(resp.Audio)
	if err != nil {
		c.logger.Warn("synthesized audio undecodable", slog.String("error", err.Error()))
		c.speakFallback(ctx, id, text)
		return
	}
	c.breaker.OnSuccess()
	c.startPlayback(id, clip)
}

// startPlayback takes the speaker: capture suspended, pending fallback
// speech cancelled, then the clip plays with its completion bound to this
// turn id.
func (c *Controller) startPlayback(id uint64, clip speech.Clip) {
	if !c.clock.IsCurrent(id) {
		c.emit(metrics.EventTurnSuperseded, id, nil)
		return
	}
	if c.capture != nil {
		c.capture.Suspend()
	}
	c.fallback.Cancel()

	if err := c.fsm.Transition(turn.StateSpeaking, "speak"); err != nil {
		c.logger.Error("speaking transition failed", slog.String("error", err.Error()))
		return
	}
	c.emit(metrics.EventSpeechStart, id, map[string]any{
		"duration_ms": clip.Duration.Milliseconds(),
	})

	err := c.engine.Play(clip, func(perr error) {
		if perr != nil {
			// Playback errors complete the turn like a natural end.
			c.logger.Warn("playback error", slog.String("error", perr.Error()))
		}
		c.onSpeechDone(id)
	})
	if err != nil {
		c.logger.Warn("playback start failed", slog.String("error", err.Error()))
		c.onSpeechDone(id)
	}
}

// speakFallback voices text through the built-in channel, degrading to a
// reading pause. It always completes the turn.
func (c *Controller) speakFallback(ctx context.Context, id uint64, text string) {
	if !c.clock.IsCurrent(id) {
		c.emit(metrics.EventTurnSuperseded, id, nil)
		return
	}
	if c.capture != nil {
		c.capture.Suspend()
	}
	if err := c.fsm.Transition(turn.StateSpeaking, "fallback_speech"); err != nil {
		c.logger.Error("speaking transition failed", slog.String("error", err.Error()))
		return
	}
	c.emit(metrics.EventSynthFallback, id, nil)
	if !c.fallback.HasSynth() {
		c.emit(metrics.EventReadingPause, id, map[string]any{
			"pause_ms": c.fallback.PauseFor(text).Milliseconds(),
		})
	}
	c.emit(metrics.EventSpeechStart, id, nil)

	locale := c.languages.Locale(c.languageSnapshot())
	go func() {
		if err := c.fallback.Speak(ctx, text, locale); err != nil {
			c.logger.Debug("fallback speech interrupted", slog.String("error", err.Error()))
		}
		c.onSpeechDone(id)
	}()
}

// onSpeechDone closes the speaking phase of a turn, whatever path produced
// the speech.
func (c *Controller) onSpeechDone(id uint64) {
	if !c.clock.IsCurrent(id) {
		c.emit(metrics.EventTurnSuperseded, id, nil)
		return
	}
	c.emit(metrics.EventSpeechEnd, id, nil)
	c.finishTurn(id, "speech_complete")
}

// finishTurn returns to LISTENING and resumes capture after the grace delay,
// unless muted. Stale ids and inactive sessions are no-ops.
func (c *Controller) finishTurn(id uint64, reason string) {
	c.mu.Lock()
	if !c.active || !c.clock.IsCurrent(id) {
		c.mu.Unlock()
		return
	}
	c.processing = false
	muted := c.muted
	grace := c.resumeGrace
	c.mu.Unlock()

	c.engine.Stop()
	c.fallback.Cancel()
	if err := c.fsm.Transition(turn.StateListening, reason); err != nil {
		c.logger.Error("listening transition failed", slog.String("error", err.Error()))
		return
	}
	if c.capture != nil && !muted {
		c.capture.Resume(grace)
	}
}

func (c *Controller) setTranscript(line string) {
	c.mu.Lock()
	c.transcript = line
	cb := c.callbacks
	c.mu.Unlock()
	if cb.OnTranscript != nil {
		cb.OnTranscript(line)
	}
}

func (c *Controller) callbacksSnapshot() Callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks
}

func (c *Controller) languageSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.languageCode
}

func (c *Controller) emit(name string, id uint64, fields map[string]any) {
	c.mu.Lock()
	traceID := c.traceID
	c.mu.Unlock()
	c.observer.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"turn_id":  strconv.FormatUint(id, 10),
			"trace_id": traceID,
		},
		Fields: fields,
	})
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
