package voiceturn

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/synclabs/voiceturn/pkg/dialogue"
	"github.com/synclabs/voiceturn/pkg/metrics"
	"github.com/synclabs/voiceturn/pkg/precache"
	"github.com/synclabs/voiceturn/pkg/providers/mock"
	"github.com/synclabs/voiceturn/pkg/speech"
	"github.com/synclabs/voiceturn/pkg/turn"
)

type scriptClient struct {
	mu         sync.Mutex
	turnFn     func(req dialogue.TurnRequest) (dialogue.TurnResponse, error)
	synthFn    func(req dialogue.SynthRequest) (dialogue.TurnResponse, error)
	turnCalls  []dialogue.TurnRequest
	synthCalls []dialogue.SynthRequest
}

func (c *scriptClient) Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
	c.mu.Lock()
	c.turnCalls = append(c.turnCalls, req)
	fn := c.turnFn
	c.mu.Unlock()
	if fn == nil {
		return dialogue.TurnResponse{Response: "ok"}, nil
	}
	return fn(req)
}

func (c *scriptClient) Synthesize(ctx context.Context, req dialogue.SynthRequest) (dialogue.TurnResponse, error) {
	c.mu.Lock()
	c.synthCalls = append(c.synthCalls, req)
	fn := c.synthFn
	c.mu.Unlock()
	if fn == nil {
		return dialogue.TurnResponse{TTSUnavailable: true}, nil
	}
	return fn(req)
}

func (c *scriptClient) TurnCalls() []dialogue.TurnRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]dialogue.TurnRequest, len(c.turnCalls))
	copy(out, c.turnCalls)
	return out
}

func (c *scriptClient) SynthCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.synthCalls)
}

func inlineAudio(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func testConfig() Config {
	return Config{
		Dialogue: DialogueConfig{
			Endpoint:               "http://test",
			TimeoutMS:              1000,
			SynthTimeoutMS:         200,
			ScriptedSynthTimeoutMS: 200,
		},
		Turn:      TurnConfig{ResumeGraceMS: 10, UnmuteDelayMS: 10},
		Capture:   CaptureConfig{RestartMS: 5, FailureBackoffMS: 5, MaxFailures: 3, MinTranscript: 2},
		Fallback:  FallbackConfig{MinReadingPauseMS: 40, PerCharPauseMS: 1},
		History:   HistoryConfig{MaxEntries: 20, SentEntries: 12},
		Breaker:   BreakerConfig{Threshold: 3, CooldownMS: 1000},
		Languages: LanguagesConfig{Default: "en"},
	}
}

type testRig struct {
	controller *Controller
	client     *scriptClient
	recognizer *mock.Recognizer
	player     *mock.Player
	observer   *metrics.MemoryObserver
}

func newRig(t *testing.T, client *scriptClient, rec *mock.Recognizer) *testRig {
	t.Helper()
	player := mock.NewPlayer()
	player.Duration = 10 * time.Millisecond
	observer := metrics.NewMemoryObserver()
	deps := Deps{
		Client:   client,
		Player:   player,
		Observer: observer,
	}
	if rec != nil {
		deps.Recognizer = rec
	}
	c := NewController(testConfig(), deps)
	t.Cleanup(c.Deactivate)
	return &testRig{controller: c, client: client, recognizer: rec, player: player, observer: observer}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestActivateEntersListening(t *testing.T) {
	rig := newRig(t, &scriptClient{}, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()
	if rig.controller.State() != turn.StateListening {
		t.Fatalf("state after activate: %s", rig.controller.State())
	}
	if rig.controller.Muted() {
		t.Fatal("muted after normal activation")
	}
	waitFor(t, func() bool { return rig.recognizer.Starts() > 0 }, "capture never started")
}

func TestActivateWithoutRecognizerIsTextOnly(t *testing.T) {
	rig := newRig(t, &scriptClient{}, nil)
	rig.controller.Activate()
	if rig.controller.State() != turn.StateListening {
		t.Fatalf("state: %s", rig.controller.State())
	}
	if !rig.controller.Muted() {
		t.Fatal("text-only session not muted")
	}
	if rig.controller.Transcript() != captureNotice {
		t.Fatalf("transcript: %q", rig.controller.Transcript())
	}
}

func TestActivateMicrophoneDenied(t *testing.T) {
	rec := mock.NewRecognizer(mock.RecognizerConfig{StartErr: speech.ErrPermissionDenied})
	rig := newRig(t, &scriptClient{}, rec)
	rig.controller.Activate()

	waitFor(t, rig.controller.Muted, "denial did not mute")
	if rig.controller.State() != turn.StateListening {
		t.Fatalf("state after denial: %s", rig.controller.State())
	}
	if rig.controller.Transcript() != captureNotice {
		t.Fatalf("transcript: %q", rig.controller.Transcript())
	}
}

func TestConversationalTurn(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "Here you go.", Audio: inlineAudio("clip")}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()
	before := rig.controller.TurnID()

	rig.controller.SubmitText("show me the pipeline")

	if got := rig.controller.TurnID(); got != before+1 {
		t.Fatalf("turn id advanced by %d", got-before)
	}
	waitFor(t, func() bool { return rig.controller.State() == turn.StateListening && rig.controller.HistoryLen() == 2 },
		"turn never completed")
	if rig.controller.HistoryLen() != 2 {
		t.Fatalf("history entries: %d", rig.controller.HistoryLen())
	}
	if rig.controller.Transcript() != "Here you go." {
		t.Fatalf("transcript: %q", rig.controller.Transcript())
	}
	if rig.observer.Count(metrics.EventSpeechEnd) != 1 {
		t.Fatalf("speech_end events: %d", rig.observer.Count(metrics.EventSpeechEnd))
	}

	calls := rig.client.TurnCalls()
	if len(calls) != 1 {
		t.Fatalf("turn calls: %d", len(calls))
	}
	if calls[0].Message != "show me the pipeline" || len(calls[0].History) != 0 {
		t.Fatalf("request: %+v", calls[0])
	}
}

func TestTurnSupersededByNewInput(t *testing.T) {
	release := make(chan struct{})
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			if req.Message == "first" {
				<-release
				return dialogue.TurnResponse{Response: "stale reply"}, nil
			}
			return dialogue.TurnResponse{Response: "live reply", Audio: inlineAudio("clip")}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()

	rig.controller.SubmitText("first")
	rig.controller.SubmitText("second")
	waitFor(t, func() bool { return rig.controller.Transcript() == "live reply" }, "live turn never completed")

	close(release)
	time.Sleep(50 * time.Millisecond)
	if rig.controller.Transcript() == "stale reply" {
		t.Fatal("stale completion mutated the transcript")
	}
	// Both user messages stay; only the live turn's reply is recorded.
	if rig.controller.HistoryLen() != 3 {
		t.Fatalf("history entries: %d", rig.controller.HistoryLen())
	}
	if rig.observer.Count(metrics.EventTurnSuperseded) == 0 {
		t.Fatal("superseded event not recorded")
	}
}

func TestMutualExclusionAndResume(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "reply", Audio: inlineAudio("clip")}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.player.Duration = 100 * time.Millisecond
	rig.controller.Activate()
	waitFor(t, func() bool { return rig.recognizer.Starts() == 1 }, "capture never started")

	rig.controller.SubmitText("hello there")
	waitFor(t, func() bool { return rig.controller.State() == turn.StateSpeaking }, "never reached SPEAKING")
	if rig.recognizer.Starts() != 1 {
		t.Fatalf("capture restarted while speaking: %d starts", rig.recognizer.Starts())
	}

	waitFor(t, func() bool { return rig.controller.State() == turn.StateListening }, "never resumed LISTENING")
	waitFor(t, func() bool { return rig.recognizer.Starts() == 2 }, "capture not resumed after speech")
}

func TestDeactivateIsIdempotent(t *testing.T) {
	client := &scriptClient{}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()
	rig.controller.SubmitText("hello there")

	rig.controller.Deactivate()
	rig.controller.Deactivate()

	if rig.controller.State() != turn.StateOff {
		t.Fatalf("state: %s", rig.controller.State())
	}
	if rig.controller.HistoryLen() != 0 {
		t.Fatalf("history not cleared: %d", rig.controller.HistoryLen())
	}
	if rig.controller.Transcript() != "" {
		t.Fatalf("transcript not cleared: %q", rig.controller.Transcript())
	}
	if rig.controller.Active() {
		t.Fatal("still active")
	}
}

func TestFallbackCompleteness(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "unspoken reply"}, nil
		},
		synthFn: func(req dialogue.SynthRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{}, errors.New("synthesis down")
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()

	start := time.Now()
	rig.controller.SubmitText("hello there")
	waitFor(t, func() bool {
		return rig.controller.State() == turn.StateListening && rig.controller.HistoryLen() == 2
	}, "conversation stalled after total synthesis failure")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fallback took %v", elapsed)
	}
	if rig.observer.Count(metrics.EventReadingPause) != 1 {
		t.Fatalf("reading_pause events: %d", rig.observer.Count(metrics.EventReadingPause))
	}
	if rig.observer.Count(metrics.EventSynthFallback) != 1 {
		t.Fatalf("synth_fallback events: %d", rig.observer.Count(metrics.EventSynthFallback))
	}
}

func TestBreakerSkipsSynthesisWhenOpen(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "reply"}, nil
		},
		synthFn: func(req dialogue.SynthRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{}, errors.New("synthesis down")
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()

	// Threshold is 3: three failed fetches open the breaker, the fourth turn
	// goes straight to the fallback without touching the network.
	for i := 0; i < 4; i++ {
		rig.controller.SubmitText("hello there")
		wantLen := (i + 1) * 2
		waitFor(t, func() bool {
			return rig.controller.State() == turn.StateListening && rig.controller.HistoryLen() == wantLen
		}, "turn never completed")
	}
	if rig.client.SynthCalls() != 3 {
		t.Fatalf("open breaker still fetched: %d synth calls", rig.client.SynthCalls())
	}
	if rig.observer.Count(metrics.EventBreakerDenied) == 0 {
		t.Fatal("breaker denial not recorded")
	}
}

func TestSpeakDialogueFromCache(t *testing.T) {
	client := &scriptClient{
		synthFn: func(req dialogue.SynthRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Audio: inlineAudio("welcome clip")}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()

	rig.controller.PreCacheAudio([]string{"Welcome!"})
	waitFor(t, func() bool {
		_, state := rig.controller.cache.Lookup("Welcome!")
		return state == precache.StateReady
	}, "cache entry never ready")

	rig.controller.SpeakDialogue("Welcome!")
	waitFor(t, func() bool { return rig.controller.State() == turn.StateListening && rig.player.Plays() == 1 },
		"scripted speech never completed")

	if rig.client.SynthCalls() != 1 {
		t.Fatalf("cache hit still fetched: %d synth calls", rig.client.SynthCalls())
	}
	if rig.observer.Count(metrics.EventSynthCacheHit) != 1 {
		t.Fatalf("cache hit events: %d", rig.observer.Count(metrics.EventSynthCacheHit))
	}
}

func TestDemoActionDirectives(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{
				Response: "[DEMO_ACTION: highlight_pipeline]Here is your pipeline.",
				Audio:    inlineAudio("clip"),
			}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))

	var mu sync.Mutex
	var actions []string
	rig.controller.SetCallbacks(Callbacks{
		OnAction: func(payload string) {
			mu.Lock()
			actions = append(actions, payload)
			mu.Unlock()
		},
	})
	rig.controller.Activate()
	rig.controller.SubmitText("show me the pipeline")

	waitFor(t, func() bool { return rig.controller.Transcript() == "Here is your pipeline." },
		"directive not stripped from transcript")
	mu.Lock()
	defer mu.Unlock()
	if len(actions) != 1 || actions[0] != "highlight_pipeline" {
		t.Fatalf("actions: %v", actions)
	}
}

func TestWalkthroughPromptNotAttributed(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "Guided step one.", Audio: inlineAudio("clip")}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))

	var mu sync.Mutex
	userSpoke := false
	rig.controller.SetCallbacks(Callbacks{
		OnUserSpoke: func(string) {
			mu.Lock()
			userSpoke = true
			mu.Unlock()
		},
	})
	rig.controller.Activate()
	rig.controller.GenerateGuidedWalkthrough("introduce the dashboard")

	waitFor(t, func() bool { return rig.controller.HistoryLen() == 1 }, "reply never recorded")
	mu.Lock()
	defer mu.Unlock()
	if userSpoke {
		t.Fatal("walkthrough prompt attributed to user")
	}
	calls := rig.client.TurnCalls()
	if len(calls) != 1 || calls[0].Message != "introduce the dashboard" {
		t.Fatalf("request: %+v", calls)
	}
}

func TestDialogueFailureRollsBackHistory(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{}, errors.New("backend down")
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()
	rig.controller.SubmitText("hello there")

	waitFor(t, func() bool { return rig.controller.State() == turn.StateListening }, "never resumed")
	if rig.controller.HistoryLen() != 0 {
		t.Fatalf("failed turn left history entries: %d", rig.controller.HistoryLen())
	}
}

func TestToggleMute(t *testing.T) {
	rig := newRig(t, &scriptClient{}, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()
	waitFor(t, func() bool { return rig.recognizer.Starts() == 1 }, "capture never started")

	rig.controller.ToggleMute()
	if !rig.controller.Muted() {
		t.Fatal("not muted")
	}
	rig.controller.ToggleMute()
	if rig.controller.Muted() {
		t.Fatal("still muted")
	}
	waitFor(t, func() bool { return rig.recognizer.Starts() == 2 }, "capture not resumed after unmute")
}

func TestSpokenUtteranceRunsTurn(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "heard you", Audio: inlineAudio("clip")}, nil
		},
	}
	rec := mock.NewRecognizer(mock.RecognizerConfig{
		Utterances: []string{"show me the pipeline"},
		Delay:      10 * time.Millisecond,
	})
	rig := newRig(t, client, rec)
	rig.controller.Activate()

	waitFor(t, func() bool { return rig.controller.HistoryLen() == 2 }, "spoken turn never completed")
	calls := rig.client.TurnCalls()
	if len(calls) != 1 || calls[0].Message != "show me the pipeline" {
		t.Fatalf("request: %+v", calls)
	}
}

func TestStepContextForwarded(t *testing.T) {
	client := &scriptClient{
		turnFn: func(req dialogue.TurnRequest) (dialogue.TurnResponse, error) {
			return dialogue.TurnResponse{Response: "ok", Audio: inlineAudio("clip")}, nil
		},
	}
	rig := newRig(t, client, mock.NewRecognizer(mock.RecognizerConfig{}))
	rig.controller.Activate()
	rig.controller.SetStepContext(map[string]string{"page": "pipeline"})
	rig.controller.SubmitText("hello there")

	waitFor(t, func() bool { return len(rig.client.TurnCalls()) == 1 }, "turn never posted")
	ctx, ok := rig.client.TurnCalls()[0].StepContext.(map[string]string)
	if !ok || ctx["page"] != "pipeline" {
		t.Fatalf("step context: %+v", rig.client.TurnCalls()[0].StepContext)
	}
}
