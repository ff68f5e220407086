// Package deepgram implements the single-utterance recognizer contract over
// the Deepgram live-transcription websocket.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/speech"
)

// AudioSource opens one microphone stream per capture attempt. An
// implementation maps its platform's permission failure to
// speech.ErrPermissionDenied so activation can degrade to text-only.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

// Recognizer runs one capture attempt per Start: connect, stream microphone
// audio, deliver the first finalized transcript, then end the attempt. The
// continuous-listening loop above it restarts as needed.
type Recognizer struct {
	cfg    Config
	source AudioSource
	out    chan speech.Event
	logger *slog.Logger

	mu       sync.Mutex
	dgClient *client.WSCallback
	stream   io.ReadCloser
	ended    bool
}

func New(cfg Config, source AudioSource, logger *slog.Logger) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Recognizer{
		cfg:    cfg,
		source: source,
		out:    make(chan speech.Event, 16),
		logger: logging.NewComponentLogger(logger, "deepgram_recognizer"),
	}
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.source == nil {
		return speech.ErrUnsupported
	}

	stream, err := r.source.Open(ctx)
	if err != nil {
		return err
	}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: false,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	cb := &callback{parent: r}
	dgClient, err := client.NewWSUsingCallback(ctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		_ = stream.Close()
		r.logger.Error("client create failed", slog.String("error", err.Error()))
		return err
	}
	if connected := dgClient.Connect(); !connected {
		_ = stream.Close()
		return fmt.Errorf("deepgram connection failed")
	}

	r.mu.Lock()
	r.dgClient = dgClient
	r.stream = stream
	r.ended = false
	r.mu.Unlock()

	r.logger.Debug("capture attempt started",
		slog.String("model", r.cfg.Model),
		slog.String("language", r.cfg.Language))

	go func() {
		if err := dgClient.Stream(stream); err != nil && ctx.Err() == nil {
			r.logger.Debug("stream ended", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Recognizer) Stop() error {
	r.endAttempt()
	return nil
}

func (r *Recognizer) Results() <-chan speech.Event {
	return r.out
}

// endAttempt tears the connection down and emits the end event exactly once
// per attempt.
func (r *Recognizer) endAttempt() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	dgClient := r.dgClient
	stream := r.stream
	r.dgClient = nil
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if dgClient != nil {
		go dgClient.Stop()
	}
	r.emit(speech.Event{Kind: speech.EventEnd})
}

func (r *Recognizer) emit(ev speech.Event) {
	select {
	case r.out <- ev:
	default:
		r.logger.Warn("event channel full, dropped",
			slog.Int("kind", int(ev.Kind)))
	}
}

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("connection opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if !mr.IsFinal && !mr.SpeechFinal {
		return nil
	}
	c.parent.emit(speech.Event{Kind: speech.EventTranscript, Transcript: transcript})
	c.parent.endAttempt()
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("metadata received",
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	// The utterance closed without a final transcript; end the attempt so
	// the loop above restarts cleanly.
	c.parent.endAttempt()
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.endAttempt()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Warn("recognition error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(speech.Event{
		Kind: speech.EventError,
		Err:  fmt.Errorf("deepgram: %s: %s", er.ErrCode, er.ErrMsg),
	})
	c.parent.endAttempt()
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("unhandled event", slog.String("data", string(byData)))
	return nil
}

var _ speech.Recognizer = (*Recognizer)(nil)
