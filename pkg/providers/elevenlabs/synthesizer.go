// Package elevenlabs implements the built-in synthesizer contract over the
// ElevenLabs stream-input websocket. One Speak is one connection: send the
// text, collect the audio, play it, done.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/resilience"
	"github.com/synclabs/voiceturn/pkg/speech"
)

type Config struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	MaxRetries   int    `mapstructure:"max_retries"`
	BackoffMS    int    `mapstructure:"backoff_ms"`
}

// Synthesizer voices text by synthesizing a clip over the websocket and
// rendering it through the player.
type Synthesizer struct {
	cfg    Config
	player speech.Player
	retry  resilience.RetryPolicy
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg Config, player speech.Player, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		cfg:    cfg,
		player: player,
		retry:  resilience.NewRetryPolicy(cfg.MaxRetries, backoff(cfg.BackoffMS)),
		logger: logging.NewComponentLogger(logger, "elevenlabs_synth"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

// Speak synthesizes and plays the text, blocking until playback finishes or
// the context is cancelled. Locale selection happens upstream; the voice is
// fixed per config.
func (s *Synthesizer) Speak(ctx context.Context, text, locale string) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errors.New("missing elevenlabs config")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	clip, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	done, err := s.player.Play(clip)
	if err != nil {
		return err
	}
	select {
	case res := <-done:
		return res.Err
	case <-ctx.Done():
		s.player.Stop()
		return ctx.Err()
	}
}

// Cancel interrupts the in-flight synthesis and playback.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
	s.player.Stop()
}

func (s *Synthesizer) synthesize(ctx context.Context, text string) (speech.Clip, error) {
	var conn *websocket.Conn
	err := s.retry.Do(func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var derr error
		conn, derr = s.dial(ctx)
		return derr
	})
	if err != nil {
		return speech.Clip{}, err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	if err := s.send(conn, init); err != nil {
		return speech.Clip{}, err
	}
	if err := s.send(conn, map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		return speech.Clip{}, err
	}
	// Empty text closes the input stream and flushes generation.
	if err := s.send(conn, map[string]any{"text": ""}); err != nil {
		return speech.Clip{}, err
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if len(audio) > 0 {
				// Connection closed after delivering audio; keep it.
				break
			}
			return speech.Clip{}, err
		}
		chunk, final, err := parseChunk(data)
		if err != nil {
			s.logger.Debug("unparseable message", slog.String("error", err.Error()))
			continue
		}
		audio = append(audio, chunk...)
		if final {
			break
		}
	}
	if len(audio) == 0 {
		return speech.Clip{}, errors.New("elevenlabs: no audio produced")
	}
	s.logger.Debug("clip synthesized", slog.Int("size_bytes", len(audio)))
	return speech.Clip{Audio: audio, MIME: "audio/mpeg"}, nil
}

func (s *Synthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Warn("rate limit exceeded", slog.String("status", resp.Status))
			return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return nil, err
	}
	return conn, nil
}

func (s *Synthesizer) buildURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func (s *Synthesizer) send(conn *websocket.Conn, payload map[string]any) error {
	b, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func parseChunk(data []byte) ([]byte, bool, error) {
	var msg struct {
		Audio   string `json:"audio"`
		IsFinal bool   `json:"isFinal"`
	}
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, false, err
	}
	if msg.Audio == "" {
		return nil, msg.IsFinal, nil
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return nil, false, err
	}
	return raw, msg.IsFinal, nil
}

func backoff(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

var _ speech.Synthesizer = (*Synthesizer)(nil)
