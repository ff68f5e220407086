package dialogue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/synclabs/voiceturn/pkg/errorsx"
	"github.com/synclabs/voiceturn/pkg/logging"
	"github.com/synclabs/voiceturn/pkg/resilience"
)

// HTTPConfig configures the backend client. Both body shapes go to the same
// endpoint; the shape itself selects the mode.
type HTTPConfig struct {
	Endpoint  string
	AuthToken string
	// Timeout is the ceiling for conversational turns. Synthesis calls get
	// their own per-call deadline from the caller's context.
	Timeout time.Duration
}

// HTTPClient talks to the hosted dialogue/synthesis endpoint.
type HTTPClient struct {
	cfg    HTTPConfig
	hc     *http.Client
	logger *slog.Logger
}

func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPClient{
		cfg: cfg,
		// Per-request deadlines come from contexts; the transport itself has
		// no global timeout so synthesis and dialogue can differ.
		hc:     &http.Client{},
		logger: logging.NewComponentLogger(logger, "dialogue_client"),
	}
}

func (c *HTTPClient) Turn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := c.post(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return TurnResponse{}, errorsx.Wrap(err, errorsx.ReasonDialogueTimeout)
		}
		return TurnResponse{}, errorsx.Wrap(err, errorsx.ReasonDialoguePost)
	}
	return resp, nil
}

func (c *HTTPClient) Synthesize(ctx context.Context, req SynthRequest) (TurnResponse, error) {
	resp, err := c.post(ctx, req)
	if err != nil {
		return TurnResponse{}, errorsx.Wrap(err, errorsx.ReasonSynthFetch)
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, body any) (TurnResponse, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return TurnResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return TurnResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Error("dialogue request failed",
			slog.String("error", err.Error()))
		return TurnResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("dialogue rate limit",
			slog.String("status", resp.Status))
		return TurnResponse{}, resilience.RateLimitError{Provider: "dialogue", Message: resp.Status}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TurnResponse{}, fmt.Errorf("dialogue endpoint status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TurnResponse{}, err
	}
	var out TurnResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return TurnResponse{}, errorsx.Wrap(err, errorsx.ReasonDialogueDecode)
	}

	c.logger.Debug("dialogue response",
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		slog.Bool("has_audio", out.Audio != ""),
		slog.Bool("tts_unavailable", out.TTSUnavailable))
	return out, nil
}

var _ Client = (*HTTPClient)(nil)
