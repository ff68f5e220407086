package voiceturn

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/synclabs/voiceturn/pkg/configutil"
	"github.com/synclabs/voiceturn/pkg/dialogue"
	"github.com/synclabs/voiceturn/pkg/metrics"
	"github.com/synclabs/voiceturn/pkg/observers"
	"github.com/synclabs/voiceturn/pkg/providers/deepgram"
	"github.com/synclabs/voiceturn/pkg/providers/elevenlabs"
	"github.com/synclabs/voiceturn/pkg/providers/mock"
	"github.com/synclabs/voiceturn/pkg/redact"
	"github.com/synclabs/voiceturn/pkg/speech"
)

// BuildOption injects capabilities that config alone cannot construct, such
// as the microphone source or a platform audio player.
type BuildOption func(*buildOptions)

type buildOptions struct {
	audioSource deepgram.AudioSource
	player      speech.Player
	observer    metrics.Observer
}

// WithAudioSource supplies the microphone stream opener used by the deepgram
// recognizer.
func WithAudioSource(src deepgram.AudioSource) BuildOption {
	return func(o *buildOptions) { o.audioSource = src }
}

// WithPlayer overrides the configured player with a platform implementation.
func WithPlayer(p speech.Player) BuildOption {
	return func(o *buildOptions) { o.player = p }
}

// WithObserver adds an extra metrics observer alongside the configured ones.
func WithObserver(obs metrics.Observer) BuildOption {
	return func(o *buildOptions) { o.observer = obs }
}

// Build wires a controller from config: dialogue client, providers, and
// observers.
func Build(cfg Config, logger *slog.Logger, opts ...BuildOption) (*Controller, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	redact.SetEnabled(cfg.Privacy.RedactPII)

	client := dialogue.NewHTTPClient(dialogue.HTTPConfig{
		Endpoint:  cfg.Dialogue.Endpoint,
		AuthToken: cfg.Dialogue.AuthToken,
		Timeout:   configutil.DurationMS(cfg.Dialogue.TimeoutMS, 0),
	}, logger)

	player, err := buildPlayer(cfg.Vendors.Player, o.player)
	if err != nil {
		return nil, err
	}
	recognizer, err := buildRecognizer(cfg.Vendors.Recognizer, o.audioSource, logger)
	if err != nil {
		return nil, err
	}
	synthesizer, err := buildSynthesizer(cfg.Vendors.Synthesizer, player, logger)
	if err != nil {
		return nil, err
	}
	observer, err := buildObserver(cfg.Observability, o.observer, logger)
	if err != nil {
		return nil, err
	}

	return NewController(cfg, Deps{
		Client:      client,
		Recognizer:  recognizer,
		Synthesizer: synthesizer,
		Player:      player,
		Observer:    observer,
		Logger:      logger,
	}), nil
}

type mockRecognizerSettings struct {
	Utterances []string `mapstructure:"utterances"`
	DelayMS    int      `mapstructure:"delay_ms"`
}

type mockDurationSettings struct {
	DurationMS int `mapstructure:"duration_ms"`
}

func buildRecognizer(vendor VendorConfig, source deepgram.AudioSource, logger *slog.Logger) (speech.Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(vendor.Provider)) {
	case "deepgram":
		var dcfg deepgram.Config
		if err := configutil.DecodeSettings(vendor.Settings, &dcfg); err != nil {
			return nil, fmt.Errorf("recognizer settings: %w", err)
		}
		if err := configutil.RequireString(dcfg.APIKey, "vendors.recognizer.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.New(dcfg, source, logger), nil
	case "mock":
		var mcfg mockRecognizerSettings
		if err := configutil.DecodeSettings(vendor.Settings, &mcfg); err != nil {
			return nil, fmt.Errorf("recognizer settings: %w", err)
		}
		return mock.NewRecognizer(mock.RecognizerConfig{
			Utterances: mcfg.Utterances,
			Delay:      configutil.DurationMS(mcfg.DelayMS, 0),
		}), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", vendor.Provider)
	}
}

func buildSynthesizer(vendor VendorConfig, player speech.Player, logger *slog.Logger) (speech.Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(vendor.Provider)) {
	case "elevenlabs":
		var ecfg elevenlabs.Config
		if err := configutil.DecodeSettings(vendor.Settings, &ecfg); err != nil {
			return nil, fmt.Errorf("synthesizer settings: %w", err)
		}
		if err := configutil.RequireString(ecfg.APIKey, "vendors.synthesizer.settings.api_key"); err != nil {
			return nil, err
		}
		return elevenlabs.New(ecfg, player, logger), nil
	case "mock":
		var mcfg mockDurationSettings
		if err := configutil.DecodeSettings(vendor.Settings, &mcfg); err != nil {
			return nil, fmt.Errorf("synthesizer settings: %w", err)
		}
		synth := mock.NewSynthesizer()
		synth.Duration = configutil.DurationMS(mcfg.DurationMS, 0)
		return synth, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown synthesizer provider %q", vendor.Provider)
	}
}

func buildPlayer(vendor VendorConfig, override speech.Player) (speech.Player, error) {
	if override != nil {
		return override, nil
	}
	switch strings.ToLower(strings.TrimSpace(vendor.Provider)) {
	case "mock", "":
		var mcfg mockDurationSettings
		if err := configutil.DecodeSettings(vendor.Settings, &mcfg); err != nil {
			return nil, fmt.Errorf("player settings: %w", err)
		}
		player := mock.NewPlayer()
		player.Duration = configutil.DurationMS(mcfg.DurationMS, 0)
		return player, nil
	default:
		return nil, fmt.Errorf("unknown player provider %q (supply one with WithPlayer)", vendor.Provider)
	}
}

func buildObserver(cfg ObservabilityConfig, extra metrics.Observer, logger *slog.Logger) (metrics.Observer, error) {
	var list []metrics.Observer
	if cfg.MetricsPath != "" {
		f, err := os.OpenFile(cfg.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		list = append(list, metrics.NewJSONLObserver(f))
	}
	if cfg.LatencyTrace {
		list = append(list, observers.NewLatencyObserver(logger))
	}
	if extra != nil {
		list = append(list, extra)
	}
	if len(list) == 0 {
		return metrics.NoopObserver{}, nil
	}
	return metrics.Compose(list...), nil
}
