package voiceturn

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full module configuration. All timings are millisecond
// integers so test configs can compress the clock without touching code.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Dialogue      DialogueConfig      `mapstructure:"dialogue"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Fallback      FallbackConfig      `mapstructure:"fallback"`
	History       HistoryConfig       `mapstructure:"history"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Languages     LanguagesConfig     `mapstructure:"languages"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

// DialogueConfig addresses the hosted dialogue/synthesis endpoint.
type DialogueConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AuthToken string `mapstructure:"auth_token"`
	DemoToken string `mapstructure:"demo_token"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	// SynthTimeoutMS bounds the dedicated synthesis fetch for a
	// conversational reply; ScriptedSynthTimeoutMS bounds scripted and
	// generated speech, which tolerates a little more latency.
	SynthTimeoutMS         int `mapstructure:"synth_timeout_ms"`
	ScriptedSynthTimeoutMS int `mapstructure:"scripted_synth_timeout_ms"`
}

// VendorConfig selects one provider with free-form settings.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Recognizer  VendorConfig `mapstructure:"recognizer"`
	Synthesizer VendorConfig `mapstructure:"synthesizer"`
	Player      VendorConfig `mapstructure:"player"`
}

// TurnConfig tunes the listening cadence around a turn.
type TurnConfig struct {
	// ResumeGraceMS delays capture restart after speech ends so the
	// microphone misses the playback tail.
	ResumeGraceMS int `mapstructure:"resume_grace_ms"`
	// UnmuteDelayMS delays capture restart after unmuting while idle.
	UnmuteDelayMS int `mapstructure:"unmute_delay_ms"`
}

type CaptureConfig struct {
	RestartMS        int `mapstructure:"restart_ms"`
	FailureBackoffMS int `mapstructure:"failure_backoff_ms"`
	MaxFailures      int `mapstructure:"max_failures"`
	MinTranscript    int `mapstructure:"min_transcript"`
}

type FallbackConfig struct {
	MinReadingPauseMS int `mapstructure:"min_reading_pause_ms"`
	PerCharPauseMS    int `mapstructure:"per_char_pause_ms"`
}

type HistoryConfig struct {
	MaxEntries  int `mapstructure:"max_entries"`
	SentEntries int `mapstructure:"sent_entries"`
}

type BreakerConfig struct {
	Threshold  int `mapstructure:"threshold"`
	CooldownMS int `mapstructure:"cooldown_ms"`
}

type LanguageEntry struct {
	Code   string `mapstructure:"code"`
	Locale string `mapstructure:"locale"`
	Name   string `mapstructure:"name"`
}

type LanguagesConfig struct {
	Default   string          `mapstructure:"default"`
	Overrides []LanguageEntry `mapstructure:"overrides"`
}

type ObservabilityConfig struct {
	MetricsPath  string `mapstructure:"metrics_path"`
	LatencyTrace bool   `mapstructure:"latency_trace"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads a config file, applies defaults, expands ${ENV} references
// in string values, and validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.Vendors.Recognizer.Settings = expandSettings(cfg.Vendors.Recognizer.Settings)
	cfg.Vendors.Synthesizer.Settings = expandSettings(cfg.Vendors.Synthesizer.Settings)
	cfg.Vendors.Player.Settings = expandSettings(cfg.Vendors.Player.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("dialogue.timeout_ms", 10000)
	v.SetDefault("dialogue.synth_timeout_ms", 6000)
	v.SetDefault("dialogue.scripted_synth_timeout_ms", 8000)

	v.SetDefault("vendors.recognizer.provider", "mock")
	v.SetDefault("vendors.synthesizer.provider", "mock")
	v.SetDefault("vendors.player.provider", "mock")

	v.SetDefault("turn.resume_grace_ms", 400)
	v.SetDefault("turn.unmute_delay_ms", 200)

	v.SetDefault("capture.restart_ms", 80)
	v.SetDefault("capture.failure_backoff_ms", 300)
	v.SetDefault("capture.max_failures", 5)
	v.SetDefault("capture.min_transcript", 2)

	v.SetDefault("fallback.min_reading_pause_ms", 3000)
	v.SetDefault("fallback.per_char_pause_ms", 40)

	v.SetDefault("history.max_entries", 20)
	v.SetDefault("history.sent_entries", 12)

	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.cooldown_ms", 30000)

	v.SetDefault("languages.default", "en")

	v.SetDefault("observability.latency_trace", true)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dialogue.Endpoint) == "" {
		return fmt.Errorf("dialogue.endpoint is required")
	}
	if strings.TrimSpace(c.Vendors.Recognizer.Provider) == "" {
		return fmt.Errorf("vendors.recognizer.provider is required (use \"none\" for text-only)")
	}
	if strings.TrimSpace(c.Vendors.Player.Provider) == "" {
		return fmt.Errorf("vendors.player.provider is required")
	}
	if c.History.SentEntries > c.History.MaxEntries && c.History.MaxEntries > 0 {
		return fmt.Errorf("history.sent_entries must not exceed history.max_entries")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
