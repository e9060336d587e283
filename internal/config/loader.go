package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidAdapterNames lists known adapter names per capability kind.
// Used by [Validate] to warn about unrecognised adapter types.
var ValidAdapterNames = map[string][]string{
	"vad": {"energy"},
	"asr": {"whisper", "whisper-native"},
	"llm": {"anyllm", "openai"},
	"tts": {"elevenlabs", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies dialog defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Dialog.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Global.LogLevel != "" && !cfg.Global.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("global_settings.log_level %q is invalid; valid values: DEBUG, INFO, WARNING, ERROR", cfg.Global.LogLevel))
	}

	if cfg.Transport.Port < 0 || cfg.Transport.Port > 65535 {
		errs = append(errs, fmt.Errorf("transport.port %d is out of range [0, 65535]", cfg.Transport.Port))
	}
	if cfg.Transport.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("transport.max_message_size %d must not be negative", cfg.Transport.MaxMessageSize))
	}

	validateModule(&errs, "vad", cfg.Modules.VAD)
	validateModule(&errs, "asr", cfg.Modules.ASR)
	validateModule(&errs, "llm", cfg.Modules.LLM)
	validateModule(&errs, "tts", cfg.Modules.TTS)

	if !cfg.Modules.LLM.Enabled {
		slog.Warn("modules.llm is disabled; the server cannot generate replies")
	}
	if cfg.Modules.VAD.Enabled && !cfg.Modules.ASR.Enabled {
		errs = append(errs, errors.New("modules.vad is enabled but modules.asr is disabled; voice input requires ASR"))
	}

	if cfg.Activation.EnablePromptActivation && len(cfg.Activation.ActivationKeywords) == 0 {
		errs = append(errs, errors.New("activation_settings.enable_prompt_activation requires at least one activation keyword"))
	}
	if cfg.Activation.ActivationTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("activation_settings.activation_timeout_seconds %d must not be negative", cfg.Activation.ActivationTimeoutSeconds))
	}

	if cfg.Dialog.SpeechThreshold < 0 || cfg.Dialog.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("dialog.speech_threshold %.2f is out of range [0, 1]", cfg.Dialog.SpeechThreshold))
	}
	if cfg.Dialog.EOSSilenceMs > cfg.Dialog.MaxSegmentMs {
		slog.Warn("dialog.eos_silence_ms exceeds dialog.max_segment_ms; segments will always be force-closed",
			"eos_silence_ms", cfg.Dialog.EOSSilenceMs,
			"max_segment_ms", cfg.Dialog.MaxSegmentMs,
		)
	}

	return errors.Join(errs...)
}

// validateModule checks one capability module block.
func validateModule(errs *[]error, kind string, m ModuleConfig) {
	if !m.Enabled {
		return
	}
	if m.AdapterType == "" {
		*errs = append(*errs, fmt.Errorf("modules.%s.adapter_type is required when the module is enabled", kind))
		return
	}
	known, ok := ValidAdapterNames[kind]
	if ok && !slices.Contains(known, m.AdapterType) {
		slog.Warn("unknown adapter type — may be a typo or third-party adapter",
			"kind", kind,
			"adapter_type", m.AdapterType,
			"known", known,
		)
	}
}

// ResolveAPIKey reads the secret named by the api_key_env_var option. Returns
// an empty string when the option or the variable is unset.
func ResolveAPIKey(opts AdapterOptions) string {
	envVar := opts.String("api_key_env_var", "")
	if envVar == "" {
		return ""
	}
	key := os.Getenv(envVar)
	if key == "" {
		slog.Warn("api_key_env_var names an unset environment variable", "env_var", envVar)
	}
	return key
}
