// Command voxhall is the real-time voice dialog server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/dialog"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/server"
	"github.com/voxhall/voxhall/pkg/provider/asr"
	"github.com/voxhall/voxhall/pkg/provider/asr/whisper"
	"github.com/voxhall/voxhall/pkg/provider/llm"
	"github.com/voxhall/voxhall/pkg/provider/llm/anyllm"
	oaillm "github.com/voxhall/voxhall/pkg/provider/llm/openai"
	"github.com/voxhall/voxhall/pkg/provider/tts"
	"github.com/voxhall/voxhall/pkg/provider/tts/elevenlabs"
	oaitts "github.com/voxhall/voxhall/pkg/provider/tts/openai"
	"github.com/voxhall/voxhall/pkg/provider/vad"
	"github.com/voxhall/voxhall/pkg/provider/vad/energy"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxhall: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxhall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Global.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxhall starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Global.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxhall",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Adapter registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinAdapters(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, newDetector, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	srv := server.New(server.Options{
		Config:      cfg,
		Providers:   providers,
		NewDetector: newDetector,
		Metrics:     metrics,
		LogLevel:    logLevel,
		Logger:      logger,
	})

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Adapter wiring ────────────────────────────────────────────────────────────

// registerBuiltinAdapters wires the adapters that ship with voxhall into reg.
// Each factory reads its settings from the adapter's option map; API keys are
// resolved from the environment variable named by api_key_env_var.
func registerBuiltinAdapters(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(m config.ModuleConfig) (vad.Detector, error) {
		opts := m.Options()
		return energy.New(energy.Config{
			MinVolume: opts.Float("min_volume", 0),
		}), nil
	})

	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("whisper", func(m config.ModuleConfig) (asr.Recognizer, error) {
		opts := m.Options()
		var wOpts []whisper.Option
		if model := opts.String("model", ""); model != "" {
			wOpts = append(wOpts, whisper.WithModel(model))
		}
		if lang := opts.String("language", ""); lang != "" {
			wOpts = append(wOpts, whisper.WithLanguage(lang))
		}
		return whisper.New(opts.String("server_url", ""), wOpts...)
	})

	reg.RegisterASR("whisper-native", func(m config.ModuleConfig) (asr.Recognizer, error) {
		opts := m.Options()
		var wOpts []whisper.NativeOption
		if lang := opts.String("language", ""); lang != "" {
			wOpts = append(wOpts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(opts.String("model_path", ""), wOpts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("anyllm", func(m config.ModuleConfig) (llm.Provider, error) {
		opts := m.Options()
		var aOpts []anyllmlib.Option
		if key := config.ResolveAPIKey(opts); key != "" {
			aOpts = append(aOpts, anyllmlib.WithAPIKey(key))
		}
		if base := opts.String("base_url", ""); base != "" {
			aOpts = append(aOpts, anyllmlib.WithBaseURL(base))
		}
		return anyllm.New(opts.String("backend", "openai"), opts.String("model", ""), aOpts...)
	})

	reg.RegisterLLM("openai", func(m config.ModuleConfig) (llm.Provider, error) {
		opts := m.Options()
		var oOpts []oaillm.Option
		if base := opts.String("base_url", ""); base != "" {
			oOpts = append(oOpts, oaillm.WithBaseURL(base))
		}
		return oaillm.New(config.ResolveAPIKey(opts), opts.String("model", "gpt-4o-mini"), oOpts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(m config.ModuleConfig) (tts.Synthesizer, error) {
		opts := m.Options()
		var eOpts []elevenlabs.Option
		if model := opts.String("model", ""); model != "" {
			eOpts = append(eOpts, elevenlabs.WithModel(model))
		}
		if voice := opts.String("voice", ""); voice != "" {
			eOpts = append(eOpts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(config.ResolveAPIKey(opts), eOpts...)
	})

	reg.RegisterTTS("openai", func(m config.ModuleConfig) (tts.Synthesizer, error) {
		opts := m.Options()
		var oOpts []oaitts.Option
		if model := opts.String("model", ""); model != "" {
			oOpts = append(oOpts, oaitts.WithModel(model))
		}
		if voice := opts.String("voice", ""); voice != "" {
			oOpts = append(oOpts, oaitts.WithVoice(voice))
		}
		if base := opts.String("base_url", ""); base != "" {
			oOpts = append(oOpts, oaitts.WithBaseURL(base))
		}
		return oaitts.New(config.ResolveAPIKey(opts), oOpts...)
	})
}

// buildProviders instantiates every enabled module. The VAD comes back as a
// factory because each session needs its own detector state.
func buildProviders(cfg *config.Config, reg *config.Registry) (dialog.Providers, func() vad.Detector, error) {
	var providers dialog.Providers
	var newDetector func() vad.Detector

	if cfg.Modules.VAD.Enabled {
		// Build one up front so a misconfigured adapter fails at startup, not
		// on the first connection.
		if _, err := reg.CreateVAD(cfg.Modules.VAD); err != nil {
			return providers, nil, fmt.Errorf("create vad adapter %q: %w", cfg.Modules.VAD.AdapterType, err)
		}
		moduleCfg := cfg.Modules.VAD
		newDetector = func() vad.Detector {
			d, err := reg.CreateVAD(moduleCfg)
			if err != nil {
				slog.Error("per-session vad creation failed", "err", err)
				return nil
			}
			return d
		}
		slog.Info("adapter created", "kind", "vad", "adapter_type", moduleCfg.AdapterType)
	}

	if cfg.Modules.ASR.Enabled {
		p, err := reg.CreateASR(cfg.Modules.ASR)
		if err != nil {
			return providers, nil, fmt.Errorf("create asr adapter %q: %w", cfg.Modules.ASR.AdapterType, err)
		}
		providers.ASR = p
		slog.Info("adapter created", "kind", "asr", "adapter_type", cfg.Modules.ASR.AdapterType)
	}

	if cfg.Modules.LLM.Enabled {
		p, err := reg.CreateLLM(cfg.Modules.LLM)
		if err != nil {
			return providers, nil, fmt.Errorf("create llm adapter %q: %w", cfg.Modules.LLM.AdapterType, err)
		}
		providers.LLM = p
		slog.Info("adapter created", "kind", "llm", "adapter_type", cfg.Modules.LLM.AdapterType)
	}

	if cfg.Modules.TTS.Enabled {
		p, err := reg.CreateTTS(cfg.Modules.TTS)
		if err != nil {
			return providers, nil, fmt.Errorf("create tts adapter %q: %w", cfg.Modules.TTS.AdapterType, err)
		}
		providers.TTS = p
		slog.Info("adapter created", "kind", "tts", "adapter_type", cfg.Modules.TTS.AdapterType)
	}

	return providers, newDetector, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxhall — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printModule("VAD", cfg.Modules.VAD)
	printModule("ASR", cfg.Modules.ASR)
	printModule("LLM", cfg.Modules.LLM)
	printModule("TTS", cfg.Modules.TTS)
	if cfg.Activation.EnablePromptActivation {
		fmt.Printf("║  Activation  : %-22s ║\n", fmt.Sprintf("%d keyword(s)", len(cfg.Activation.ActivationKeywords)))
	} else {
		fmt.Printf("║  Activation  : %-22s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr : %-22s ║\n", fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printModule(kind string, m config.ModuleConfig) {
	value := "(disabled)"
	if m.Enabled {
		value = m.AdapterType
	}
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-10s  : %-22s ║\n", kind, value)
}
