// Command voxrelay is the voice-conversation relay server: it bridges a
// browser microphone stream to streaming speech recognition, text
// generation and speech synthesis, one WebSocket session per client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/relay"
	"github.com/MrWong99/voxrelay/internal/server"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voxrelay/pkg/provider/llm/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/lookup"
	"github.com/MrWong99/voxrelay/pkg/provider/lookup/newsapi"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/assemblyai"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/murf"
)

// shutdownTimeout bounds graceful HTTP shutdown after a termination signal.
const shutdownTimeout = 15 * time.Second

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
			fmt.Fprintf(os.Stderr, "voxrelay: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	slog.Info("voxrelay starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxrelay",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Session handler ───────────────────────────────────────────────────────
	handler := server.New(buildFactories(cfg),
		server.WithFallbackCredentials(relay.Credentials{
			Recognition: cfg.Providers.Recognition.APIKey,
			Generation:  cfg.Providers.Generation.APIKey,
			Synthesis:   cfg.Providers.Synthesis.APIKey,
			Lookup:      cfg.Providers.Lookup.APIKey,
		}),
		server.WithVoice(voiceProfile(cfg)),
		server.WithStreamConfig(streamConfig(cfg)),
		server.WithLoopOptions(loopOptions(cfg)...),
		server.WithOriginPatterns([]string{"*"}),
		server.WithMetrics(metrics),
	)

	// ── Routes ────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(readinessChecks(cfg)...).Register(mux)
	if cfg.Server.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.Server.StaticDir)))
		slog.Info("serving static frontend", "dir", cfg.Server.StaticDir)
	}

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down")
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildFactories wires the per-session provider factories from the static
// config. Each factory binds a session credential to a fresh provider.
func buildFactories(cfg *config.Config) server.Providers {
	return server.Providers{
		Recognition: func(apiKey string) (stt.Provider, error) {
			var opts []assemblyai.Option
			if cfg.Providers.Recognition.Endpoint != "" {
				opts = append(opts, assemblyai.WithEndpoint(cfg.Providers.Recognition.Endpoint))
			}
			if cfg.Providers.Recognition.SampleRate > 0 {
				opts = append(opts, assemblyai.WithSampleRate(cfg.Providers.Recognition.SampleRate))
			}
			return assemblyai.New(apiKey, opts...)
		},
		Generation: func(apiKey string) (llm.Provider, error) {
			return buildGeneration(cfg.Providers.Generation, apiKey)
		},
		Synthesis: func(apiKey string) (tts.Provider, error) {
			var opts []murf.Option
			if cfg.Providers.Synthesis.Endpoint != "" {
				opts = append(opts, murf.WithEndpoint(cfg.Providers.Synthesis.Endpoint))
			}
			return murf.New(apiKey, opts...)
		},
		Lookup: func(apiKey string) (lookup.Provider, error) {
			var opts []newsapi.Option
			if cfg.Providers.Lookup.BaseURL != "" {
				opts = append(opts, newsapi.WithBaseURL(cfg.Providers.Lookup.BaseURL))
			}
			return newsapi.New(apiKey, opts...)
		},
	}
}

// buildGeneration selects the generation backend. "openai" uses the direct
// OpenAI client; everything else goes through the any-llm multiplexer with
// Gemini as the default.
func buildGeneration(gc config.GenerationConfig, apiKey string) (llm.Provider, error) {
	backend := gc.Backend
	if backend == "" {
		backend = "gemini"
	}
	model := gc.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	if backend == "openai" {
		var opts []oallm.Option
		if gc.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(gc.BaseURL))
		}
		return oallm.New(apiKey, model, opts...)
	}

	opts := []anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}
	if gc.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(gc.BaseURL))
	}
	return anyllm.New(backend, model, opts...)
}

// voiceProfile maps the synthesis config onto the voice sent in the
// one-time voice-configuration message.
func voiceProfile(cfg *config.Config) tts.VoiceProfile {
	sc := cfg.Providers.Synthesis
	vp := tts.VoiceProfile{
		ID:        sc.VoiceID,
		Style:     sc.Style,
		Rate:      sc.Rate,
		Pitch:     sc.Pitch,
		Variation: sc.Variation,
	}
	if vp.ID == "" {
		vp.ID = "en-US-amara"
	}
	if vp.Style == "" {
		vp.Style = "Conversational"
	}
	if vp.Variation == 0 {
		vp.Variation = 1
	}
	return vp
}

// streamConfig maps the recognition config onto the stream parameters.
func streamConfig(cfg *config.Config) stt.StreamConfig {
	sc := stt.StreamConfig{
		SampleRate:  cfg.Providers.Recognition.SampleRate,
		FormatTurns: true,
	}
	if sc.SampleRate == 0 {
		sc.SampleRate = 16000
	}
	return sc
}

// loopOptions maps the relay tuning config onto orchestration loop options.
func loopOptions(cfg *config.Config) []relay.LoopOption {
	var opts []relay.LoopOption
	if cfg.Providers.Generation.Persona != "" {
		opts = append(opts, relay.WithPersona(cfg.Providers.Generation.Persona))
	}
	if cfg.Relay.WordLimit > 0 {
		opts = append(opts, relay.WithWordLimit(cfg.Relay.WordLimit))
	}
	if cfg.Relay.ChunkBudget > 0 {
		opts = append(opts, relay.WithChunkBudget(cfg.Relay.ChunkBudget))
	}
	if len(cfg.Relay.LookupTriggers) > 0 {
		opts = append(opts, relay.WithLookupTriggers(cfg.Relay.LookupTriggers))
	}
	if cfg.Relay.LookupLimit > 0 {
		opts = append(opts, relay.WithLookupLimit(cfg.Relay.LookupLimit))
	}
	return opts
}

// readinessChecks builds the /readyz checker set: static assets when
// configured and lookup-service reachability when a server-side credential
// is present.
func readinessChecks(cfg *config.Config) []health.Checker {
	checks := []health.Checker{
		{
			Name: "config",
			Check: func(context.Context) error {
				if cfg.Server.StaticDir == "" {
					return nil
				}
				info, err := os.Stat(cfg.Server.StaticDir)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					return fmt.Errorf("static_dir %q is not a directory", cfg.Server.StaticDir)
				}
				return nil
			},
		},
	}

	if cfg.Providers.Lookup.APIKey != "" {
		checks = append(checks, health.Checker{
			Name: "lookup",
			Check: func(ctx context.Context) error {
				p, err := newsapiProvider(cfg)
				if err != nil {
					return err
				}
				_, err = p.Search(ctx, "health", 1)
				return err
			},
		})
	}
	return checks
}

func newsapiProvider(cfg *config.Config) (lookup.Provider, error) {
	var opts []newsapi.Option
	if cfg.Providers.Lookup.BaseURL != "" {
		opts = append(opts, newsapi.WithBaseURL(cfg.Providers.Lookup.BaseURL))
	}
	return newsapi.New(cfg.Providers.Lookup.APIKey, opts...)
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
