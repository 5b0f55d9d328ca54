// Command glyphoxa is the main entry point for the voicegate real-time voice
// gateway.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nilstrand/voicegate/internal/backend"
	"github.com/nilstrand/voicegate/internal/config"
	"github.com/nilstrand/voicegate/internal/dbagent"
	"github.com/nilstrand/voicegate/internal/gateway"
	"github.com/nilstrand/voicegate/internal/health"
	"github.com/nilstrand/voicegate/internal/mcp"
	"github.com/nilstrand/voicegate/internal/mcp/mcphost"
	"github.com/nilstrand/voicegate/internal/mcp/tier"
	"github.com/nilstrand/voicegate/internal/observe"
	"github.com/nilstrand/voicegate/internal/reply"
	"github.com/nilstrand/voicegate/internal/retrieval"
	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/internal/ttspool"
	"github.com/nilstrand/voicegate/pkg/memory/postgres"
	"github.com/nilstrand/voicegate/pkg/provider/embeddings"
	embollama "github.com/nilstrand/voicegate/pkg/provider/embeddings/ollama"
	embopenai "github.com/nilstrand/voicegate/pkg/provider/embeddings/openai"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/nilstrand/voicegate/pkg/provider/llm"
	"github.com/nilstrand/voicegate/pkg/provider/llm/anyllm"
	llmopenai "github.com/nilstrand/voicegate/pkg/provider/llm/openai"
	"github.com/nilstrand/voicegate/pkg/provider/stt"
	sttdeepgram "github.com/nilstrand/voicegate/pkg/provider/stt/deepgram"
	sttmock "github.com/nilstrand/voicegate/pkg/provider/stt/mock"
	sttwhisper "github.com/nilstrand/voicegate/pkg/provider/stt/whisper"
	"github.com/nilstrand/voicegate/pkg/provider/tts"
	ttscoqui "github.com/nilstrand/voicegate/pkg/provider/tts/coqui"
	ttselevenlabs "github.com/nilstrand/voicegate/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/nilstrand/voicegate/pkg/provider/tts/mock"
)

const dbAgentSystemPrompt = "You are a helpful assistant that answers questions by querying the connected database tools. Be concise."

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
			fmt.Fprintf(os.Stderr, "glyphoxa: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glyphoxa: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("glyphoxa starting",
		"config", *configPath,
		"listen_addr", cfg.Gateway.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicegate"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Session store ─────────────────────────────────────────────────────────
	// Wrapped in a Guard regardless of whether Redis is configured: with no
	// redis_addr the client still constructs (go-redis defaults to
	// localhost:6379), and every call simply fails over to the Guard's
	// in-memory cache instead of refusing to start.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})
	store := session.NewGuard(session.NewRedisStore(redisClient, cfg.Session.HistoryCap, cfg.Session.IdleTTL))

	// ── Retrieval (document mode) ─────────────────────────────────────────────
	var retriever *retrieval.Retriever
	var docLister gateway.DocumentLister
	if cfg.Retrieval.PostgresDSN != "" && providers.Embeddings != nil {
		dims := cfg.Retrieval.EmbeddingDimensions
		if dims <= 0 {
			dims = 1536
		}
		index, err := postgres.NewIndex(ctx, cfg.Retrieval.PostgresDSN, dims)
		if err != nil {
			slog.Error("failed to open semantic index", "err", err)
			return 1
		}
		retriever = retrieval.New(index, providers.Embeddings)
		docLister = index
	} else {
		slog.Warn("document-mode retrieval is unavailable; retrieval.postgres_dsn or providers.embeddings is unset")
	}

	// ── MCP host (agent mode) ─────────────────────────────────────────────────
	mcpHost := mcphost.New()
	defer mcpHost.Close()
	for _, srv := range cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{Name: srv.Name, Transport: srv.Transport, Command: srv.Command, URL: srv.URL, Env: srv.Env}
		if err := mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			slog.Error("failed to register mcp server", "name", srv.Name, "err", err)
			return 1
		}
	}
	if len(cfg.MCP.Servers) > 0 {
		if err := mcpHost.Calibrate(ctx); err != nil {
			slog.Warn("mcp tool calibration failed; tools retain declared tiers", "err", err)
		}
	}

	// ── Reasoning backends ────────────────────────────────────────────────────
	backends := map[reply.Mode]backend.ReasoningBackend{}
	if providers.LLM != nil {
		backends[reply.ModeGeneral] = backend.NewGeneral(providers.LLM)
		if retriever != nil {
			backends[reply.ModeDocument] = backend.NewDocument(providers.LLM, retriever)
		}
		if len(cfg.MCP.Servers) > 0 {
			agent := dbagent.New(providers.LLM, mcpHost, mcp.BudgetStandard, dbAgentSystemPrompt)
			agent.SetTierSelector(tier.NewSelector())
			backends[reply.ModeAgent] = agent
		}
	}

	// ── TTS pool and reply pipeline ───────────────────────────────────────────
	// The pool always dispatches jobs unconditionally even with no backends
	// registered, so it needs a provider even when providers.tts is
	// unconfigured; fall back to a silent synthesizer rather than crash the
	// first connection that tries to speak.
	ttsProvider := providers.TTS
	if ttsProvider == nil {
		slog.Warn("no tts provider configured; replies will be synthesized as silence")
		ttsProvider = &ttsmock.Provider{SynthesizeChunks: nil}
	}
	pool := ttspool.New(ttsProvider, cfg.Gateway.TTSWorkerPoolSize)
	pipeline := reply.New(backends, pool, store, cfg.Gateway.OrderingGateGapGrace)

	// ── Gateway ───────────────────────────────────────────────────────────────
	sttProvider := providers.STT
	if sttProvider == nil {
		slog.Warn("no stt provider configured; start_stream will never produce a transcript")
		sttProvider = &sttmock.Provider{}
	}
	deps := gateway.Deps{
		STT: sttProvider,
		STTConfig: stt.StreamConfig{
			SampleRate: 48000,
			Channels:   1,
		},
		Pipeline:  pipeline,
		Sessions:  store,
		Documents: docLister,
		Config:    cfg.Gateway,
	}
	gwHandler := gateway.NewHandler(deps)

	mux := http.NewServeMux()
	gwHandler.Register(mux, "/ws")

	gwServer := &http.Server{Addr: cfg.Gateway.ListenAddr, Handler: mux}

	adminMux := http.NewServeMux()
	healthHandler := health.New(health.Checker{
		Name: "session_store",
		Check: func(ctx context.Context) error {
			_, err := store.GetOrCreate(ctx, "healthcheck")
			return err
		},
	})
	healthHandler.Register(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())

	var adminServer *http.Server
	errCh := make(chan error, 2)

	go func() {
		slog.Info("gateway listening", "addr", cfg.Gateway.ListenAddr)
		if err := gwServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
			return
		}
		errCh <- nil
	}()

	if cfg.Server.MetricsAddr != "" {
		adminServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: adminMux}
		go func() {
			slog.Info("admin server listening", "addr", cfg.Server.MetricsAddr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin server: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	var shutdownErrs []error
	if err := gwServer.Shutdown(shutdownCtx); err != nil {
		shutdownErrs = append(shutdownErrs, err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrs = append(shutdownErrs, err)
		}
	}
	if err := errors.Join(shutdownErrs...); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// Providers holds the instantiated provider for each pipeline stage. A nil
// field means no provider was configured (or its factory is not yet
// registered) and the corresponding reply mode is unavailable.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// registerBuiltinProviders registers every provider implementation that
// ships with voicegate under the name an operator would select in
// providers.*.name.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return llmopenai.New(e.APIKey, e.Model, llmOptions(e)...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, anyllmFactory(name))
	}
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		backendName, _ := e.Options["backend"].(string)
		return anyllm.New(backendName, e.Model, anyllmOptions(e)...)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []sttdeepgram.Option{}
		if e.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(e.Model))
		}
		if lang, ok := e.Options["language"].(string); ok && lang != "" {
			opts = append(opts, sttdeepgram.WithLanguage(lang))
		}
		if rate, ok := intOption(e.Options, "sample_rate"); ok {
			opts = append(opts, sttdeepgram.WithSampleRate(rate))
		}
		return sttdeepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []sttwhisper.Option{}
		if e.Model != "" {
			opts = append(opts, sttwhisper.WithModel(e.Model))
		}
		if lang, ok := e.Options["language"].(string); ok && lang != "" {
			opts = append(opts, sttwhisper.WithLanguage(lang))
		}
		if rate, ok := intOption(e.Options, "sample_rate"); ok {
			opts = append(opts, sttwhisper.WithSampleRate(rate))
		}
		return sttwhisper.New(e.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath, _ := e.Options["model_path"].(string)
		if modelPath == "" {
			modelPath = e.Model
		}
		return sttwhisper.NewNative(modelPath)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []ttselevenlabs.Option{}
		if e.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(e.Model))
		}
		if format, ok := e.Options["output_format"].(string); ok && format != "" {
			opts = append(opts, ttselevenlabs.WithOutputFormat(format))
		}
		return ttselevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []ttscoqui.Option{}
		if lang, ok := e.Options["language"].(string); ok && lang != "" {
			opts = append(opts, ttscoqui.WithLanguage(lang))
		}
		if rate, ok := intOption(e.Options, "output_sample_rate"); ok {
			opts = append(opts, ttscoqui.WithOutputSampleRate(rate))
		}
		return ttscoqui.New(e.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []embopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(e.BaseURL))
		}
		return embopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		opts := []embollama.Option{}
		if dims, ok := intOption(e.Options, "dimensions"); ok {
			opts = append(opts, embollama.WithDimensions(dims))
		}
		return embollama.New(e.BaseURL, e.Model, opts...)
	})
}

// anyllmFactory returns a registry factory that dispatches to the any-llm-go
// backed provider constructor matching name (anthropic, gemini, ollama, ...).
func anyllmFactory(name string) func(config.ProviderEntry) (llm.Provider, error) {
	return func(e config.ProviderEntry) (llm.Provider, error) {
		opts := anyllmOptions(e)
		switch name {
		case "anthropic":
			return anyllm.NewAnthropic(e.Model, opts...)
		case "gemini":
			return anyllm.NewGemini(e.Model, opts...)
		case "ollama":
			return anyllm.NewOllama(e.Model, opts...)
		case "deepseek":
			return anyllm.NewDeepSeek(e.Model, opts...)
		case "mistral":
			return anyllm.NewMistral(e.Model, opts...)
		case "groq":
			return anyllm.NewGroq(e.Model, opts...)
		case "llamacpp":
			return anyllm.NewLlamaCpp(e.Model, opts...)
		case "llamafile":
			return anyllm.NewLlamaFile(e.Model, opts...)
		default:
			return anyllm.New(name, e.Model, opts...)
		}
	}
}

func llmOptions(e config.ProviderEntry) []llmopenai.Option {
	var opts []llmopenai.Option
	if e.BaseURL != "" {
		opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
	}
	if org, ok := e.Options["organization"].(string); ok && org != "" {
		opts = append(opts, llmopenai.WithOrganization(org))
	}
	return opts
}

func intOption(options map[string]any, key string) (int, bool) {
	switch v := options[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// buildProviders instantiates every provider named in cfg using reg. A
// provider category left unconfigured, or named but not yet registered, is
// silently skipped — the corresponding reply mode is then unavailable.
func buildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("tts provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicegate — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Gateway.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func anyllmOptions(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}
