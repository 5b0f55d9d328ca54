package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/nilstrand/voicegate/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "anyllm", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return applyDefaults(cfg), nil
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return applyDefaults(cfg), nil
}

// applyDefaults fills in the zero-value defaults called out in spec.md
// (session TTL, history cap, worker pool size, etc).
func applyDefaults(cfg *Config) *Config {
	if cfg.Session.HistoryCap <= 0 {
		cfg.Session.HistoryCap = 5
	}
	if cfg.Session.IdleTTL <= 0 {
		cfg.Session.IdleTTL = defaultIdleTTL
	}
	if cfg.Gateway.TTSWorkerPoolSize <= 0 {
		cfg.Gateway.TTSWorkerPoolSize = 3
	}
	if cfg.Gateway.OrderingGateGapGrace <= 0 {
		cfg.Gateway.OrderingGateGapGrace = defaultGapGrace
	}
	if cfg.Gateway.STTTranscriptTimeout <= 0 {
		cfg.Gateway.STTTranscriptTimeout = defaultSTTTimeout
	}
	if cfg.Gateway.STTQueueCapacity <= 0 {
		cfg.Gateway.STTQueueCapacity = 400
	}
	if cfg.Gateway.STTRetryBufferCap <= 0 {
		cfg.Gateway.STTRetryBufferCap = defaultRetryBufferCap
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 4
	}
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Gateway.ListenAddr == "" {
		errs = append(errs, errors.New("gateway.listen_addr is required"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; general and document modes will not be able to generate responses")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; the STT bridge will never produce a transcript")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; replies will never be synthesized")
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Retrieval.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but retrieval.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Retrieval.PostgresDSN == "" {
		slog.Warn("retrieval.postgres_dsn is empty; document mode retrieval will be unavailable")
	}
	if cfg.Session.RedisAddr == "" {
		slog.Warn("session.redis_addr is empty; the session store will try go-redis's default address and serve from memory while it is unreachable")
	}

	for i, v := range cfg.Gateway.Voices {
		prefix := fmt.Sprintf("gateway.voices[%d]", i)
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		}
		if v.Gender != "" && v.Gender != "male" && v.Gender != "female" {
			errs = append(errs, fmt.Errorf("%s.gender %q must be \"male\" or \"female\"", prefix, v.Gender))
		}
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
