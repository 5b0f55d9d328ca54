// Package config provides the configuration schema, loader, and provider
// registry for the voicegate real-time voice gateway.
package config

import (
	"time"

	"github.com/nilstrand/voicegate/internal/mcp"
)

// Defaults applied by [LoadFromReader] when the corresponding field is unset.
const (
	defaultIdleTTL        = 24 * time.Hour
	defaultGapGrace       = 100 * time.Millisecond
	defaultSTTTimeout     = 5 * time.Second
	defaultRetryBufferCap = 10 * 1024 * 1024 // 10 MiB of buffered PCM/Opus audio
)

// Config is the root configuration structure for the gateway.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// LogLevel controls slog verbosity.
type LogLevel string

// Valid log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the known log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network and logging settings for the gateway process.
type ServerConfig struct {
	// MetricsAddr is the TCP address the /metrics and /healthz, /readyz
	// endpoints are served on. Leave empty to disable.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// GatewayConfig holds per-connection tunables for the Connection FSM and
// the reply pipeline it drives.
type GatewayConfig struct {
	// ListenAddr is the TCP address the websocket gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// AllowedOrigins is the set of Origin header values accepted during auth.
	// An empty list accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// APIKeys is the set of accepted api_key values. In production these would
	// be looked up against an external auth service; for this gateway a static
	// allowlist is sufficient per the scope in spec.md §1.
	APIKeys []string `yaml:"api_keys"`

	// MaxAudioFrameBytes caps the size of a single stt_audio frame.
	MaxAudioFrameBytes int `yaml:"max_audio_frame_bytes"`

	// STTQueueCapacity is decoded and defaulted (400) but not read by the STT
	// bridge, whose ingress audio frame queue always holds 64 frames.
	STTQueueCapacity int `yaml:"stt_queue_capacity"`

	// STTRetryBufferCap is decoded and defaulted (10 MiB) but not read by the
	// STT bridge, whose single-retry replay buffer always has a fixed 10 MiB
	// cap.
	STTRetryBufferCap int `yaml:"stt_retry_buffer_cap"`

	// STTTranscriptTimeout is the soft timeout after end_of_speech before the
	// STT bridge gives up waiting for a transcript (default 5s).
	STTTranscriptTimeout time.Duration `yaml:"stt_transcript_timeout"`

	// TTSWorkerPoolSize bounds concurrent TTS synthesis jobs (default 3).
	TTSWorkerPoolSize int `yaml:"tts_worker_pool_size"`

	// OrderingGateGapGrace is the grace window the ordering gate waits for a
	// missing sequence number before advancing past it (default 100ms).
	OrderingGateGapGrace time.Duration `yaml:"ordering_gate_gap_grace"`

	// Voices is the allowlist of recognized voice identifiers and their
	// SSML gender tag, used to validate start_stream.voice.
	Voices []VoiceEntry `yaml:"voices"`
}

// VoiceEntry pairs a TTS voice identifier with its SSML gender tag.
type VoiceEntry struct {
	ID     string `yaml:"id"`
	Gender string `yaml:"gender"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SessionConfig controls Session Store behaviour (§4.1).
type SessionConfig struct {
	// RedisAddr is the address of the TTL-keyed external store. Empty leaves
	// the go-redis client on its default address (localhost:6379); whenever
	// the store is unreachable, the session Guard serves from its in-memory
	// cache instead.
	RedisAddr string `yaml:"redis_addr"`

	// HistoryCap is the maximum number of {user, assistant} exchanges retained
	// per session (default 5).
	HistoryCap int `yaml:"history_cap"`

	// IdleTTL is how long a session survives with no access before eviction
	// (default 24h).
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// RetrievalConfig holds settings for the document-mode vector retrieval backend.
type RetrievalConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector chunk index.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension used for the embeddings column.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// TopK is decoded and defaulted to 4. The document backend does not read
	// it; it always retrieves a fixed 4 passages per query.
	TopK int `yaml:"top_k"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to
// for the agent-mode database tool backend.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for the http transport.
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is "streamable-http".
	// Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}
