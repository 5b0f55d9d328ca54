package llm

// ToolDefinition describes a tool that can be offered to an LLM as part of
// an [internal/mcp.Host]'s tool catalogue. Kept distinct from
// [github.com/nilstrand/voicegate/pkg/types.ToolDefinition] (the type
// [CompletionRequest.Tools] actually carries) because the MCP host's
// catalogue is tier-filtered metadata, not request payload; callers convert
// between the two at the boundary (see internal/dbagent.convertTools).
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any

	// EstimatedDurationMs is the declared p50 latency for budget tier assignment.
	EstimatedDurationMs int

	// MaxDurationMs is the declared p99 upper bound, used as a hard timeout.
	MaxDurationMs int

	// Idempotent indicates whether the tool can be safely retried.
	Idempotent bool

	// CacheableSeconds is how long results can be cached (0 = never).
	CacheableSeconds int
}
