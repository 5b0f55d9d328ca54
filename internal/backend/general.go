package backend

import (
	"context"
	"fmt"

	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/pkg/provider/llm"
)

// General answers with no retrieval and no tool use: the base case of the
// three reasoning modes. It wraps an [llm.Provider] directly — callers pass
// a [github.com/nilstrand/voicegate/internal/resilience.LLMFallback] here to
// get multi-backend failover for free, since it also satisfies llm.Provider.
type General struct {
	llm llm.Provider
}

// Compile-time interface assertion.
var _ ReasoningBackend = (*General)(nil)

// NewGeneral returns a General backend over provider.
func NewGeneral(provider llm.Provider) *General {
	return &General{llm: provider}
}

// StreamTokens implements [ReasoningBackend].
func (g *General) StreamTokens(ctx context.Context, req PromptRequest) (<-chan string, error) {
	chunks, err := g.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     buildMessages(req.History, req.UserText),
	})
	if err != nil {
		return nil, fmt.Errorf("backend: general stream completion: %w", err)
	}
	return streamText(ctx, chunks), nil
}

// AnswerOnce implements [ReasoningBackend]; general mode never calls it.
func (g *General) AnswerOnce(ctx context.Context, query string, history []session.Exchange, pending any) (string, any, error) {
	return "", nil, ErrUnsupported
}
