package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/pkg/provider/llm"
)

// defaultTopK is the number of retrieved passages injected into the prompt.
const defaultTopK = 4

// Document answers against a single selected document, augmenting the
// prompt with passages retrieved from the vector backend before streaming
// the completion — retrieval-augmented generation scoped by
// [PromptRequest.DocumentID].
type Document struct {
	llm       llm.Provider
	retriever Retriever
}

// Compile-time interface assertion.
var _ ReasoningBackend = (*Document)(nil)

// NewDocument returns a Document backend over provider, retrieving passages
// via retriever.
func NewDocument(provider llm.Provider, retriever Retriever) *Document {
	return &Document{llm: provider, retriever: retriever}
}

// StreamTokens implements [ReasoningBackend]. A retrieval failure is
// logged and treated as "no passages found" rather than aborting the
// turn — the backend still answers, just without document grounding.
func (d *Document) StreamTokens(ctx context.Context, req PromptRequest) (<-chan string, error) {
	systemPrompt := req.SystemPrompt
	passages, err := d.retriever.Retrieve(ctx, req.UserText, req.DocumentID, defaultTopK)
	if err != nil {
		slog.Warn("backend: document retrieval failed, continuing without passages",
			"document_id", req.DocumentID,
			"error", err,
		)
	} else if len(passages) > 0 {
		systemPrompt += "\n\nRelevant document excerpts:\n" + strings.Join(passages, "\n---\n")
	}

	chunks, err := d.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     buildMessages(req.History, req.UserText),
	})
	if err != nil {
		return nil, fmt.Errorf("backend: document stream completion: %w", err)
	}
	return streamText(ctx, chunks), nil
}

// AnswerOnce implements [ReasoningBackend]; document mode never calls it.
func (d *Document) AnswerOnce(ctx context.Context, query string, history []session.Exchange, pending any) (string, any, error) {
	return "", nil, ErrUnsupported
}
