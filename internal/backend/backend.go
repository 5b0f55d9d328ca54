// Package backend implements the ReasoningBackend contract the reply
// pipeline depends on, plus the general-purpose and document-mode (RAG)
// backends. The third mode, agent, is implemented by internal/dbagent
// against this same contract.
package backend

import (
	"context"
	"fmt"

	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/pkg/provider/llm"
	"github.com/nilstrand/voicegate/pkg/types"
)

// PromptRequest carries everything a ReasoningBackend needs to build a
// model prompt for one turn.
type PromptRequest struct {
	// SystemPrompt is the backend's base instruction.
	SystemPrompt string

	// History is the session's prior exchanges, oldest first.
	History []session.Exchange

	// UserText is the current turn's transcript.
	UserText string

	// DocumentID scopes retrieval to a single document. Empty for general mode.
	DocumentID string
}

// ReasoningBackend is the capability contract the reply pipeline depends on
// instead of branching on a mode string. General and document mode drive
// StreamTokens; agent mode drives AnswerOnce. A concrete backend that does
// not support one of the two methods returns [ErrUnsupported].
type ReasoningBackend interface {
	// StreamTokens begins a token-by-token completion for req. The returned
	// channel is closed when generation ends or ctx is cancelled.
	StreamTokens(ctx context.Context, req PromptRequest) (<-chan string, error)

	// AnswerOnce performs a single synchronous call for agent mode. pending
	// is the session's carried-over multi-turn variable (e.g. a pending
	// booking awaiting confirmation); nextPending replaces it in session
	// state, or is nil to clear it.
	AnswerOnce(ctx context.Context, query string, history []session.Exchange, pending any) (reply string, nextPending any, err error)
}

// ErrUnsupported is returned by a ReasoningBackend method that the calling
// mode never exercises.
var ErrUnsupported = fmt.Errorf("backend: operation not supported by this backend")

// Retriever narrows document-mode retrieval to the single operation the
// Document backend needs, implemented by internal/retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, query, documentID string, topK int) ([]string, error)
}

// buildMessages turns session history plus the current turn into an
// ordered message list for a [llm.CompletionRequest].
func buildMessages(history []session.Exchange, userText string) []types.Message {
	msgs := make([]types.Message, 0, len(history)*2+1)
	for _, ex := range history {
		msgs = append(msgs, types.Message{Role: "user", Content: ex.UserText})
		msgs = append(msgs, types.Message{Role: "assistant", Content: ex.AssistantText})
	}
	msgs = append(msgs, types.Message{Role: "user", Content: userText})
	return msgs
}

// streamText adapts a [llm.Provider]'s chunk stream into a plain string
// stream, dropping chunks that carry no text (tool calls, bare
// finish-reason markers).
func streamText(ctx context.Context, chunks <-chan llm.Chunk) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Text == "" {
				continue
			}
			select {
			case out <- chunk.Text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
