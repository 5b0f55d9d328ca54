// Package dbagent implements the agent-mode [backend.ReasoningBackend]: a
// tool-using ReAct loop that lets the LLM call MCP tools on the caller's
// behalf before producing a final reply, with a confirm/ask-user escape
// hatch for actions that must survive across turns (e.g. a pending
// booking awaiting the user's yes/no).
package dbagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nilstrand/voicegate/internal/backend"
	"github.com/nilstrand/voicegate/internal/mcp"
	"github.com/nilstrand/voicegate/internal/mcp/tier"
	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/internal/transcript"
	"github.com/nilstrand/voicegate/pkg/provider/llm"
	"github.com/nilstrand/voicegate/pkg/types"
)

const (
	// maxToolIterations bounds the ReAct loop so a model that never stops
	// requesting tools cannot hang a turn forever.
	maxToolIterations = 10

	// toolExecTimeout bounds each individual MCP tool call.
	toolExecTimeout = 30 * time.Second

	// confirmToolName is the conventional tool an MCP server exposes to
	// request user confirmation before a write action. The agent treats it
	// specially: rather than executing it like any other tool, it ends the
	// turn with the confirmation question and stashes the pending action.
	confirmToolName = "confirm_action"

	// askUserToolName is the conventional tool used when the agent needs a
	// missing piece of information from the user before it can proceed.
	askUserToolName = "ask_user"

	fallbackNoProgress = "I wasn't able to complete that request. Please try again."
)

// PendingAction is the cross-turn state carried in
// [session.Session.Variables] under the "pending_booking" key whenever a
// turn ends on a confirmation question or a follow-up question instead of
// a completed action.
type PendingAction struct {
	// AwaitingConfirmation is true when the user must answer yes/no before
	// ToolName is actually invoked.
	AwaitingConfirmation bool

	// Summary is the natural-language description of the pending action,
	// or the question asked of the user when AwaitingConfirmation is false.
	Summary string

	// ToolName is the tool to call once the user confirms.
	ToolName string

	// Arguments is the JSON-encoded argument set to call ToolName with.
	Arguments string
}

// Agent is the agent-mode ReasoningBackend. It drives a synchronous
// tool-calling loop against an LLM, offering it the tool catalogue an
// [mcp.Host] exposes at a budget tier chosen per turn.
type Agent struct {
	llm          llm.Provider
	host         mcp.Host
	defaultTier  mcp.BudgetTier
	selector     *tier.Selector
	systemPrompt string
}

// Compile-time interface assertion.
var _ backend.ReasoningBackend = (*Agent)(nil)

// New returns an Agent that calls provider with tools drawn from host at
// defaultTier. systemPrompt is the agent's base instruction, prepended to
// every turn ahead of conversation history.
//
// defaultTier is used for every turn until [Agent.SetTierSelector] installs a
// [tier.Selector]; once installed, the tier is chosen per turn from the
// utterance text instead, with no override, and defaultTier is no longer
// consulted.
func New(provider llm.Provider, host mcp.Host, defaultTier mcp.BudgetTier, systemPrompt string) *Agent {
	return &Agent{llm: provider, host: host, defaultTier: defaultTier, systemPrompt: systemPrompt}
}

// SetTierSelector installs a heuristic tier selector. Once set, each call to
// [Agent.AnswerOnce] chooses its MCP budget tier from the utterance text via
// s.Select instead of always using the tier New was constructed with.
func (a *Agent) SetTierSelector(s *tier.Selector) {
	a.selector = s
}

// StreamTokens implements [backend.ReasoningBackend]; agent mode never
// calls it — it always runs synchronously via [Agent.AnswerOnce].
func (a *Agent) StreamTokens(ctx context.Context, req backend.PromptRequest) (<-chan string, error) {
	return nil, backend.ErrUnsupported
}

// AnswerOnce implements [backend.ReasoningBackend]. It normalizes query,
// folds pending (expected to be a [PendingAction] or nil) into the prompt,
// then runs the ReAct tool loop until the model produces a text-only
// reply, a confirm/ask-user tool short-circuits the turn, or
// maxToolIterations is exhausted.
func (a *Agent) AnswerOnce(ctx context.Context, query string, history []session.Exchange, pending any) (string, any, error) {
	normalized := transcript.Normalize(query)
	pendingAction := decodePending(pending)

	userText := normalized
	if pendingAction.AwaitingConfirmation {
		userText = fmt.Sprintf(
			"%s\n[AWAITING CONFIRMATION — %s. If the user confirmed (yes / correct / go ahead), "+
				"call %s with EXACTLY these arguments: %s. If declined, tell them the action was "+
				"cancelled and do not call any write tool.]",
			normalized, pendingAction.Summary, pendingAction.ToolName, pendingAction.Arguments,
		)
	} else if pendingAction.Summary != "" {
		userText = fmt.Sprintf("%s\n[IN PROGRESS — %s]", normalized, pendingAction.Summary)
	}

	messages := buildMessages(a.systemPrompt, history, userText)
	tools := convertTools(a.host.AvailableTools(a.resolveTier(userText)))

	for i := 0; i < maxToolIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", nil, fmt.Errorf("dbagent: %w", err)
		}

		resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
			Messages:    messages,
			Tools:       tools,
			Temperature: 0.1,
		})
		if err != nil {
			return "", nil, fmt.Errorf("dbagent: complete: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				text = "Done."
			}
			return text, nil, nil
		}

		messages = append(messages, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		var nextPending *PendingAction
		var shortCircuit string

		for _, tc := range resp.ToolCalls {
			switch tc.Name {
			case confirmToolName:
				summary := extractField(tc.Arguments, "summary")
				if summary == "" {
					summary = "the pending action"
				}
				nextPending = &PendingAction{
					AwaitingConfirmation: true,
					Summary:              summary,
					ToolName:             inverseConfirmTarget(tc.Arguments),
					Arguments:            tc.Arguments,
				}
				shortCircuit = summary
				messages = append(messages, types.Message{
					Role: "tool", Content: "Confirmation question sent to user.", ToolCallID: tc.ID,
				})

			case askUserToolName:
				question := extractField(tc.Arguments, "question")
				nextPending = &PendingAction{Summary: question, Arguments: tc.Arguments}
				shortCircuit = question
				messages = append(messages, types.Message{
					Role: "tool", Content: "Question forwarded to user.", ToolCallID: tc.ID,
				})

			default:
				content := a.executeTool(ctx, tc.Name, tc.Arguments)
				messages = append(messages, types.Message{
					Role: "tool", Content: content, ToolCallID: tc.ID,
				})
			}
		}

		if shortCircuit != "" {
			var next any
			if nextPending != nil {
				next = *nextPending
			}
			return shortCircuit, next, nil
		}
	}

	return fallbackNoProgress, nil, nil
}

// resolveTier picks the MCP budget tier for one turn. With no selector
// installed it always returns the tier New was constructed with; otherwise
// it asks the selector to read the tier off the utterance text and records
// the turn so the selector's first-turn and anti-spam heuristics advance.
func (a *Agent) resolveTier(userText string) mcp.BudgetTier {
	if a.selector == nil {
		return a.defaultTier
	}
	t := a.selector.Select(userText, 0)
	a.selector.RecordTurn()
	return t
}

// executeTool calls name via the MCP host, bounding the call with
// toolExecTimeout since the ReAct loop otherwise has no per-call deadline.
// Both transport failures and application-level tool errors are folded
// into the returned content string so the model can see and react to them
// on its next turn, rather than aborting the whole reply.
func (a *Agent) executeTool(ctx context.Context, name, args string) string {
	tctx, cancel := context.WithTimeout(ctx, toolExecTimeout)
	defer cancel()

	result, err := a.host.ExecuteTool(tctx, name, args)
	if err != nil {
		slog.Warn("dbagent: tool execution failed", "tool", name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return result.Content
}

// buildMessages assembles the ordered message list for the completion
// request: system prompt, the last four history exchanges, then the
// current turn.
func buildMessages(systemPrompt string, history []session.Exchange, userText string) []types.Message {
	const maxHistoryTurns = 4
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	msgs := make([]types.Message, 0, len(history)*2+2)
	if systemPrompt != "" {
		msgs = append(msgs, types.Message{Role: "system", Content: systemPrompt})
	}
	for _, ex := range history {
		msgs = append(msgs, types.Message{Role: "user", Content: ex.UserText})
		msgs = append(msgs, types.Message{Role: "assistant", Content: ex.AssistantText})
	}
	msgs = append(msgs, types.Message{Role: "user", Content: userText})
	return msgs
}

// convertTools adapts the MCP host's tool catalogue type to the one
// [llm.CompletionRequest.Tools] expects. The two types carry identical
// fields; no information is lost in the conversion.
func convertTools(defs []llm.ToolDefinition) []types.ToolDefinition {
	out := make([]types.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = types.ToolDefinition{
			Name:                d.Name,
			Description:         d.Description,
			Parameters:          d.Parameters,
			EstimatedDurationMs: d.EstimatedDurationMs,
			MaxDurationMs:       d.MaxDurationMs,
			Idempotent:          d.Idempotent,
			CacheableSeconds:    d.CacheableSeconds,
		}
	}
	return out
}

// decodePending recovers a PendingAction from the session's "pending_booking"
// variable. The round trip through a JSON-backed session store (see
// internal/session.RedisStore) means pending arrives back as a
// map[string]any rather than the concrete type it was stored as, so a bare
// type assertion would silently lose state across reconnects; re-marshal and
// decode instead.
func decodePending(pending any) PendingAction {
	var pa PendingAction
	if pending == nil {
		return pa
	}
	if concrete, ok := pending.(PendingAction); ok {
		return concrete
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return pa
	}
	_ = json.Unmarshal(raw, &pa)
	return pa
}

// extractField pulls a single string field out of a JSON-encoded tool
// argument object, returning "" if the field is absent or args is not a
// valid JSON object.
func extractField(args, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		return ""
	}
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// inverseConfirmTarget extracts the tool the model intends to call once
// confirmed, conventionally carried in confirm_action's "action_type"
// field (e.g. "insert" -> "insert_document").
func inverseConfirmTarget(args string) string {
	actionType := extractField(args, "action_type")
	if actionType == "" {
		return ""
	}
	return actionType + "_document"
}
