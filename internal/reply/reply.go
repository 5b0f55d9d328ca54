// Package reply implements the top-level per-utterance coordinator: it
// drives a reasoning backend, splits its output into sentences, fans each
// sentence out to the TTS worker pool, and re-serializes the synthesized
// audio through the ordering gate before handing frames to the connection's
// outbound sender.
package reply

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nilstrand/voicegate/internal/backend"
	"github.com/nilstrand/voicegate/internal/ordergate"
	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/internal/splitter"
	"github.com/nilstrand/voicegate/internal/ttspool"
	"github.com/nilstrand/voicegate/internal/wire"
	"github.com/nilstrand/voicegate/pkg/types"
)

// Mode selects which reasoning backend handles a reply.
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeDocument Mode = "document"
	ModeAgent    Mode = "agent"
)

// pendingVariable is the session variable key agent mode uses to carry a
// multi-turn action (e.g. a booking awaiting confirmation) across replies.
const pendingVariable = "pending_booking"

// Sender abstracts the outbound framed connection. The gateway's websocket
// connection implements it so this package never needs to import
// gorilla/websocket directly.
type Sender interface {
	Send(frame []byte) error
}

// Request carries everything one reply needs.
type Request struct {
	Transcript       string
	Mode             Mode
	Voice            types.VoiceProfile
	SelectedDocument string
	SessionID        string
}

// Pipeline runs one reply at a time per invocation of [Pipeline.Run]; the
// gateway is responsible for ensuring only one runs per connection (§4.7).
type Pipeline struct {
	backends map[Mode]backend.ReasoningBackend
	pool     *ttspool.Pool
	sessions session.Store
	gapGrace time.Duration
}

// New returns a Pipeline dispatching to backends by mode, synthesizing
// speech through pool, and reading/writing conversation state through
// sessions. gapGrace configures the ordering gate's grace window.
func New(backends map[Mode]backend.ReasoningBackend, pool *ttspool.Pool, sessions session.Store, gapGrace time.Duration) *Pipeline {
	return &Pipeline{backends: backends, pool: pool, sessions: sessions, gapGrace: gapGrace}
}

// Run executes spec §4.6 for one utterance. It returns once
// `stream_complete` has been sent (or ctx was already cancelled before the
// pipeline could emit anything) — callers typically invoke it on its own
// goroutine bound to a per-reply cancellable context (§4.7).
//
// Run always emits exactly one stream_complete frame, cancelled or not; only
// audio_chunk and conversation_pair emission is gated on ctx, matching the
// original pipeline's unconditional completion signal.
func (p *Pipeline) Run(ctx context.Context, req Request, sender Sender) {
	stopped := func() bool { return ctx.Err() != nil }

	sess, err := p.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		slog.Warn("reply: session lookup failed, continuing without history", "session_id", req.SessionID, "error", err)
		sess = &session.Session{ID: req.SessionID}
	}

	results := make(chan ordergate.Result, 8)
	sentinel := make(chan struct{})
	var jobs sync.WaitGroup

	gate := ordergate.New(p.gapGrace)
	var gateDone sync.WaitGroup
	gateDone.Add(1)
	go func() {
		defer gateDone.Done()
		gate.Run(ctx, results, sentinel, func(r ordergate.Result) {
			p.emitAudioChunk(sender, r)
		})
	}()

	seq := 1
	dispatch := func(text string) {
		jobs.Add(1)
		p.pool.Dispatch(ctx, ttspool.Job{Seq: seq, Text: text, Voice: req.Voice}, stopped, results, &jobs)
		seq++
	}

	if req.Mode == ModeDocument {
		if !isShortGreeting(req.Transcript) {
			jobs.Add(1)
			p.pool.Dispatch(ctx, ttspool.Job{Seq: 0, Text: documentFiller, Voice: req.Voice}, stopped, results, &jobs)
		}
	} else if !isShortGreeting(req.Transcript) {
		jobs.Add(1)
		p.pool.Dispatch(ctx, ttspool.Job{Seq: 0, Text: pickFiller(req.Transcript), Voice: req.Voice}, stopped, results, &jobs)
	}

	var replyText string
	be := p.backends[req.Mode]
	if be == nil {
		slog.Warn("reply: no backend registered for mode", "mode", req.Mode)
	} else if req.Mode == ModeAgent {
		replyText = p.runAgent(ctx, req, sess, be, dispatch)
	} else {
		replyText = p.runStream(ctx, req, sess, be, dispatch)
	}

	jobs.Wait()
	close(sentinel)
	gateDone.Wait()

	trimmed := strings.TrimSpace(replyText)
	if !stopped() && trimmed != "" {
		if _, skip := skipHistory[trimmed]; !skip {
			if err := p.sessions.AppendExchange(ctx, sess.ID, req.Transcript, trimmed); err != nil {
				slog.Warn("reply: append history failed", "session_id", sess.ID, "error", err)
			}
		}
	}

	if !stopped() && trimmed != "" {
		if frame, err := wire.EncodeConversationPair(req.Transcript, trimmed); err != nil {
			slog.Warn("reply: encode conversation_pair failed", "error", err)
		} else if err := sender.Send(frame); err != nil {
			slog.Warn("reply: send conversation_pair failed", "error", err)
		}
	}

	status := "ok"
	if stopped() {
		status = "cancelled"
	}
	if frame, err := wire.EncodeStreamComplete(status); err != nil {
		slog.Warn("reply: encode stream_complete failed", "error", err)
	} else if err := sender.Send(frame); err != nil {
		slog.Warn("reply: send stream_complete failed", "error", err)
	}
}

// runAgent implements §4.6 step 3's agent-mode branch: one synchronous
// reasoning call, then a static split of the reply into per-sentence TTS
// jobs.
func (p *Pipeline) runAgent(ctx context.Context, req Request, sess *session.Session, be backend.ReasoningBackend, dispatch func(string)) string {
	pending := sess.Variables[pendingVariable]

	reply, nextPending, err := be.AnswerOnce(ctx, req.Transcript, sess.History, pending)
	if err != nil {
		slog.Warn("reply: agent backend failed", "session_id", sess.ID, "error", err)
		reply = "I wasn't able to complete that request. Please try again."
	}

	if err := p.sessions.SetVariable(ctx, sess.ID, pendingVariable, nextPending); err != nil {
		slog.Warn("reply: set pending variable failed", "session_id", sess.ID, "error", err)
	}

	if ctx.Err() != nil {
		return reply
	}
	sentences, remainder := splitter.ExtractAll(reply)
	for _, s := range sentences {
		if ctx.Err() != nil {
			return reply
		}
		dispatch(s)
	}
	if s, ok := splitter.Flush(remainder); ok && ctx.Err() == nil {
		dispatch(s)
	}
	return reply
}

// runStream implements §4.6 step 3's general/document-mode branch: a
// streamed token-by-token completion, fed through the sentence splitter so
// each completed sentence becomes its own TTS job as soon as it appears.
func (p *Pipeline) runStream(ctx context.Context, req Request, sess *session.Session, be backend.ReasoningBackend, dispatch func(string)) string {
	tokens, err := be.StreamTokens(ctx, backend.PromptRequest{
		History:    sess.History,
		UserText:   req.Transcript,
		DocumentID: req.SelectedDocument,
	})
	if err != nil {
		slog.Warn("reply: stream backend failed", "session_id", sess.ID, "error", err)
		return "I wasn't able to complete that request. Please try again."
	}

	var full strings.Builder
	var buf string
	for token := range tokens {
		if ctx.Err() != nil {
			continue
		}
		full.WriteString(token)
		buf += token
		sentences, remainder := splitter.ExtractAll(buf)
		for _, s := range sentences {
			dispatch(s)
		}
		buf = remainder
	}

	if ctx.Err() == nil {
		if s, ok := splitter.Flush(buf); ok {
			dispatch(s)
		}
	}
	return full.String()
}

// emitAudioChunk encodes and sends one ordering-gate result as an
// audio_chunk frame. Encoding failures are logged and the chunk dropped
// rather than aborting the reply — a missing audio_chunk still lets the
// reply conclude with stream_complete.
func (p *Pipeline) emitAudioChunk(sender Sender, r ordergate.Result) {
	frame, err := wire.EncodeAudioChunk(r.Text, r.Audio, toWireWords(r.Words))
	if err != nil {
		slog.Warn("reply: encode audio_chunk failed", "seq", r.Seq, "error", err)
		return
	}
	if err := sender.Send(frame); err != nil {
		slog.Warn("reply: send audio_chunk failed", "seq", r.Seq, "error", err)
	}
}

func toWireWords(words []ordergate.WordTiming) []wire.WordTiming {
	if len(words) == 0 {
		return nil
	}
	out := make([]wire.WordTiming, len(words))
	for i, w := range words {
		out[i] = wire.WordTiming{Word: w.Word, TimeSeconds: w.TimeSeconds}
	}
	return out
}
