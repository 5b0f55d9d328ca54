// Package gateway implements the per-connection state machine described in
// spec.md §4.8: it authenticates a client, opens and tears down STT bridges
// on start_stream/end_speech/barge_in, and drives the reply pipeline for
// each utterance while keeping the socket free to accept the next message.
//
// There is deliberately no module-level connection table: every piece of
// per-connection state lives on the [Connection] value itself, guarded by
// its own mutex. The Session Store, not this package, is what survives a
// reconnect.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nilstrand/voicegate/internal/config"
	"github.com/nilstrand/voicegate/internal/reply"
	"github.com/nilstrand/voicegate/internal/session"
	"github.com/nilstrand/voicegate/internal/sttbridge"
	"github.com/nilstrand/voicegate/internal/wire"
	"github.com/nilstrand/voicegate/pkg/provider/stt"
	"github.com/nilstrand/voicegate/pkg/types"
)

const (
	outboundQueueSize        = 64
	writeTimeout             = 10 * time.Second
	documentsListTimeout     = 5 * time.Second
	defaultTranscriptTimeout = 5 * time.Second
	defaultReadLimit         = 1 << 20 // 1 MiB, used when no MaxAudioFrameBytes is configured
)

// state is the Connection FSM's current phase (spec.md §4.8).
type state int

const (
	stateAwaitAuth state = iota
	stateReady
	stateStreaming
	stateClosed
)

// DocumentLister enumerates the documents available for document-mode
// retrieval, answering a client's get_documents request.
type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]string, error)
}

// Deps bundles the dependencies shared by every connection a [Handler]
// serves. They are constructed once by the caller and must be safe for
// concurrent use across many simultaneous connections.
type Deps struct {
	// STT opens a new recognition session for each start_stream.
	STT stt.Provider

	// STTConfig is the audio format and recognition hints passed to every
	// new STT session (spec.md §6: 16-bit PCM mono at 48kHz).
	STTConfig stt.StreamConfig

	// Pipeline runs the reply pipeline for every end_speech (§4.6). It is
	// shared process-wide; its TTS pool and backend set are stateless across
	// calls, so a single instance safely serves every connection.
	Pipeline *reply.Pipeline

	// Sessions is the session store used to authenticate and load/create a
	// session at auth time.
	Sessions session.Store

	// Documents answers get_documents. Nil is treated as "no documents
	// indexed" rather than an error.
	Documents DocumentLister

	// Config holds the per-connection tunables from the gateway's YAML
	// configuration (allowed origins, API keys, voice allowlist, timeouts).
	Config config.GatewayConfig
}

// Connection drives one client socket through the states in spec.md §4.8.
// All mutable fields are guarded by mu; Send may be called concurrently by
// the reply pipeline's ordering-gate goroutine and by the read loop's error
// responses, so every write to the socket is funneled through the outbound
// queue and a single writer goroutine.
type Connection struct {
	conn   *websocket.Conn
	deps   Deps
	origin string

	outbound chan []byte
	done     chan struct{}
	doneOnce sync.Once

	mu               sync.Mutex
	state            state
	sessionID        string
	mode             reply.Mode
	voice            types.VoiceProfile
	selectedDocument string
	bridge           *sttbridge.Bridge
	replyCtx         context.Context
	cancelReply      context.CancelFunc
}

// Compile-time interface assertion: Connection satisfies the pipeline's
// outbound abstraction directly, with no adapter needed.
var _ reply.Sender = (*Connection)(nil)

// Serve drives one client connection end to end. It launches the outbound
// writer, reads frames until the socket closes or a read error occurs,
// dispatching each through the Connection FSM, then tears down any
// in-flight STT bridge or reply pipeline before returning. origin is the
// request's Origin header, checked again at auth time in addition to the
// upgrader's handshake-time check.
func Serve(conn *websocket.Conn, deps Deps, origin string) {
	c := &Connection{
		conn:     conn,
		deps:     deps,
		origin:   origin,
		state:    stateAwaitAuth,
		outbound: make(chan []byte, outboundQueueSize),
		done:     make(chan struct{}),
	}

	readLimit := int64(deps.Config.MaxAudioFrameBytes) * 2
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	go c.writeLoop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.handle(raw)
	}

	// Cancelling any in-flight bridge/reply is cooperative, not immediate: a
	// reply goroutine may still call Send after this point, so the outbound
	// channel is never closed — only done is, which unblocks writeLoop
	// directly instead of relying on a subsequent failed write.
	c.teardown()
	conn.Close()
	c.doneOnce.Do(func() { close(c.done) })
}

// Send implements [reply.Sender]. It never blocks: a saturated outbound
// queue drops the frame (after a best-effort attempt to notify the client
// with an error frame instead) rather than stalling whichever goroutine is
// producing audio chunks.
func (c *Connection) Send(frame []byte) error {
	select {
	case c.outbound <- frame:
		return nil
	default:
	}

	slog.Warn("gateway: outbound queue saturated, dropping frame", "session_id", c.sessionIDSnapshot())
	if errFrame, err := wire.EncodeError("outbound buffer full, a message was dropped"); err == nil {
		select {
		case c.outbound <- errFrame:
		default:
		}
	}
	return fmt.Errorf("gateway: outbound queue full")
}

// writeLoop is the sole writer of c.conn. It selects between outbound
// frames and done rather than ranging over outbound, since outbound is
// never closed (a reply goroutine may still be producing frames after the
// connection is torn down) — done is what actually stops this goroutine.
func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Warn("gateway: write failed, closing connection", "error", err)
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown runs once when the read loop exits: it cancels any in-flight STT
// bridge and reply pipeline and marks the connection closed. The Session
// Store is untouched — session state outlives the connection (§4.8).
func (c *Connection) teardown() {
	c.mu.Lock()
	c.state = stateClosed
	bridge := c.bridge
	cancel := c.cancelReply
	c.bridge = nil
	c.cancelReply = nil
	c.replyCtx = nil
	c.mu.Unlock()

	if bridge != nil {
		bridge.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// handle routes one raw inbound frame to its handler based on the
// connection's current state and the frame's message kind.
func (c *Connection) handle(raw []byte) {
	kind, err := wire.PeekKind(raw)
	if err != nil {
		c.sendError("malformed frame")
		return
	}

	st := c.stateSnapshot()
	if st == stateClosed {
		return
	}
	if st == stateAwaitAuth {
		if kind != wire.KindAuth {
			c.sendError("connection not authenticated")
			return
		}
		c.handleAuth(raw)
		return
	}

	switch kind {
	case wire.KindGetDocuments:
		c.handleGetDocuments()
	case wire.KindStartStream:
		c.handleStartStream(raw)
	case wire.KindSTTAudio:
		c.handleSTTAudio(raw)
	case wire.KindEndSpeech:
		c.handleEndSpeech(raw)
	case wire.KindBargeIn:
		c.handleBargeIn()
	case wire.KindAuth:
		c.sendError("already authenticated")
	default:
		c.sendError(fmt.Sprintf("unexpected message type %q", kind))
	}
}

func (c *Connection) handleAuth(raw []byte) {
	_, payload, err := wire.Decode(raw)
	if err != nil {
		c.sendError("malformed auth frame")
		return
	}
	auth, ok := payload.(*wire.Auth)
	if !ok || !c.acceptKey(auth.APIKey) {
		c.sendError("invalid api key")
		return
	}
	if !c.acceptOrigin() {
		c.sendError("origin not allowed")
		return
	}

	sess, err := c.deps.Sessions.GetOrCreate(context.Background(), auth.SessionID)
	if err != nil {
		slog.Warn("gateway: session lookup failed during auth", "error", err)
		c.sendError("session store unavailable")
		return
	}

	c.mu.Lock()
	c.sessionID = sess.ID
	c.state = stateReady
	c.mu.Unlock()

	if frame, err := wire.EncodeConnected(sess.ID); err == nil {
		_ = c.Send(frame)
	}
}

func (c *Connection) acceptKey(key string) bool {
	if key == "" {
		return false
	}
	for _, k := range c.deps.Config.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (c *Connection) acceptOrigin() bool {
	allowed := c.deps.Config.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == c.origin {
			return true
		}
	}
	return false
}

func (c *Connection) handleGetDocuments() {
	var docs []string
	if c.deps.Documents != nil {
		ctx, cancel := context.WithTimeout(context.Background(), documentsListTimeout)
		d, err := c.deps.Documents.ListDocuments(ctx)
		cancel()
		if err != nil {
			slog.Warn("gateway: list documents failed", "error", err)
		} else {
			docs = d
		}
	}
	if frame, err := wire.EncodeDocumentsList(docs); err == nil {
		_ = c.Send(frame)
	}
}

func (c *Connection) handleStartStream(raw []byte) {
	_, payload, err := wire.Decode(raw)
	if err != nil {
		c.sendError("malformed start_stream frame")
		return
	}
	start, ok := payload.(*wire.StartStream)
	if !ok {
		c.sendError("malformed start_stream frame")
		return
	}

	mode, ok := parseMode(start.Mode)
	if !ok {
		c.sendError(fmt.Sprintf("unknown mode %q", start.Mode))
		return
	}
	voice, ok := c.resolveVoice(start.Voice)
	if !ok {
		c.sendError(fmt.Sprintf("unknown voice %q", start.Voice))
		return
	}

	c.cancelActive()

	bridge := sttbridge.New(c.deps.STT, c.deps.STTConfig)
	if err := bridge.Start(context.Background()); err != nil {
		slog.Warn("gateway: failed to start STT session", "error", err)
		c.sendError("failed to start recognition")
		return
	}

	c.mu.Lock()
	c.state = stateStreaming
	c.bridge = bridge
	c.mode = mode
	c.voice = voice
	c.selectedDocument = start.SelectedDocument
	sessionID := c.sessionID
	c.mu.Unlock()

	if frame, err := wire.EncodeStreamStarted(sessionID); err == nil {
		_ = c.Send(frame)
	}
}

func (c *Connection) handleSTTAudio(raw []byte) {
	frame, err := wire.ExtractAudioFrame(raw)
	if err != nil {
		c.sendError("malformed stt_audio frame")
		return
	}
	if max := c.deps.Config.MaxAudioFrameBytes; max > 0 && len(frame) > max {
		c.sendError("audio frame exceeds maximum size")
		return
	}

	c.mu.Lock()
	bridge := c.bridge
	c.mu.Unlock()
	if bridge == nil {
		return
	}
	bridge.Push(frame)
}

func (c *Connection) handleEndSpeech(raw []byte) {
	if _, _, err := wire.Decode(raw); err != nil {
		c.sendError("malformed end_speech frame")
		return
	}

	c.mu.Lock()
	bridge := c.bridge
	mode := c.mode
	voice := c.voice
	selectedDocument := c.selectedDocument
	sessionID := c.sessionID
	if c.state == stateStreaming {
		c.state = stateReady
	}
	c.bridge = nil
	c.mu.Unlock()

	if bridge == nil {
		return
	}
	bridge.EndOfSpeech()

	replyCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.replyCtx = replyCtx
	c.cancelReply = cancel
	c.mu.Unlock()

	go c.runReply(replyCtx, bridge, mode, voice, selectedDocument, sessionID)
}

// runReply waits for the STT bridge's transcript and, unless it is empty or
// the reply was cancelled before it could start, drives the reply pipeline
// (§4.6). It clears cancelReply/replyCtx afterward, but only if nothing
// newer has replaced them — an auto-interrupt or barge_in may have already
// installed a fresher pair while this reply was running.
func (c *Connection) runReply(ctx context.Context, bridge *sttbridge.Bridge, mode reply.Mode, voice types.VoiceProfile, selectedDocument, sessionID string) {
	timeout := c.deps.Config.STTTranscriptTimeout
	if timeout <= 0 {
		timeout = defaultTranscriptTimeout
	}
	transcript := bridge.WaitForTranscript(timeout)

	defer c.clearReply(ctx)

	if ctx.Err() != nil {
		return
	}

	if strings.TrimSpace(transcript) == "" {
		if frame, err := wire.EncodeStreamComplete("ok"); err == nil {
			_ = c.Send(frame)
		}
		return
	}

	c.deps.Pipeline.Run(ctx, reply.Request{
		Transcript:       transcript,
		Mode:             mode,
		Voice:            voice,
		SelectedDocument: selectedDocument,
		SessionID:        sessionID,
	}, c)
}

func (c *Connection) handleBargeIn() {
	c.cancelActive()
	c.mu.Lock()
	if c.state == stateStreaming {
		c.state = stateReady
	}
	c.mu.Unlock()
}

// cancelActive cancels whatever STT bridge and reply pipeline are currently
// active, used by start_stream (auto-interrupt), barge_in, and teardown.
func (c *Connection) cancelActive() {
	c.mu.Lock()
	bridge := c.bridge
	cancel := c.cancelReply
	c.bridge = nil
	c.cancelReply = nil
	c.replyCtx = nil
	c.mu.Unlock()

	if bridge != nil {
		bridge.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// clearReply clears cancelReply/replyCtx only if ctx is still the
// most-recently-installed reply context, so a reply that finishes after
// being superseded by a newer one never clobbers the newer one's state.
func (c *Connection) clearReply(ctx context.Context) {
	c.mu.Lock()
	if c.replyCtx == ctx {
		c.replyCtx = nil
		c.cancelReply = nil
	}
	c.mu.Unlock()
}

func (c *Connection) resolveVoice(id string) (types.VoiceProfile, bool) {
	voices := c.deps.Config.Voices
	if len(voices) == 0 {
		return types.VoiceProfile{ID: id}, true
	}
	for _, v := range voices {
		if v.ID == id {
			return types.VoiceProfile{ID: v.ID, Metadata: map[string]string{"gender": v.Gender}}, true
		}
	}
	return types.VoiceProfile{}, false
}

func (c *Connection) sendError(message string) {
	frame, err := wire.EncodeError(message)
	if err != nil {
		slog.Warn("gateway: encode error frame failed", "error", err)
		return
	}
	_ = c.Send(frame)
}

func (c *Connection) stateSnapshot() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) sessionIDSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func parseMode(s string) (reply.Mode, bool) {
	switch reply.Mode(s) {
	case reply.ModeGeneral, reply.ModeDocument, reply.ModeAgent:
		return reply.Mode(s), true
	default:
		return "", false
	}
}
