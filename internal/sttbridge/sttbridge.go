// Package sttbridge adapts the gateway's client-driven audio feed to a
// streaming [stt.Provider] session.
//
// A Bridge owns a bounded ingress queue of audio frames and a worker that
// feeds them to the recognizer while concurrently draining its finalized
// transcript segments. On a transient recognizer failure it retries once by
// replaying the full audio buffer kept since Start; a second failure
// resolves the transcript as empty, matching the at-most-one-retry policy.
package sttbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nilstrand/voicegate/pkg/provider/stt"
)

const (
	defaultQueueSize = 64
	defaultReplayCap = 10 << 20 // 10 MiB hard cap on the retry replay buffer
	retryDelay       = 200 * time.Millisecond
)

// Bridge is a single-use, per-utterance adapter between raw client audio
// frames and one [stt.Provider] streaming session. A Bridge must not be
// reused across utterances; the gateway creates a fresh one per
// start_stream.
type Bridge struct {
	provider stt.Provider
	cfg      stt.StreamConfig

	audioCh     chan []byte
	endOfSpeech chan struct{}
	cancelCh    chan struct{}
	eosOnce     sync.Once
	cancelOnce  sync.Once

	mu             sync.Mutex
	replay         [][]byte
	replayBytes    int
	replayDisabled bool

	resultOnce sync.Once
	resultCh   chan string
}

// New returns a Bridge over provider configured with cfg. The bridge is
// inert until [Bridge.Start] is called.
func New(provider stt.Provider, cfg stt.StreamConfig) *Bridge {
	return &Bridge{
		provider:    provider,
		cfg:         cfg,
		audioCh:     make(chan []byte, defaultQueueSize),
		endOfSpeech: make(chan struct{}),
		cancelCh:    make(chan struct{}),
		resultCh:    make(chan string, 1),
	}
}

// Start opens the recognition session and spawns the background worker that
// feeds audio and accumulates the finalized transcript. The transcript is
// retrieved later via [Bridge.WaitForTranscript].
func (b *Bridge) Start(ctx context.Context) error {
	session, err := b.provider.StartStream(ctx, b.cfg)
	if err != nil {
		return fmt.Errorf("sttbridge: start stream: %w", err)
	}
	go b.run(ctx, session)
	return nil
}

// Push enqueues one audio frame. If the ingress queue is full the frame is
// dropped with a warning rather than blocking the caller — a saturated
// queue degrades audio quality instead of stalling the connection.
func (b *Bridge) Push(frame []byte) {
	b.mu.Lock()
	if !b.replayDisabled {
		if b.replayBytes+len(frame) > defaultReplayCap {
			b.replayDisabled = true
			b.replay = nil
		} else {
			cp := append([]byte(nil), frame...)
			b.replay = append(b.replay, cp)
			b.replayBytes += len(cp)
		}
	}
	b.mu.Unlock()

	select {
	case b.audioCh <- frame:
	default:
		slog.Warn("sttbridge: ingress queue full, dropping audio frame")
	}
}

// EndOfSpeech signals that no more audio will arrive. The bridge drains
// already-queued frames into the recognizer before closing its request
// stream. Idempotent.
func (b *Bridge) EndOfSpeech() {
	b.eosOnce.Do(func() { close(b.endOfSpeech) })
}

// Cancel hard-stops the bridge: buffered audio is discarded, the recognizer
// stream is closed, and the transcript future resolves to empty text.
// Idempotent.
func (b *Bridge) Cancel() {
	b.cancelOnce.Do(func() { close(b.cancelCh) })
	b.resolve("")
}

// WaitForTranscript blocks until the transcript future resolves or timeout
// elapses, returning the concatenated finalized transcript (empty on
// timeout or cancellation).
func (b *Bridge) WaitForTranscript(timeout time.Duration) string {
	select {
	case text := <-b.resultCh:
		return text
	case <-time.After(timeout):
		return ""
	}
}

func (b *Bridge) resolve(text string) {
	b.resultOnce.Do(func() {
		b.resultCh <- text
	})
}

func (b *Bridge) run(ctx context.Context, session stt.SessionHandle) {
	text, transientErr := b.attempt(ctx, session, &liveSource{b: b})
	if transientErr == nil {
		b.resolve(text)
		return
	}

	select {
	case <-b.cancelCh:
		return
	default:
	}

	b.mu.Lock()
	disabled := b.replayDisabled
	frames := append([][]byte(nil), b.replay...)
	b.mu.Unlock()

	if disabled {
		slog.Warn("sttbridge: retry buffer exceeded cap, skipping retry", "error", transientErr)
		b.resolve("")
		return
	}

	slog.Warn("sttbridge: recognizer error, retrying once by replaying buffered audio", "error", transientErr)
	time.Sleep(retryDelay)

	retrySession, err := b.provider.StartStream(ctx, b.cfg)
	if err != nil {
		slog.Warn("sttbridge: retry failed to open stream", "error", err)
		b.resolve("")
		return
	}
	text, err = b.attempt(ctx, retrySession, &replaySource{frames: frames})
	if err != nil {
		slog.Warn("sttbridge: retry failed too, resolving empty transcript", "error", err)
		text = ""
	}
	b.resolve(text)
}

// attempt feeds frames yielded by source into session while concurrently
// accumulating its finalized transcript, returning the accumulated text and
// a non-nil error only when the feeder observed a transient SendAudio
// failure (the signal that a retry is warranted).
func (b *Bridge) attempt(ctx context.Context, session stt.SessionHandle, source frameSource) (string, error) {
	feedErrCh := make(chan error, 1)
	go func() {
		for {
			frame, ok := source.next(ctx, b)
			if !ok {
				feedErrCh <- nil
				return
			}
			if err := session.SendAudio(frame); err != nil {
				feedErrCh <- err
				return
			}
		}
	}()

	var sb strings.Builder
	finals := session.Finals()
	feedDone := false

	for {
		select {
		case <-b.cancelCh:
			session.Close()
			return "", nil

		case err := <-feedErrCh:
			if feedDone {
				continue
			}
			feedDone = true
			session.Close()
			if err != nil {
				// Transient send failure: report it immediately so the
				// caller can retry rather than waiting on a recognizer
				// stream that may never emit another final.
				return sb.String(), err
			}
			// Clean end of input (queue drained or replay exhausted); still
			// need to drain any finals already in flight before returning.

		case f, ok := <-finals:
			if !ok {
				session.Close()
				return sb.String(), nil
			}
			sb.WriteString(f.Text)

		case <-ctx.Done():
			session.Close()
			return sb.String(), nil
		}
	}
}
