// Package ttspool runs a bounded pool of concurrent speech synthesis
// workers. Each job synthesizes one sentence and pushes the completed
// result, tagged with its reply sequence number, onto the ordering gate's
// input channel.
package ttspool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nilstrand/voicegate/internal/ordergate"
	"github.com/nilstrand/voicegate/pkg/provider/tts"
	"github.com/nilstrand/voicegate/pkg/types"
)

// DefaultSize is the typical worker pool size (§4.3).
const DefaultSize = 3

// Job is one sentence awaiting synthesis.
type Job struct {
	// Seq is the reply-scoped sequence number this job's result must carry.
	// 0 is reserved for the filler.
	Seq   int
	Text  string
	Voice types.VoiceProfile
}

// Pool bounds the number of concurrent synthesis calls against a
// [tts.Provider]. It is safe for concurrent use; [Pool.Dispatch] may be
// called repeatedly as new sentences become available.
type Pool struct {
	provider tts.Provider
	sem      *semaphore.Weighted
}

// New returns a Pool that runs at most size concurrent synthesis jobs
// against provider.
func New(provider tts.Provider, size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{provider: provider, sem: semaphore.NewWeighted(int64(size))}
}

// Dispatch synthesizes job on a pool worker and, on success, sends the
// result to out. stopped is polled before dispatch and again after
// synthesis completes; if it reports true at either point the result is
// discarded without being enqueued. Synthesis errors are logged and the
// job's sequence number is simply never produced — the ordering gate
// tolerates the gap via its grace window.
//
// Dispatch returns immediately; the job runs on a background goroutine
// bounded by the pool's concurrency limit. If done is non-nil, its Done
// method is called exactly once when the goroutine exits, whether or not a
// result was produced — callers that need to know when every dispatched job
// has settled (e.g. before closing the ordering gate's sentinel) should
// Add(1) to the same WaitGroup before each Dispatch call.
func (p *Pool) Dispatch(ctx context.Context, job Job, stopped func() bool, out chan<- ordergate.Result, done *sync.WaitGroup) {
	go func() {
		if done != nil {
			defer done.Done()
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		if stopped() {
			return
		}

		audio, err := p.synthesize(ctx, job)
		if err != nil {
			slog.Warn("ttspool: synthesis failed, skipping sequence slot",
				"seq", job.Seq,
				"error", err,
			)
			return
		}

		if stopped() {
			return
		}

		result := ordergate.Result{
			Seq:   job.Seq,
			Text:  job.Text,
			Audio: audio,
			Words: wordTimings(job.Text, len(audio)),
		}
		select {
		case out <- result:
		case <-ctx.Done():
		}
	}()
}

// synthesize drives the provider's streaming interface for a single
// sentence: the text is sent once and the channel closed, and every audio
// chunk the provider emits is concatenated into one payload.
func (p *Pool) synthesize(ctx context.Context, job Job) ([]byte, error) {
	textCh := make(chan string, 1)
	textCh <- job.Text
	close(textCh)

	audioCh, err := p.provider.SynthesizeStream(ctx, textCh, job.Voice)
	if err != nil {
		return nil, fmt.Errorf("ttspool: start synthesis: %w", err)
	}

	var buf []byte
	for chunk := range audioCh {
		buf = append(buf, chunk...)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return buf, nil
}

// wordTimings assigns each whitespace-delimited token of text an estimated
// offset into the synthesized audio, proportional to its position in the
// text. Providers in this package's contract return raw audio without
// timing marks, so this stands in for the SSML <mark> timings a live TTS
// service attaches per word (§6); the proportions are approximate, not
// sample-accurate.
func wordTimings(text string, audioLen int) []ordergate.WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 || audioLen == 0 {
		return nil
	}

	// Approximate bitrate for 24kHz MP3 at a typical TTS quality setting.
	const approxBytesPerSecond = 3000
	totalSeconds := float64(audioLen) / approxBytesPerSecond

	timings := make([]ordergate.WordTiming, len(words))
	var consumed int
	for i, w := range words {
		timings[i] = ordergate.WordTiming{
			Word:        w,
			TimeSeconds: totalSeconds * float64(consumed) / float64(len(text)),
		}
		consumed += len(w) + 1
	}
	return timings
}
