package sttbridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nilstrand/voicegate/internal/sttbridge"
	"github.com/nilstrand/voicegate/pkg/provider/stt"
	"github.com/nilstrand/voicegate/pkg/provider/stt/mock"
)

func TestBridge_HappyPath(t *testing.T) {
	sess := &mock.Session{
		FinalsCh:   make(chan stt.Transcript, 4),
		PartialsCh: make(chan stt.Transcript, 4),
	}
	provider := &mock.Provider{Session: sess}

	b := sttbridge.New(provider, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Push([]byte{1, 2, 3})
	b.Push([]byte{4, 5, 6})

	sess.FinalsCh <- stt.Transcript{Text: "what is the ", IsFinal: true}
	sess.FinalsCh <- stt.Transcript{Text: "time", IsFinal: true}

	b.EndOfSpeech()
	close(sess.FinalsCh)

	got := b.WaitForTranscript(time.Second)
	if got != "what is the time" {
		t.Errorf("transcript = %q, want %q", got, "what is the time")
	}
	if sess.CloseCallCount == 0 {
		t.Error("expected session Close to be called")
	}
}

func TestBridge_Cancel(t *testing.T) {
	sess := &mock.Session{
		FinalsCh:   make(chan stt.Transcript, 1),
		PartialsCh: make(chan stt.Transcript, 1),
	}
	provider := &mock.Provider{Session: sess}

	b := sttbridge.New(provider, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Push([]byte{1, 2, 3})
	b.Cancel()

	got := b.WaitForTranscript(time.Second)
	if got != "" {
		t.Errorf("transcript after cancel = %q, want empty", got)
	}
}

func TestBridge_TimeoutWithoutFinal(t *testing.T) {
	sess := &mock.Session{
		FinalsCh:   make(chan stt.Transcript, 1),
		PartialsCh: make(chan stt.Transcript, 1),
	}
	provider := &mock.Provider{Session: sess}

	b := sttbridge.New(provider, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := b.WaitForTranscript(20 * time.Millisecond)
	if got != "" {
		t.Errorf("transcript = %q, want empty on timeout", got)
	}
}

// retryProvider opens failingSession on its first call and okSession on every
// subsequent call, simulating a transient connection reset that the bridge
// recovers from via a single retry.
type retryProvider struct {
	calls         int
	failingErr    error
	failingOnSend bool
	okSession     *mock.Session
}

func (p *retryProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.calls++
	if p.calls == 1 {
		return &mock.Session{
			FinalsCh:     make(chan stt.Transcript, 1),
			PartialsCh:   make(chan stt.Transcript, 1),
			SendAudioErr: p.failingErr,
		}, nil
	}
	return p.okSession, nil
}

func TestBridge_RetriesOnceOnTransientError(t *testing.T) {
	okSession := &mock.Session{
		FinalsCh:   make(chan stt.Transcript, 2),
		PartialsCh: make(chan stt.Transcript, 1),
	}
	provider := &retryProvider{
		failingErr: errors.New("connection reset"),
		okSession:  okSession,
	}

	b := sttbridge.New(provider, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Push([]byte{9, 9, 9})
	time.Sleep(50 * time.Millisecond) // let the first attempt fail; the retry opens after retryDelay

	okSession.FinalsCh <- stt.Transcript{Text: "recovered", IsFinal: true}
	b.EndOfSpeech()
	close(okSession.FinalsCh)

	got := b.WaitForTranscript(2 * time.Second)
	if got != "recovered" {
		t.Errorf("transcript = %q, want %q", got, "recovered")
	}
	if provider.calls != 2 {
		t.Errorf("StartStream called %d times, want 2", provider.calls)
	}
}

func TestBridge_SecondFailureResolvesEmpty(t *testing.T) {
	okSession := &mock.Session{
		FinalsCh:     make(chan stt.Transcript, 1),
		PartialsCh:   make(chan stt.Transcript, 1),
		SendAudioErr: errors.New("connection reset again"),
	}
	provider := &retryProvider{
		failingErr: errors.New("connection reset"),
		okSession:  okSession,
	}

	b := sttbridge.New(provider, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b.Push([]byte{1})
	b.EndOfSpeech()
	// A real provider closes Finals once Close is called; the mock does not,
	// so the test closes the shared retry session's Finals up front.
	close(okSession.FinalsCh)

	got := b.WaitForTranscript(2 * time.Second)
	if got != "" {
		t.Errorf("transcript = %q, want empty after second failure", got)
	}
	if provider.calls != 2 {
		t.Errorf("StartStream called %d times, want 2", provider.calls)
	}
}
