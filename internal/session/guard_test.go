package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nilstrand/voicegate/internal/session"
)

// fakeStore is a minimal in-memory [session.Store] whose methods can be
// forced to fail, for exercising [session.Guard]'s degraded-mode fallback.
type fakeStore struct {
	err   error
	calls map[string]int
}

func newFakeStore() *fakeStore { return &fakeStore{calls: make(map[string]int)} }

func (f *fakeStore) GetOrCreate(ctx context.Context, id string) (*session.Session, error) {
	f.calls["GetOrCreate"]++
	if f.err != nil {
		return nil, f.err
	}
	return &session.Session{ID: id, Variables: make(map[string]any)}, nil
}

func (f *fakeStore) AppendExchange(ctx context.Context, id, userText, assistantText string) error {
	f.calls["AppendExchange"]++
	return f.err
}

func (f *fakeStore) SetVariable(ctx context.Context, id, key string, value any) error {
	f.calls["SetVariable"]++
	return f.err
}

func (f *fakeStore) Save(ctx context.Context, sess *session.Session) error {
	f.calls["Save"]++
	return f.err
}

func TestGuard_GetOrCreate_Success(t *testing.T) {
	store := newFakeStore()
	g := session.NewGuard(store)

	sess, err := g.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("session ID = %q, want s1", sess.ID)
	}
	if g.IsDegraded() {
		t.Error("should not be degraded after success")
	}
}

func TestGuard_GetOrCreate_FallsBackOnFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	g := session.NewGuard(store)

	sess, err := g.GetOrCreate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("expected nil error (swallowed), got %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("session ID = %q, want s1", sess.ID)
	}
	if !g.IsDegraded() {
		t.Error("should be degraded after failure")
	}
}

func TestGuard_FallbackCachePersistsAcrossCalls(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("down")
	g := session.NewGuard(store)
	ctx := context.Background()

	if err := g.AppendExchange(ctx, "s1", "hi", "hello"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if err := g.AppendExchange(ctx, "s1", "bye", "goodbye"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	sess, err := g.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(sess.History) != 2 {
		t.Fatalf("expected 2 cached exchanges, got %d: %#v", len(sess.History), sess.History)
	}
}

func TestGuard_RecoversFromDegradedAfterSuccess(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("temporary")
	g := session.NewGuard(store)
	ctx := context.Background()

	_ = g.AppendExchange(ctx, "s1", "a", "b")
	if !g.IsDegraded() {
		t.Fatal("should be degraded")
	}

	store.err = nil
	_ = g.AppendExchange(ctx, "s1", "c", "d")
	if g.IsDegraded() {
		t.Error("should have recovered from degraded state")
	}
}

func TestGuard_SetVariable_FallsBackOnFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("down")
	g := session.NewGuard(store)
	ctx := context.Background()

	if err := g.SetVariable(ctx, "s1", "pending_booking", "yes"); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}

	sess, err := g.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.Variables["pending_booking"] != "yes" {
		t.Fatalf("variables = %#v", sess.Variables)
	}
}

func TestGuard_ImplementsStore(t *testing.T) {
	var _ session.Store = session.NewGuard(newFakeStore())
}
