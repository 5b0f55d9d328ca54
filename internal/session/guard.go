package session

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// Guard wraps a [Store] and makes all operations non-fatal. If the
// underlying store fails, Guard falls back to an in-memory write-through
// cache and logs a warning instead of propagating the error.
//
// This allows the gateway to keep serving replies even when Redis is
// temporarily unavailable (restart, network partition): conversation
// history is lost on process restart while degraded, but a single
// reply never fails because of it. [Guard.IsDegraded] reports whether the
// most recent operation had to fall back.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool

	mu    sync.Mutex
	cache map[string]*Session
}

// NewGuard creates a new [Guard] wrapping the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store, cache: make(map[string]*Session)}
}

// GetOrCreate attempts the underlying store first. On failure it falls back
// to the in-memory cache, creating a new session there if none is cached.
func (g *Guard) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	sess, err := g.store.GetOrCreate(ctx, id)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: GetOrCreate failed, using in-memory cache",
			"session_id", id,
			"error", err,
		)
		return g.cachedOrNew(id), nil
	}
	g.degraded.Store(false)
	g.mirror(sess)
	return sess, nil
}

// AppendExchange attempts the underlying store first. On failure it appends
// to the in-memory cache instead, swallowing the error.
func (g *Guard) AppendExchange(ctx context.Context, id, userText, assistantText string) error {
	if err := g.store.AppendExchange(ctx, id, userText, assistantText); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: AppendExchange failed, appending to in-memory cache",
			"session_id", id,
			"error", err,
		)
		g.mu.Lock()
		sess := g.cachedOrNewLocked(id)
		sess.History = append(sess.History, Exchange{UserText: userText, AssistantText: assistantText})
		g.mu.Unlock()
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// SetVariable attempts the underlying store first. On failure it sets the
// variable in the in-memory cache instead, swallowing the error.
func (g *Guard) SetVariable(ctx context.Context, id, key string, value any) error {
	if err := g.store.SetVariable(ctx, id, key, value); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: SetVariable failed, writing to in-memory cache",
			"session_id", id,
			"key", key,
			"error", err,
		)
		g.mu.Lock()
		sess := g.cachedOrNewLocked(id)
		sess.Variables[key] = value
		g.mu.Unlock()
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Save attempts the underlying store first. On failure it writes through to
// the in-memory cache instead, swallowing the error.
func (g *Guard) Save(ctx context.Context, sess *Session) error {
	if err := g.store.Save(ctx, sess); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: Save failed, writing to in-memory cache",
			"session_id", sess.ID,
			"error", err,
		)
		g.mirror(sess)
		return nil
	}
	g.degraded.Store(false)
	g.mirror(sess)
	return nil
}

// IsDegraded reports whether the store is currently operating in degraded
// mode (i.e., the most recent operation on the underlying store failed).
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

func (g *Guard) mirror(sess *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *sess
	cp.History = slices.Clone(sess.History)
	cp.Variables = maps.Clone(sess.Variables)
	g.cache[sess.ID] = &cp
}

func (g *Guard) cachedOrNew(id string) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cachedOrNewLocked(id)
}

func (g *Guard) cachedOrNewLocked(id string) *Session {
	if sess, ok := g.cache[id]; ok {
		return sess
	}
	sess := &Session{ID: id, Variables: make(map[string]any)}
	g.cache[id] = sess
	return sess
}

// Compile-time check that Guard satisfies Store.
var _ Store = (*Guard)(nil)
