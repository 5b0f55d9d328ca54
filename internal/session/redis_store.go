package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is the session persistence contract. Every method is safe for
// concurrent use and never blocks past ctx's deadline.
type Store interface {
	// GetOrCreate returns the session for id, or creates a new one (generating
	// a fresh ID when id is empty). The session's idle TTL is refreshed as a
	// side effect.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// AppendExchange records one user/assistant turn against session id,
	// trimming history to the store's configured cap, and refreshes the
	// idle TTL.
	AppendExchange(ctx context.Context, id, userText, assistantText string) error

	// SetVariable stores a single key/value pair in the session's variable
	// bag and refreshes the idle TTL.
	SetVariable(ctx context.Context, id, key string, value any) error

	// Save writes sess back in full, refreshing the idle TTL.
	Save(ctx context.Context, sess *Session) error
}

// ErrSessionNotFound names the condition of a session ID the store has never
// seen or that has expired. No Store method in this package returns it:
// GetOrCreate creates a fresh session for such an ID instead.
var ErrSessionNotFound = errors.New("session: not found")

const keyPrefix = "voicegate:session:"

// RedisStore is the primary, TTL-keyed session store backed by Redis. Each
// session is stored as a single JSON blob under a "voicegate:session:<id>"
// key with its expiry set to the configured idle TTL, refreshed on every
// access.
type RedisStore struct {
	client     *redis.Client
	historyCap int
	idleTTL    time.Duration
}

// NewRedisStore returns a [RedisStore] using client, bounding history to
// historyCap exchanges per session and expiring idle sessions after idleTTL.
func NewRedisStore(client *redis.Client, historyCap int, idleTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, historyCap: historyCap, idleTTL: idleTTL}
}

func (s *RedisStore) key(id string) string { return keyPrefix + id }

// GetOrCreate implements [Store].
func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		sess.LastAccessAt = time.Now()
		if err := s.put(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	now := time.Now()
	sess = &Session{
		ID:           id,
		Variables:    make(map[string]any),
		CreatedAt:    now,
		LastAccessAt: now,
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendExchange implements [Store].
func (s *RedisStore) AppendExchange(ctx context.Context, id, userText, assistantText string) error {
	sess, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	sess.History = appendBounded(sess.History, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     time.Now(),
	}, s.historyCap)
	sess.LastAccessAt = time.Now()
	return s.put(ctx, sess)
}

// SetVariable implements [Store].
func (s *RedisStore) SetVariable(ctx context.Context, id, key string, value any) error {
	sess, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	if sess.Variables == nil {
		sess.Variables = make(map[string]any)
	}
	sess.Variables[key] = value
	sess.LastAccessAt = time.Now()
	return s.put(ctx, sess)
}

// Save implements [Store].
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	sess.LastAccessAt = time.Now()
	return s.put(ctx, sess)
}

func (s *RedisStore) get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) put(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), raw, s.idleTTL).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Compile-time check that RedisStore satisfies Store.
var _ Store = (*RedisStore)(nil)
