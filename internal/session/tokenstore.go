package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/communicity/portal/internal/auth"
)

// ErrMiss is returned when a visitor has no stored tokens.
var ErrMiss = errors.New("session tokens not found")

// TokenStore persists provider tokens per visitor.
type TokenStore interface {
	Load(ctx context.Context, visitorID string) (auth.Tokens, error)
	Save(ctx context.Context, visitorID string, tokens auth.Tokens) error
	Delete(ctx context.Context, visitorID string) error
}

// RedisTokenStore keeps tokens in Redis with a sliding TTL.
type RedisTokenStore struct {
	c      *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTokenStore stores tokens under "<prefix><visitorID>".
func NewRedisTokenStore(c *redis.Client, prefix string, ttl time.Duration) *RedisTokenStore {
	if prefix == "" {
		prefix = "communicity:session:"
	}
	return &RedisTokenStore{c: c, prefix: prefix, ttl: ttl}
}

func (r *RedisTokenStore) Load(ctx context.Context, visitorID string) (auth.Tokens, error) {
	val, err := r.c.Get(ctx, r.prefix+visitorID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return auth.Tokens{}, ErrMiss
		}
		return auth.Tokens{}, err
	}
	var tokens auth.Tokens
	if err := json.Unmarshal(val, &tokens); err != nil {
		return auth.Tokens{}, fmt.Errorf("decode tokens: %w", err)
	}
	return tokens, nil
}

func (r *RedisTokenStore) Save(ctx context.Context, visitorID string, tokens auth.Tokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	return r.c.Set(ctx, r.prefix+visitorID, data, r.ttl).Err()
}

func (r *RedisTokenStore) Delete(ctx context.Context, visitorID string) error {
	return r.c.Del(ctx, r.prefix+visitorID).Err()
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	tokens  auth.Tokens
	expires time.Time
}

// NewMemoryTokenStore returns a store whose entries expire after ttl (zero keeps them forever).
func NewMemoryTokenStore(ttl time.Duration) *MemoryTokenStore {
	return &MemoryTokenStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryTokenStore) Load(_ context.Context, visitorID string) (auth.Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[visitorID]
	if !ok {
		return auth.Tokens{}, ErrMiss
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, visitorID)
		return auth.Tokens{}, ErrMiss
	}
	return e.tokens, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, visitorID string, tokens auth.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{tokens: tokens}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[visitorID] = e
	return nil
}

func (m *MemoryTokenStore) Delete(_ context.Context, visitorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, visitorID)
	return nil
}
