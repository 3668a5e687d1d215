package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/communicity/portal/internal/auth"
	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
)

// Kind names an authentication transition.
type Kind string

const (
	// KindInitial is delivered once, when the first lookup resolves.
	KindInitial   Kind = "initial"
	KindSignedIn  Kind = "signed_in"
	KindSignedOut Kind = "signed_out"
	// KindIdentityChanged is a refresh that changed who or what the session describes.
	KindIdentityChanged Kind = "identity_changed"
)

// Event is delivered to subscribers on every transition. Session is nil when signed out.
type Event struct {
	Kind    Kind
	Session *Session
}

// Listener receives session events on its own goroutine, in order.
type Listener func(Event)

// Cache is the single owner of one visitor's session. All mutation goes
// through it and every transition is published to subscribers.
type Cache struct {
	visitorID string
	provider  auth.Provider
	tokens    TokenStore
	logger    *logging.Logger
	metrics   *metrics.Metrics

	// lookupMu orders provider round trips so transitions publish in the order they happened.
	lookupMu sync.Mutex

	mu       sync.Mutex
	resolved bool
	current  *Session
	subs     map[uint64]*subscriber
	nextSub  uint64
	lastUsed time.Time
}

// CacheOptions wires a Cache. Logger and Metrics are optional.
type CacheOptions struct {
	Provider auth.Provider
	Tokens   TokenStore
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
}

// NewCache creates an unresolved cache for visitorID.
func NewCache(visitorID string, opts CacheOptions) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Cache{
		visitorID: visitorID,
		provider:  opts.Provider,
		tokens:    opts.Tokens,
		logger:    logger,
		metrics:   opts.Metrics,
		subs:      make(map[uint64]*subscriber),
		lastUsed:  time.Now(),
	}
}

// VisitorID returns the visitor this cache belongs to.
func (c *Cache) VisitorID() string {
	return c.visitorID
}

// Current asks the provider for the session. Lookup failures read as no session;
// they are reported to diagnostics by Lookup.
func (c *Cache) Current(ctx context.Context) *Session {
	s, _ := c.Lookup(ctx)
	return s
}

// Lookup resolves the session, refreshing tokens when needed. A non-nil error
// is always a *errors.SessionLookupFailure and comes with a nil session.
func (c *Cache) Lookup(ctx context.Context) (*Session, error) {
	c.lookupMu.Lock()
	defer c.lookupMu.Unlock()
	c.touch()

	ctx = logging.WithVisitorID(ctx, c.visitorID)

	tokens, err := c.tokens.Load(ctx, c.visitorID)
	if errors.Is(err, ErrMiss) {
		c.publish(nil)
		return nil, nil
	}
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("load tokens: %w", err))
	}

	grant, err := c.provider.GetCurrentSession(ctx, tokens)
	switch {
	case errors.Is(err, apperrors.ErrNoSession):
		if derr := c.tokens.Delete(ctx, c.visitorID); derr != nil {
			c.logger.WithContext(ctx).WithError(derr).Warn("failed to drop stale session tokens")
		}
		c.publish(nil)
		return nil, nil
	case err != nil:
		return nil, c.fail(ctx, err)
	}

	if grant.Tokens != tokens {
		if err := c.tokens.Save(ctx, c.visitorID, grant.Tokens); err != nil {
			c.logger.WithContext(ctx).WithError(err).Warn("failed to persist refreshed tokens")
		}
	}

	s := fromIdentity(grant.Identity)
	c.publish(s)
	return s, nil
}

// Peek returns the last resolved session without asking the provider.
// resolved is false until the first lookup finishes.
func (c *Cache) Peek() (s *Session, resolved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.resolved
}

// SignIn authenticates with the provider and stores the new session.
func (c *Cache) SignIn(ctx context.Context, email, password string) (*Session, error) {
	c.lookupMu.Lock()
	defer c.lookupMu.Unlock()
	c.touch()

	grant, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.adopt(ctx, grant)
}

// SignUp registers a user. The returned session is nil while email confirmation is pending.
func (c *Cache) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	c.lookupMu.Lock()
	defer c.lookupMu.Unlock()
	c.touch()

	grant, err := c.provider.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	if !grant.HasTokens() {
		return nil, nil
	}
	return c.adopt(ctx, grant)
}

// SignOut ends the session. On provider failure the session is kept.
func (c *Cache) SignOut(ctx context.Context) error {
	c.lookupMu.Lock()
	defer c.lookupMu.Unlock()
	c.touch()

	tokens, err := c.tokens.Load(ctx, c.visitorID)
	if err != nil && !errors.Is(err, ErrMiss) {
		return fmt.Errorf("load tokens: %w", err)
	}
	if err == nil {
		if err := c.provider.SignOut(ctx, tokens); err != nil {
			return err
		}
		if err := c.tokens.Delete(ctx, c.visitorID); err != nil {
			return fmt.Errorf("delete tokens: %w", err)
		}
	}
	c.publish(nil)
	return nil
}

// AccessToken returns the stored access token, or "" when signed out.
func (c *Cache) AccessToken(ctx context.Context) string {
	tokens, err := c.tokens.Load(ctx, c.visitorID)
	if err != nil {
		return ""
	}
	return tokens.AccessToken
}

// Subscribe registers fn for every future transition. The returned function
// unsubscribes; events still queued for fn are dropped.
func (c *Cache) Subscribe(fn Listener) (unsubscribe func()) {
	sub := newSubscriber(fn)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	c.mu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			sub.stop()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Cache) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// LastUsed returns when the cache was last consulted.
func (c *Cache) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *Cache) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Cache) adopt(ctx context.Context, grant *auth.Grant) (*Session, error) {
	if err := c.tokens.Save(ctx, c.visitorID, grant.Tokens); err != nil {
		return nil, fmt.Errorf("save tokens: %w", err)
	}
	s := fromIdentity(grant.Identity)
	c.publish(s)
	return s, nil
}

func (c *Cache) fail(ctx context.Context, err error) error {
	failure := &apperrors.SessionLookupFailure{Err: err}
	c.logger.LogDiagnostic(ctx, "session", failure, map[string]interface{}{
		"visitor_id": c.visitorID,
	})
	if c.metrics != nil {
		c.metrics.RecordSessionLookupFailure()
	}
	c.publish(nil)
	return failure
}

// publish records next as the current session and queues an event for every
// subscriber when the state changed.
func (c *Cache) publish(next *Session) {
	c.mu.Lock()
	prev, wasResolved := c.current, c.resolved
	c.current = next
	c.resolved = true

	var kind Kind
	switch {
	case !wasResolved:
		kind = KindInitial
	case prev == nil && next != nil:
		kind = KindSignedIn
	case prev != nil && next == nil:
		kind = KindSignedOut
	case !sameIdentity(prev, next):
		kind = KindIdentityChanged
	default:
		c.mu.Unlock()
		return
	}

	ev := Event{Kind: kind, Session: next}
	for _, sub := range c.subs {
		sub.push(ev)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordSessionTransition(string(kind))
	}
}

// subscriber is an unbounded per-listener queue so a slow listener never
// delays or drops events for another.
type subscriber struct {
	fn    Listener
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
}

func newSubscriber(fn Listener) *subscriber {
	return &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	close(s.done)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}
