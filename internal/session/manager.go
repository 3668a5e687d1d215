package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/communicity/portal/internal/auth"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
)

// Manager hands out one Cache per visitor id.
type Manager struct {
	provider auth.Provider
	tokens   TokenStore
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	caches map[string]*Cache
}

// NewManager creates a manager. Logger and metrics may be nil.
func NewManager(provider auth.Provider, tokens TokenStore, logger *logging.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Manager{
		provider: provider,
		tokens:   tokens,
		logger:   logger,
		metrics:  m,
		caches:   make(map[string]*Cache),
	}
}

// NewVisitorID returns a fresh random visitor id.
func NewVisitorID() string {
	return uuid.NewString()
}

// ValidVisitorID reports whether id looks like one NewVisitorID produced.
func ValidVisitorID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Cache returns the visitor's cache, creating it on first use.
func (m *Manager) Cache(visitorID string) *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.caches[visitorID]
	if !ok {
		c = NewCache(visitorID, CacheOptions{
			Provider: m.provider,
			Tokens:   m.tokens,
			Logger:   m.logger,
			Metrics:  m.metrics,
		})
		m.caches[visitorID] = c
		m.reportSize()
	}
	return c
}

// Len returns the number of live caches.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.caches)
}

// Sweep drops caches idle for longer than maxIdle that have no subscribers.
// Tokens stay in the token store, so a returning visitor resolves again.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, c := range m.caches {
		if c.Subscribers() == 0 && c.LastUsed().Before(cutoff) {
			delete(m.caches, id)
			removed++
		}
	}
	if removed > 0 {
		m.reportSize()
	}
	return removed
}

func (m *Manager) reportSize() {
	if m.metrics != nil {
		m.metrics.SetActiveVisitors(len(m.caches))
	}
}
