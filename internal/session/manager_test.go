package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/communicity/portal/internal/metrics"
)

func TestManagerReusesCachePerVisitor(t *testing.T) {
	m := NewManager(newFakeProvider(), NewMemoryTokenStore(0), nil, nil)

	a := m.Cache("v1")
	assert.Same(t, a, m.Cache("v1"))
	assert.NotSame(t, a, m.Cache("v2"))
	assert.Equal(t, 2, m.Len())
}

func TestManagerSweepKeepsSubscribedCaches(t *testing.T) {
	reg := metrics.New("test")
	m := NewManager(newFakeProvider(), NewMemoryTokenStore(0), nil, reg)

	idle := m.Cache("idle")
	idle.Current(context.Background())
	watched := m.Cache("watched")
	unsubscribe := watched.Subscribe(func(Event) {})
	defer unsubscribe()

	assert.Equal(t, 0, m.Sweep(time.Hour))
	assert.Equal(t, 1, m.Sweep(-time.Second))
	assert.Equal(t, 1, m.Len())

	expected := `
# HELP test_session_active_visitors Visitors with a live session cache.
# TYPE test_session_active_visitors gauge
test_session_active_visitors 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg.Registry, strings.NewReader(expected), "test_session_active_visitors"))
}

func TestVisitorIDs(t *testing.T) {
	id := NewVisitorID()
	assert.True(t, ValidVisitorID(id))
	assert.False(t, ValidVisitorID("../etc"))
	assert.NotEqual(t, id, NewVisitorID())
}
