package records

import (
	"context"
	"fmt"
	"sync"

	"github.com/communicity/portal/supabase/client"
)

// ChangeFeed reports row changes in one table under a filter.
type ChangeFeed interface {
	Watch(ctx context.Context, table string, filter Filter, accessToken string, onChange func()) (stop func(), err error)
}

// RealtimeFeed is a ChangeFeed backed by Supabase Realtime postgres_changes.
type RealtimeFeed struct {
	mu     sync.Mutex
	client *client.RealtimeClient
}

// NewRealtimeFeed wraps a realtime client. The socket is dialed on first Watch.
func NewRealtimeFeed(rc *client.RealtimeClient) *RealtimeFeed {
	return &RealtimeFeed{client: rc}
}

// Watch subscribes to INSERT, UPDATE and DELETE on table rows matching filter.
func (f *RealtimeFeed) Watch(ctx context.Context, table string, filter Filter, accessToken string, onChange func()) (func(), error) {
	if _, err := validateQuery(table, filter, Order{}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	err := f.client.Connect(ctx)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("realtime connect: %w", err)
	}

	cfg := client.PostgresChangesConfig{Event: "*", Schema: "public", Table: table}
	if !filter.IsZero() {
		cfg.Filter = filter.Field + "=eq." + filter.Value
	}
	ch, err := f.client.SubscribeToPostgresChanges(ctx, cfg, accessToken, func(*client.RealtimeEvent) {
		onChange()
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { _ = ch.Unsubscribe() })
	}, nil
}

// Close drops the realtime socket.
func (f *RealtimeFeed) Close() error {
	return f.client.Disconnect()
}
