package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// RealtimeClient handles Supabase Realtime postgres_changes subscriptions.
type RealtimeClient struct {
	mu       sync.Mutex
	writeMu  sync.Mutex
	url      string
	dialer   websocket.Dialer
	conn     *websocket.Conn
	channels map[string]*Channel
	done     chan struct{}
	ref      int
	topicSeq int

	heartbeatInterval time.Duration
}

// EventHandler handles realtime events. Handlers run on their own goroutine.
type EventHandler func(event *RealtimeEvent)

// RealtimeEvent is one Phoenix message received from the server.
type RealtimeEvent struct {
	Event   string          `json:"event"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// ChangeType returns INSERT, UPDATE or DELETE for postgres_changes events.
func (e *RealtimeEvent) ChangeType() string {
	if t := gjson.GetBytes(e.Payload, "data.type"); t.Exists() {
		return t.String()
	}
	return gjson.GetBytes(e.Payload, "type").String()
}

// Record returns a column of the new row (or the old one for deletes).
func (e *RealtimeEvent) Record(column string) string {
	if v := gjson.GetBytes(e.Payload, "data.record."+column); v.Exists() {
		return v.String()
	}
	return gjson.GetBytes(e.Payload, "data.old_record."+column).String()
}

// PostgresChangesConfig selects the rows a channel listens to.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // e.g. "city_id=eq.<uuid>"
}

// Channel is one joined realtime topic.
type Channel struct {
	client  *RealtimeClient
	topic   string
	config  PostgresChangesConfig
	handler EventHandler
	joinRef string
}

// NewRealtimeClient creates a realtime client for the project at supabaseURL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[len("https"):]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:               wsURL,
		dialer:            websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		channels:          make(map[string]*Channel),
		heartbeatInterval: 30 * time.Second,
	}
}

// Connect establishes the WebSocket connection. It is a no-op when already connected.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.handleMessages(conn, r.done)
	go r.heartbeat(r.done)

	return nil
}

// Connected reports whether a socket is open.
func (r *RealtimeClient) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Disconnect closes the WebSocket connection and forgets all channels.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil
	}
	close(r.done)
	r.conn = nil
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	r.writeMu.Lock()
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.writeMu.Unlock()
	conn.Close()
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// SubscribeToPostgresChanges joins a fresh channel for cfg and routes its events to handler.
// accessToken, when set, lets row level security apply to the feed.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, accessToken string, handler EventHandler) (*Channel, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	r.mu.Lock()
	if r.conn == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("realtime not connected")
	}
	r.topicSeq++
	r.ref++
	ch := &Channel{
		client:  r,
		topic:   fmt.Sprintf("realtime:%s-%d", cfg.Table, r.topicSeq),
		config:  cfg,
		handler: handler,
		joinRef: strconv.Itoa(r.ref),
	}
	r.channels[ch.topic] = ch
	r.mu.Unlock()

	change := map[string]any{
		"event":  cfg.Event,
		"schema": cfg.Schema,
		"table":  cfg.Table,
	}
	if cfg.Filter != "" {
		change["filter"] = cfg.Filter
	}
	payload := map[string]any{
		"config": map[string]any{
			"postgres_changes": []any{change},
		},
	}
	if accessToken != "" {
		payload["access_token"] = accessToken
	}

	if err := r.send(ch.topic, "phx_join", payload, ch.joinRef, ch.joinRef); err != nil {
		r.mu.Lock()
		delete(r.channels, ch.topic)
		r.mu.Unlock()
		return nil, fmt.Errorf("send join: %w", err)
	}
	return ch, nil
}

// Topic returns the channel topic.
func (c *Channel) Topic() string {
	return c.topic
}

// Unsubscribe leaves the channel. Events arriving afterwards are dropped.
func (c *Channel) Unsubscribe() error {
	r := c.client
	r.mu.Lock()
	if _, ok := r.channels[c.topic]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.channels, c.topic)
	r.ref++
	ref := strconv.Itoa(r.ref)
	connected := r.conn != nil
	r.mu.Unlock()

	if !connected {
		return nil
	}
	if err := r.send(c.topic, "phx_leave", map[string]any{}, ref, c.joinRef); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

func (r *RealtimeClient) send(topic, event string, payload any, ref, joinRef string) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime not connected")
	}

	msg := map[string]any{
		"topic":   topic,
		"event":   event,
		"payload": payload,
		"ref":     ref,
	}
	if joinRef != "" {
		msg["join_ref"] = joinRef
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (r *RealtimeClient) handleMessages(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				close(done)
				r.conn = nil
			}
			r.mu.Unlock()
			return
		}

		var event RealtimeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if event.Event != "postgres_changes" {
			continue
		}
		r.dispatchEvent(&event)
	}
}

func (r *RealtimeClient) dispatchEvent(event *RealtimeEvent) {
	r.mu.Lock()
	ch, ok := r.channels[event.Topic]
	r.mu.Unlock()
	if !ok || ch.handler == nil {
		return
	}
	if ch.config.Event != "*" && !strings.EqualFold(ch.config.Event, event.ChangeType()) {
		return
	}
	go ch.handler(event)
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.ref++
			ref := strconv.Itoa(r.ref)
			r.mu.Unlock()
			_ = r.send("phoenix", "heartbeat", map[string]any{}, ref, "")
		}
	}
}
