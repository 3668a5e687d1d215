package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRealtimeURL(t *testing.T) {
	r := NewRealtimeClient("https://proj.supabase.co/", "anon")
	assert.Equal(t, "wss://proj.supabase.co/realtime/v1/websocket?apikey=anon&vsn=1.0.0", r.url)

	r = NewRealtimeClient("http://localhost:54321", "anon")
	assert.True(t, strings.HasPrefix(r.url, "ws://localhost:54321/realtime/v1/websocket"))
}

func TestSubscribeToPostgresChangesDispatches(t *testing.T) {
	joined := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		joined <- msg

		topic := gjson.GetBytes(msg, "topic").String()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"`+topic+`","event":"postgres_changes","payload":{"data":{"type":"INSERT","record":{"id":"n9","city_id":"c1"}}},"ref":null}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rt := NewRealtimeClient(server.URL, "anon")
	require.NoError(t, rt.Connect(context.Background()))
	defer rt.Disconnect()

	events := make(chan *RealtimeEvent, 1)
	ch, err := rt.SubscribeToPostgresChanges(context.Background(), PostgresChangesConfig{
		Table:  "neighborhoods",
		Filter: "city_id=eq.c1",
	}, "user-token", func(e *RealtimeEvent) { events <- e })
	require.NoError(t, err)

	select {
	case msg := <-joined:
		assert.Equal(t, "phx_join", gjson.GetBytes(msg, "event").String())
		assert.Equal(t, "neighborhoods", gjson.GetBytes(msg, "payload.config.postgres_changes.0.table").String())
		assert.Equal(t, "city_id=eq.c1", gjson.GetBytes(msg, "payload.config.postgres_changes.0.filter").String())
		assert.Equal(t, "user-token", gjson.GetBytes(msg, "payload.access_token").String())
	case <-time.After(2 * time.Second):
		t.Fatal("server never received phx_join")
	}

	select {
	case e := <-events:
		assert.Equal(t, "INSERT", e.ChangeType())
		assert.Equal(t, "c1", e.Record("city_id"))
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the change")
	}

	assert.NoError(t, ch.Unsubscribe())
	assert.NoError(t, ch.Unsubscribe())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	rt := NewRealtimeClient("http://localhost:1", "anon")
	_, err := rt.SubscribeToPostgresChanges(context.Background(), PostgresChangesConfig{Table: "cities"}, "", func(*RealtimeEvent) {})
	assert.Error(t, err)
	assert.NoError(t, rt.Disconnect())
}
