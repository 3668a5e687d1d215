package navigator

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

	"github.com/communicity/portal/internal/auth"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/session"
)

func newLiveServer(t *testing.T, origins ...string) (*httptest.Server, *LiveHandler) {
	t.Helper()
	srv, h, _ := newLiveServerWithManager(t, origins...)
	return srv, h
}

func newLiveServerWithManager(t *testing.T, origins ...string) (*httptest.Server, *LiveHandler, *session.Manager) {
	t.Helper()

	seed, err := records.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	provider := &tokenProvider{users: map[string]auth.Identity{"tok-ada": {UserID: "u1", Email: "ada@example.com"}}}
	tokens := session.NewMemoryTokenStore(0)
	require.NoError(t, tokens.Save(context.Background(), "v1", auth.Tokens{AccessToken: "tok-ada"}))
	manager := session.NewManager(provider, tokens, nil, nil)

	h := NewLiveHandler(LiveConfig{
		CacheFor: func(r *http.Request) (*session.Cache, bool) {
			id := r.URL.Query().Get("visitor")
			if id == "" {
				return nil, false
			}
			return manager.Cache(id), true
		},
		Loader:         hierarchy.NewLoader(records.NewMemoryStoreFromSeed(seed), time.Second, nil, nil),
		Renderer:       stubRenderer{},
		AllowedOrigins: origins,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		h.Wait()
	})
	return srv, h, manager
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live" + query
	return websocket.DefaultDialer.Dial(u, header)
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, ws.ReadJSON(&m))
	return m
}

func TestLiveNavigate(t *testing.T) {
	srv, _ := newLiveServer(t)
	ws, _, err := dial(t, srv, "?visitor=v1", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "navigate", "path": "/selection/city"}))

	m := readMessage(t, ws)
	assert.Equal(t, TypeScreen, m["type"])
	assert.Equal(t, "loading", m["screen"].(map[string]any)["status"])

	m = readMessage(t, ws)
	screen := m["screen"].(map[string]any)
	assert.Equal(t, "content", screen["status"])
	assert.Len(t, screen["cards"], 2)
}

func TestLiveRejectsUnknownMessages(t *testing.T) {
	srv, _ := newLiveServer(t)
	ws, _, err := dial(t, srv, "?visitor=v1", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	m := readMessage(t, ws)
	assert.Equal(t, TypeNotification, m["type"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "teleport"}))
	m = readMessage(t, ws)
	assert.Contains(t, m["notification"].(map[string]any)["description"], "teleport")
}

func TestLiveRequiresVisitor(t *testing.T) {
	srv, _ := newLiveServer(t)
	_, resp, err := dial(t, srv, "", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLiveChecksOrigin(t *testing.T) {
	srv, _ := newLiveServer(t, "https://communicity.example")

	_, resp, err := dial(t, srv, "?visitor=v1", http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := dial(t, srv, "?visitor=v1", http.Header{"Origin": {"https://communicity.example"}})
	require.NoError(t, err)
	ws.Close()
}

func TestLiveShutdownClosesConnections(t *testing.T) {
	srv, h, manager := newLiveServerWithManager(t)
	ws, _, err := dial(t, srv, "?visitor=v1", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "navigate", "path": "/home"}))
	readMessage(t, ws)
	assert.Equal(t, 1, h.Connections())
	assert.Equal(t, 1, manager.Cache("v1").Subscribers())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, h.Connections())
	assert.Equal(t, 0, manager.Cache("v1").Subscribers())

	_, resp, err := dial(t, srv, "?visitor=v1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
