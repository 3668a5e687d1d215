package navigator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/session"
)

// Client message types.
const (
	TypeNavigate = "navigate"
	TypeSubmit   = "submit"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// clientMessage is one client-to-server frame.
type clientMessage struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// LiveConfig wires the live channel handler.
type LiveConfig struct {
	// CacheFor returns the session cache of the visitor making r.
	CacheFor       func(r *http.Request) (*session.Cache, bool)
	Loader         *hierarchy.Loader
	Renderer       Renderer
	Feed           records.ChangeFeed
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// LiveHandler upgrades requests to a websocket and runs a Navigator over it.
type LiveHandler struct {
	cfg      LiveConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	conns   map[*liveConn]context.CancelFunc
	wg      sync.WaitGroup
}

// NewLiveHandler creates the handler. An empty AllowedOrigins accepts any origin.
func NewLiveHandler(cfg LiveConfig) *LiveHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscard()
	}
	h := &LiveHandler{cfg: cfg, conns: make(map[*liveConn]context.CancelFunc)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP implements http.Handler. Upgrades are refused once shutdown has begun.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cache, ok := h.cfg.CacheFor(r)
	if !ok {
		http.Error(w, "missing visitor", http.StatusBadRequest)
		return
	}
	if !h.acquire() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wg.Done()
		h.cfg.Logger.WithContext(r.Context()).WithError(err).Warn("live upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(logging.WithVisitorID(context.WithoutCancel(r.Context()), cache.VisitorID()))
	conn := &liveConn{ws: ws, done: make(chan struct{})}
	if !h.track(conn, cancel) {
		cancel()
		conn.close()
		h.wg.Done()
		return
	}

	go func() {
		defer h.wg.Done()
		defer h.untrack(conn)
		defer cancel()
		h.serve(ctx, conn, cache)
	}()
}

func (h *LiveHandler) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *LiveHandler) track(conn *liveConn, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[conn] = cancel
	return true
}

func (h *LiveHandler) untrack(conn *liveConn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Connections reports how many live connections are open.
func (h *LiveHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown refuses new upgrades, closes every open connection and waits for
// their navigators to stop, or for ctx to end.
func (h *LiveHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for conn, cancel := range h.conns {
		cancel()
		conn.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait refuses new upgrades and blocks until every open connection has ended on its own.
func (h *LiveHandler) Wait() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *LiveHandler) serve(ctx context.Context, conn *liveConn, cache *session.Cache) {
	ws := conn.ws
	defer conn.close()

	nav := New(Options{
		Cache:    cache,
		Loader:   h.cfg.Loader,
		Renderer: h.cfg.Renderer,
		Feed:     h.cfg.Feed,
		Logger:   h.cfg.Logger,
		Metrics:  h.cfg.Metrics,
		Send: func(m Message) {
			if err := conn.write(m); err != nil {
				h.cfg.Logger.WithContext(ctx).WithError(err).Debug("live write failed")
			}
		},
	})
	defer nav.Close()
	nav.Start(ctx)

	go conn.pingLoop()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.cfg.Logger.WithContext(ctx).WithError(err).Debug("live connection closed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.write(Message{Type: TypeNotification, Notification: &hierarchy.Notification{
				Title: "Error", Description: "Malformed message", Variant: "destructive",
			}})
			continue
		}

		switch msg.Type {
		case TypeNavigate:
			nav.Navigate(msg.Path)
		case TypeSubmit:
			nav.Submit(msg.Path)
		default:
			_ = conn.write(Message{Type: TypeNotification, Notification: &hierarchy.Notification{
				Title: "Error", Description: "Unknown message type " + msg.Type, Variant: "destructive",
			}})
		}
	}
}

// liveConn serializes writes; gorilla allows one concurrent writer.
type liveConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (c *liveConn) write(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(m)
}

func (c *liveConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *liveConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.ws.Close()
}
