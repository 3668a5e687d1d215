// Package navigator drives one visitor's navigation over a live connection:
// it re-runs the route guard on every path change and session transition and
// owns the lifecycle of the selection screen being shown.
package navigator

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/communicity/portal/internal/guard"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/routes"
	"github.com/communicity/portal/internal/selection"
	"github.com/communicity/portal/internal/session"
)

// Message types pushed to the client.
const (
	TypeRedirect     = "redirect"
	TypeScreen       = "screen"
	TypeLoading      = "loading"
	TypeNotification = "notification"
)

// Message is one server-to-client frame.
type Message struct {
	Type         string                  `json:"type"`
	Location     string                  `json:"location,omitempty"`
	Screen       any                     `json:"screen,omitempty"`
	Notification *hierarchy.Notification `json:"notification,omitempty"`
}

// Renderer builds the documents for screens that are not selection screens.
type Renderer interface {
	RenderScreen(ctx context.Context, route routes.Route, target *url.URL, s *session.Session) any
}

// Options configures a Navigator. Feed, Logger and Metrics are optional.
type Options struct {
	Cache    *session.Cache
	Loader   *hierarchy.Loader
	Renderer Renderer
	Feed     records.ChangeFeed
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Send     func(Message)
}

// Navigator is the per-connection navigation controller.
type Navigator struct {
	opts      Options
	evaluator *guard.Evaluator

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	target      *url.URL
	rendered    string
	failed      atomic.Bool
	screen      *hierarchy.Screen
	stopFeed    func()
	unsubscribe func()
	closed      bool
}

// New creates a navigator. Call Start before Navigate.
func New(opts Options) *Navigator {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	return &Navigator{opts: opts, evaluator: guard.NewEvaluator()}
}

// Start subscribes to the session cache and resolves the session.
func (n *Navigator) Start(ctx context.Context) {
	n.mu.Lock()
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.mu.Unlock()

	unsubscribe := n.opts.Cache.Subscribe(n.onSession)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		unsubscribe()
		return
	}
	n.unsubscribe = unsubscribe
	n.mu.Unlock()

	s := n.opts.Cache.Current(n.context())
	n.apply(n.evaluator.SetState(guard.StateFor(s != nil)))
}

// Navigate moves to rawPath, which may carry a query string.
func (n *Navigator) Navigate(rawPath string) {
	target, err := url.Parse(rawPath)
	if err != nil || target.Path == "" {
		n.opts.Send(Message{Type: TypeNotification, Notification: &hierarchy.Notification{
			Title: "Error", Description: "Invalid path", Variant: "destructive",
		}})
		return
	}

	n.mu.Lock()
	n.target = target
	n.mu.Unlock()

	n.apply(n.evaluator.Navigate(target.Path))
}

// Submit completes the hierarchy with the floor choice carried in rawPath.
func (n *Navigator) Submit(rawPath string) {
	target, err := url.Parse(rawPath)
	if err != nil || target.Path != selection.CompletePath {
		n.Navigate(rawPath)
		return
	}
	if d := guard.Decide(target.Path, n.evaluator.State()); d.Outcome != guard.Render {
		n.apply(n.evaluator.Navigate(target.Path))
		return
	}

	path := selection.FromQuery(target.Query())
	if _, err := path.ReadAncestors(selection.Levels...); err != nil {
		n.opts.Send(Message{Type: TypeNotification, Notification: &hierarchy.Notification{
			Title: "Missing selection", Description: err.Error(), Variant: "destructive",
		}})
		return
	}

	done := hierarchy.FloorSelected(path.ID(selection.Floor))
	n.opts.Send(Message{Type: TypeNotification, Notification: &done})
	n.opts.Send(Message{Type: TypeRedirect, Location: routes.PathHome})
	n.Navigate(routes.PathHome)
}

// Close unsubscribes from the session cache and stops the active screen.
func (n *Navigator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	unsubscribe := n.unsubscribe
	n.teardownLocked()
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (n *Navigator) onSession(ev session.Event) {
	n.apply(n.evaluator.SetState(guard.StateFor(ev.Session != nil)))
}

func (n *Navigator) apply(d guard.Decision, emit bool) {
	if n.opts.Metrics != nil && emit {
		n.opts.Metrics.RecordGuardDecision(d.Policy.String(), d.MetricLabel())
	}

	switch d.Outcome {
	case guard.Loading:
		n.mu.Lock()
		n.rendered = ""
		n.mu.Unlock()
		if emit {
			n.opts.Send(Message{Type: TypeLoading})
		}
	case guard.Redirect:
		if !emit {
			return
		}
		n.opts.Logger.WithContext(n.context()).
			WithField("from", n.evaluator.Path()).
			WithField("to", d.Location).
			Debug("guard redirect")
		n.opts.Send(Message{Type: TypeRedirect, Location: d.Location})
		n.Navigate(d.Location)
	case guard.Render:
		n.render()
	}
}

// render shows the current target unless it is already on screen for this
// session state. A screen showing a failed fetch is always rendered again so
// its retry action issues a new fetch.
func (n *Navigator) render() {
	n.mu.Lock()
	if n.closed || n.target == nil {
		n.mu.Unlock()
		return
	}
	target := n.target
	key := target.String() + "|" + n.evaluator.State().String()
	if key == n.rendered && !n.failed.Load() {
		n.mu.Unlock()
		return
	}
	n.rendered = key
	n.failed.Store(false)
	n.teardownLocked()
	ctx := n.ctx

	route, _ := routes.Match(target.Path)
	if !route.IsSelection() {
		n.mu.Unlock()
		ctx = n.scoped(ctx)
		s, _ := n.opts.Cache.Peek()
		n.opts.Send(Message{Type: TypeScreen, Screen: n.opts.Renderer.RenderScreen(ctx, route, target, s)})
		return
	}

	level := route.Level
	path := selection.FromQuery(target.Query())
	// Results wait until the loading view is on the wire.
	ready := make(chan struct{})
	screen := hierarchy.NewScreen(n.opts.Loader, level, func(v hierarchy.View) {
		<-ready
		n.sendView(v)
	})
	n.screen = screen
	n.mu.Unlock()

	ctx = n.scoped(ctx)
	view := screen.Load(ctx, path)
	n.sendView(view)
	close(ready)
	if view.Status == hierarchy.StatusLoading {
		n.watch(ctx, screen, level, path)
	}
}

func (n *Navigator) sendView(v hierarchy.View) {
	if v.Status == hierarchy.StatusError {
		n.failed.Store(true)
	}
	n.opts.Send(Message{Type: TypeScreen, Screen: v})
	if v.Notification != nil {
		n.opts.Send(Message{Type: TypeNotification, Notification: v.Notification})
	}
}

// watch reloads screen whenever rows under its parent change.
func (n *Navigator) watch(ctx context.Context, screen *hierarchy.Screen, level selection.Level, path selection.Path) {
	if n.opts.Feed == nil {
		return
	}
	var filter records.Filter
	if parent, ok := level.Parent(); ok {
		filter = records.Filter{Field: level.ParentField(), Value: path.ID(parent)}
	}

	stop, err := n.opts.Feed.Watch(ctx, level.Table(), filter, n.opts.Cache.AccessToken(ctx), func() {
		screen.Reload(ctx)
	})
	if err != nil {
		n.opts.Logger.LogDiagnostic(ctx, "navigator", err, map[string]interface{}{"table": level.Table()})
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.screen != screen || n.closed {
		stop()
		return
	}
	n.stopFeed = stop
}

// scoped makes record queries issued with ctx run as the signed-in visitor.
func (n *Navigator) scoped(ctx context.Context) context.Context {
	if n.evaluator.State() != guard.Authenticated {
		return ctx
	}
	return records.WithAccessToken(ctx, n.opts.Cache.AccessToken(ctx))
}

func (n *Navigator) teardownLocked() {
	if n.stopFeed != nil {
		n.stopFeed()
		n.stopFeed = nil
	}
	if n.screen != nil {
		n.screen.Close()
		n.screen = nil
	}
}

func (n *Navigator) context() context.Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx == nil {
		return context.Background()
	}
	return n.ctx
}
