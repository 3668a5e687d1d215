// Package httpapi exposes the portal's screens, auth forms and live channel over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/communicity/portal/internal/account"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
	"github.com/communicity/portal/internal/middleware"
	"github.com/communicity/portal/internal/navigator"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/session"
)

// Options wires a Server. Feed, Accounts and Metrics are optional.
type Options struct {
	ServiceName    string
	Manager        *session.Manager
	Loader         *hierarchy.Loader
	Accounts       *account.Service
	Feed           records.ChangeFeed
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	CookieSecure   bool
	// CookieSecret signs flash cookies. Empty means a random key per process.
	CookieSecret   []byte
	AuthRateLimit  float64
	AuthRateBurst  int
}

// Server is the portal's HTTP surface.
type Server struct {
	opts    Options
	router  *mux.Router
	screens *Screens
	live    *navigator.LiveHandler
	limiter *middleware.RateLimiter
	flash   *flasher
	logger  *logging.Logger
	started time.Time
}

// New builds the router and registers every route.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(opts.ServiceName)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "communicity"
	}
	if opts.AuthRateLimit <= 0 {
		opts.AuthRateLimit = 1
	}
	if opts.AuthRateBurst <= 0 {
		opts.AuthRateBurst = 5
	}

	s := &Server{
		opts:    opts,
		router:  mux.NewRouter(),
		screens: NewScreens(opts.Loader, opts.Accounts),
		limiter: middleware.NewRateLimiter(opts.AuthRateLimit, opts.AuthRateBurst, opts.Logger),
		flash:   newFlasher(opts.CookieSecret, opts.CookieSecure),
		logger:  opts.Logger,
		started: time.Now(),
	}
	s.live = navigator.NewLiveHandler(navigator.LiveConfig{
		CacheFor:       middleware.CacheFromRequest,
		Loader:         opts.Loader,
		Renderer:       s.screens,
		Feed:           opts.Feed,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
		AllowedOrigins: opts.AllowedOrigins,
	})
	s.registerRoutes()
	return s
}

// =============================================================================
// API Routes
// =============================================================================

func (s *Server) registerRoutes() {
	tracing := middleware.NewTracingMiddleware(s.logger)
	cors := middleware.NewCORSMiddleware(s.opts.AllowedOrigins)

	s.router.Use(tracing.Handler)
	s.router.Use(middleware.MetricsMiddleware(s.opts.ServiceName, s.opts.Metrics))
	s.router.Use(cors.Handler)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.opts.Metrics.Handler()).Methods("GET")

	app := s.router.NewRoute().Subrouter()
	app.Use(middleware.NewVisitorMiddleware(s.opts.Manager, s.opts.CookieSecure).Handler)
	app.Use(middleware.NewGuardMiddleware(s.logger, s.opts.Metrics).Handler)

	app.Handle("/live", s.live).Methods("GET")

	app.Handle("/login", s.limiter.Handler(http.HandlerFunc(s.handleLogin))).Methods("POST")
	app.Handle("/signup", s.limiter.Handler(http.HandlerFunc(s.handleSignup))).Methods("POST")
	app.HandleFunc("/logout", s.handleLogout).Methods("POST")
	app.HandleFunc("/selection/city/neighborhood/apartment/floor/select", s.handleSelectFloor).Methods("POST")

	app.HandleFunc("/", s.handleScreen).Methods("GET")
	app.HandleFunc("/login", s.handleScreen).Methods("GET")
	app.HandleFunc("/signup", s.handleScreen).Methods("GET")
	app.HandleFunc("/logout", s.handleScreen).Methods("GET")
	app.HandleFunc("/home", s.handleScreen).Methods("GET")
	app.HandleFunc("/marketplace", s.handleScreen).Methods("GET")
	app.HandleFunc("/city/{cityId}", s.handleScreen).Methods("GET")
	app.HandleFunc("/selection/city", s.handleScreen).Methods("GET")
	app.HandleFunc("/selection/city/neighborhood", s.handleScreen).Methods("GET")
	app.HandleFunc("/selection/city/neighborhood/apartment", s.handleScreen).Methods("GET")
	app.HandleFunc("/selection/city/neighborhood/apartment/floor", s.handleScreen).Methods("GET")
	app.HandleFunc("/selection/city/neighborhood/apartment/floor/select", s.handleScreen).Methods("GET")

	s.router.NotFoundHandler = tracing.Handler(http.HandlerFunc(s.handleNotFound))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// StartMaintenance sweeps idle rate limiters and session caches until ctx is done.
func (s *Server) StartMaintenance(ctx context.Context, interval, maxIdle time.Duration) {
	s.limiter.StartCleanup(ctx, interval, maxIdle)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.opts.Manager.Sweep(maxIdle); n > 0 {
					s.logger.WithField("removed", n).Debug("Swept idle session caches")
				}
			}
		}
	}()
}

// Wait blocks until every live connection has closed.
func (s *Server) Wait() {
	s.live.Wait()
}

// Shutdown closes every live connection. net/http does not track them once
// upgraded, so call it after http.Server.Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.live.Shutdown(ctx)
}
