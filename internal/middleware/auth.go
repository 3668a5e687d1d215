// Package middleware provides HTTP middleware for the portal
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/communicity/portal/internal/guard"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/session"
)

// VisitorCookie binds a browser to its session cache.
const VisitorCookie = "communicity_visitor"

const visitorCookieMaxAge = 30 * 24 * time.Hour

type contextKey string

const (
	cacheKey   contextKey = "session_cache"
	sessionKey contextKey = "session"
)

// VisitorMiddleware assigns every browser a visitor id and attaches its session cache
type VisitorMiddleware struct {
	manager *session.Manager
	secure  bool
}

// NewVisitorMiddleware creates the middleware. secure marks the cookie HTTPS-only.
func NewVisitorMiddleware(manager *session.Manager, secure bool) *VisitorMiddleware {
	return &VisitorMiddleware{manager: manager, secure: secure}
}

// Handler returns the middleware handler
func (m *VisitorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID := ""
		if c, err := r.Cookie(VisitorCookie); err == nil && session.ValidVisitorID(c.Value) {
			visitorID = c.Value
		}
		if visitorID == "" {
			visitorID = session.NewVisitorID()
			http.SetCookie(w, &http.Cookie{
				Name:     VisitorCookie,
				Value:    visitorID,
				Path:     "/",
				MaxAge:   int(visitorCookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := logging.WithVisitorID(r.Context(), visitorID)
		ctx = context.WithValue(ctx, cacheKey, m.manager.Cache(visitorID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CacheFromContext returns the session cache attached by VisitorMiddleware.
func CacheFromContext(ctx context.Context) (*session.Cache, bool) {
	c, ok := ctx.Value(cacheKey).(*session.Cache)
	return c, ok && c != nil
}

// CacheFromRequest is CacheFromContext for a request.
func CacheFromRequest(r *http.Request) (*session.Cache, bool) {
	return CacheFromContext(r.Context())
}

// SessionFromContext returns the session resolved by GuardMiddleware, or nil for guests.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// GuardMiddleware resolves the visitor's session and applies the route's guard policy
type GuardMiddleware struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewGuardMiddleware creates the guard. metrics may be nil.
func NewGuardMiddleware(logger *logging.Logger, m *metrics.Metrics) *GuardMiddleware {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &GuardMiddleware{logger: logger, metrics: m}
}

// Handler returns the middleware handler
func (m *GuardMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cache, ok := CacheFromRequest(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		// Lookup failures are already reported to diagnostics and read as a guest.
		s, _ := cache.Lookup(r.Context())
		d := guard.Decide(r.URL.Path, guard.StateFor(s != nil))
		if m.metrics != nil {
			m.metrics.RecordGuardDecision(d.Policy.String(), d.MetricLabel())
		}

		if d.Outcome == guard.Redirect {
			m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
				"path":     r.URL.Path,
				"location": d.Location,
			}).Debug("Guard redirect")
			http.Redirect(w, r, d.Location, redirectStatus(r))
			return
		}

		ctx := WithSession(r.Context(), s)
		if s != nil {
			ctx = logging.WithUserID(ctx, s.UserID)
			ctx = records.WithAccessToken(ctx, cache.AccessToken(ctx))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// redirectStatus turns form posts into a GET on the new location.
func redirectStatus(r *http.Request) int {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
