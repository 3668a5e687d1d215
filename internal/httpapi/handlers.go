package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/communicity/portal/internal/account"
	"github.com/communicity/portal/internal/auth"
	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/httputil"
	"github.com/communicity/portal/internal/middleware"
	"github.com/communicity/portal/internal/routes"
	"github.com/communicity/portal/internal/selection"
)

// Page is the body of every screen response.
type Page struct {
	Screen       any                     `json:"screen"`
	Notification *hierarchy.Notification `json:"notification,omitempty"`
}

// credentials is the login and signup form body.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"service":         s.opts.ServiceName,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"active_visitors": s.opts.Manager.Len(),
	})
}

// handleScreen renders the screen for the request path. The guard has already run.
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	route, _ := routes.Match(r.URL.Path)
	doc := s.screens.RenderScreen(r.Context(), route, r.URL, middleware.SessionFromContext(r.Context()))
	s.writePage(w, r, statusFor(doc), doc, nil)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	route, _ := routes.Match(r.URL.Path)
	doc := s.screens.RenderScreen(r.Context(), route, r.URL, nil)
	s.writePage(w, r, http.StatusNotFound, doc, nil)
}

// handleLogin signs the visitor in and sends them home.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	cache, ok := middleware.CacheFromRequest(r)
	if !ok {
		httputil.WriteServiceError(w, r, apperrors.BadRequest("missing visitor"))
		return
	}

	creds, problem := readCredentials(r)
	if problem != "" {
		s.writePage(w, r, http.StatusBadRequest, loginView(problem), &hierarchy.Notification{
			Title: "Login Error", Description: problem, Variant: "destructive",
		})
		return
	}

	if _, err := cache.SignIn(r.Context(), creds.Email, creds.Password); err != nil {
		status, msg := s.authFailure(r, "login", err)
		s.writePage(w, r, status, loginView(msg), &hierarchy.Notification{
			Title: "Login Error", Description: msg, Variant: "destructive",
		})
		return
	}

	s.flash.set(w, hierarchy.Notification{Title: "Login Successful", Description: "Welcome back to CommuniCity!"})
	http.Redirect(w, r, routes.PathHome, http.StatusSeeOther)
}

// handleSignup creates an account with the starting SparkCoins balance.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	cache, ok := middleware.CacheFromRequest(r)
	if !ok {
		httputil.WriteServiceError(w, r, apperrors.BadRequest("missing visitor"))
		return
	}

	creds, problem := readCredentials(r)
	if problem != "" {
		s.writePage(w, r, http.StatusBadRequest, signupView(problem), &hierarchy.Notification{
			Title: "Signup Error", Description: problem, Variant: "destructive",
		})
		return
	}

	metadata := map[string]any{"spark_coins": account.DefaultSparkCoins}
	sess, err := cache.SignUp(r.Context(), creds.Email, creds.Password, metadata)
	if err != nil {
		status, msg := s.authFailure(r, "signup", err)
		s.writePage(w, r, status, signupView(msg), &hierarchy.Notification{
			Title: "Signup Error", Description: msg, Variant: "destructive",
		})
		return
	}

	if sess != nil {
		s.flash.set(w, hierarchy.Notification{Title: "Signup Successful", Description: "Welcome to CommuniCity!"})
		http.Redirect(w, r, routes.PathHome, http.StatusSeeOther)
		return
	}
	s.flash.set(w, hierarchy.Notification{Title: "Signup Successful", Description: "Your account has been created! Please log in."})
	http.Redirect(w, r, routes.PathLogin, http.StatusSeeOther)
}

// handleLogout signs out. On failure the session is kept and the visitor stays.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cache, ok := middleware.CacheFromRequest(r)
	if !ok {
		httputil.WriteServiceError(w, r, apperrors.BadRequest("missing visitor"))
		return
	}

	if err := cache.SignOut(r.Context()); err != nil {
		s.logger.LogDiagnostic(r.Context(), "logout", err, nil)
		route, _ := routes.Match(routes.PathLogout)
		doc := s.screens.RenderScreen(r.Context(), route, r.URL, middleware.SessionFromContext(r.Context()))
		s.writePage(w, r, http.StatusBadGateway, doc, &hierarchy.Notification{
			Title: "Logout Error", Description: logoutErrorMessage(err), Variant: "destructive",
		})
		return
	}

	s.logger.LogSecurityEvent(r.Context(), "signed_out", nil)
	s.flash.set(w, hierarchy.Notification{Title: "Logged out", Description: "You have been successfully logged out."})
	http.Redirect(w, r, routes.PathLogin, http.StatusSeeOther)
}

// handleSelectFloor completes the hierarchy. The selection is not kept.
func (s *Server) handleSelectFloor(w http.ResponseWriter, r *http.Request) {
	path := selection.FromQuery(r.URL.Query())
	if _, err := path.ReadAncestors(selection.Levels...); err != nil {
		se := apperrors.GetServiceError(err)
		view := hierarchy.MissingSelectionView(selection.Floor, path)
		s.writePage(w, r, se.HTTPStatus, view, &hierarchy.Notification{
			Title: "Missing selection", Description: err.Error(), Variant: "destructive",
		})
		return
	}

	s.flash.set(w, hierarchy.FloorSelected(path.ID(selection.Floor)))
	http.Redirect(w, r, routes.PathHome, http.StatusSeeOther)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) writePage(w http.ResponseWriter, r *http.Request, status int, doc any, n *hierarchy.Notification) {
	if flash := s.flash.take(w, r); flash != nil && n == nil {
		n = flash
	}
	httputil.WriteJSON(w, status, Page{Screen: doc, Notification: n})
}

// authFailure maps a sign-in or sign-up error to a status and the message shown to the visitor.
func (s *Server) authFailure(r *http.Request, action string, err error) (int, string) {
	var rejected *auth.RejectedError
	if errors.As(err, &rejected) {
		s.logger.LogSecurityEvent(r.Context(), action+"_rejected", map[string]interface{}{"status": rejected.StatusCode})
		se := apperrors.Unauthorized(rejected.Message)
		return se.HTTPStatus, se.Message
	}
	se := apperrors.Unavailable("Authentication service unavailable. Please try again.", err)
	s.logger.LogDiagnostic(r.Context(), action, se, nil)
	return se.HTTPStatus, se.Message
}

func logoutErrorMessage(err error) string {
	var rejected *auth.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Message
	}
	return "Could not reach the authentication service. You are still signed in."
}

const (
	msgInvalidBody         = "Invalid request body."
	msgCredentialsRequired = "Email and password are required."
)

// readCredentials accepts a JSON body or a url-encoded form. A non-empty
// problem is shown to the visitor as is.
func readCredentials(r *http.Request) (creds credentials, problem string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := httputil.ReadJSON(r, &creds); err != nil {
			return credentials{}, msgInvalidBody
		}
	} else {
		r.Body = http.MaxBytesReader(nil, r.Body, httputil.MaxRequestBodyBytes)
		if err := r.ParseForm(); err != nil {
			return credentials{}, msgInvalidBody
		}
		creds.Email = r.PostForm.Get("email")
		creds.Password = r.PostForm.Get("password")
	}

	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return credentials{}, msgCredentialsRequired
	}
	return creds, ""
}
