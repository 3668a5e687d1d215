package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/communicity/portal/internal/account"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/marketplace"
	"github.com/communicity/portal/internal/routes"
	"github.com/communicity/portal/internal/selection"
	"github.com/communicity/portal/internal/session"
)

// =============================================================================
// Screen documents
// =============================================================================

// Feature is one of the landing page highlights.
type Feature struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// LandingView is the public entry screen.
type LandingView struct {
	Screen   string             `json:"screen"`
	Title    string             `json:"title"`
	Tagline  string             `json:"tagline"`
	Features []Feature          `json:"features"`
	Actions  []hierarchy.Action `json:"actions"`
}

// Field is one input of an auth form.
type Field struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// FormView is the login or signup screen.
type FormView struct {
	Screen  string             `json:"screen"`
	Title   string             `json:"title"`
	Action  hierarchy.Action   `json:"action"`
	Fields  []Field            `json:"fields"`
	Links   []hierarchy.Action `json:"links"`
	Message string             `json:"message,omitempty"`
}

// ResidenceCard reports the visitor's place in the hierarchy.
type ResidenceCard struct {
	Title  string           `json:"title"`
	Status string           `json:"status"`
	Action hierarchy.Action `json:"action"`
}

// HomeView is the signed-in dashboard.
type HomeView struct {
	Screen     string             `json:"screen"`
	Greeting   string             `json:"greeting"`
	Subtitle   string             `json:"subtitle"`
	AvatarURL  string             `json:"avatarUrl"`
	SparkCoins int64              `json:"sparkCoins"`
	Residence  ResidenceCard      `json:"residence"`
	Nav        []hierarchy.Action `json:"nav"`
}

// LogoutView confirms a sign-out.
type LogoutView struct {
	Screen string           `json:"screen"`
	Title  string           `json:"title"`
	Action hierarchy.Action `json:"action"`
}

// NotFoundView is shown for unknown paths.
type NotFoundView struct {
	Screen  string           `json:"screen"`
	Path    string           `json:"path"`
	Message string           `json:"message"`
	Action  hierarchy.Action `json:"action"`
}

var navItems = []hierarchy.Action{
	{Kind: "link", Label: "Home", Href: routes.PathHome},
	{Kind: "link", Label: "Cities", Href: selection.City.ScreenPath()},
	{Kind: "link", Label: "Marketplace", Href: routes.PathMarketplace},
	{Kind: "submit", Label: "Log out", Href: routes.PathLogout, Method: http.MethodPost},
}

// Screens renders every screen document. It serves both the HTTP handlers
// and the live channel.
type Screens struct {
	loader   *hierarchy.Loader
	accounts *account.Service
}

// NewScreens creates the renderer.
func NewScreens(loader *hierarchy.Loader, accounts *account.Service) *Screens {
	return &Screens{loader: loader, accounts: accounts}
}

// RenderScreen builds the document for route. Selection screens are resolved
// synchronously; the live channel streams them through a Screen instead.
func (sc *Screens) RenderScreen(ctx context.Context, route routes.Route, target *url.URL, s *session.Session) any {
	switch route.Screen {
	case routes.ScreenLanding:
		return landingView()
	case routes.ScreenLogin:
		return loginView("")
	case routes.ScreenSignup:
		return signupView("")
	case routes.ScreenHome:
		return sc.homeView(ctx, s)
	case routes.ScreenMarketplace:
		q := target.Query()
		return marketplace.Search(q.Get("q"), q.Get("category"))
	case routes.ScreenCityDetail:
		id, _ := routes.CityIDFromPath(target.Path)
		return sc.loader.CityDetail(ctx, id)
	case routes.ScreenSelection, routes.ScreenSelectFloor:
		return sc.loader.Resolve(ctx, route.Level, selection.FromQuery(target.Query()))
	case routes.ScreenLogout:
		return LogoutView{
			Screen: string(routes.ScreenLogout),
			Title:  "Log out of CommuniCity?",
			Action: hierarchy.Action{Kind: "submit", Label: "Log out", Href: routes.PathLogout, Method: http.MethodPost},
		}
	default:
		return NotFoundView{
			Screen:  string(routes.ScreenNotFound),
			Path:    target.Path,
			Message: "Page not found.",
			Action:  hierarchy.Action{Kind: "link", Label: "Go to Home", Href: routes.PathHome},
		}
	}
}

// statusFor maps a screen document to its HTTP status.
func statusFor(doc any) int {
	switch v := doc.(type) {
	case hierarchy.View:
		switch v.Status {
		case hierarchy.StatusMissingSelection:
			return http.StatusBadRequest
		case hierarchy.StatusError:
			return http.StatusBadGateway
		}
	case hierarchy.CityDetailView:
		switch v.Status {
		case hierarchy.StatusNotFound:
			return http.StatusNotFound
		case hierarchy.StatusError:
			return http.StatusBadGateway
		}
	case NotFoundView:
		return http.StatusNotFound
	}
	return http.StatusOK
}

func landingView() LandingView {
	return LandingView{
		Screen:  string(routes.ScreenLanding),
		Title:   "CommuniCity",
		Tagline: "Dive into CommuniCity, an AI-powered social universe where you can connect, create, and thrive in vibrant virtual communities. Explore cities, build your dream house, and earn SparkCoins!",
		Features: []Feature{
			{Title: "Explore Cities", Description: "Discover diverse virtual cities, each with unique cultures and communities waiting for you."},
			{Title: "AI-Powered Creation", Description: "Unleash your creativity with integrated AI tools to build, design, and personalize your virtual spaces."},
			{Title: "Connect & Socialize", Description: "Join neighborhoods, apartments, and houses to connect with like-minded individuals and build lasting friendships."},
		},
		Actions: []hierarchy.Action{
			{Kind: "link", Label: "Join CommuniCity", Href: routes.PathSignup},
			{Kind: "link", Label: "Login", Href: routes.PathLogin},
		},
	}
}

var credentialFields = []Field{
	{Name: "email", Label: "Email", Type: "email"},
	{Name: "password", Label: "Password", Type: "password"},
}

func loginView(message string) FormView {
	return FormView{
		Screen:  string(routes.ScreenLogin),
		Title:   "Welcome Back!",
		Action:  hierarchy.Action{Kind: "submit", Label: "Login", Href: routes.PathLogin, Method: http.MethodPost},
		Fields:  credentialFields,
		Links:   []hierarchy.Action{{Kind: "link", Label: "Sign Up", Href: routes.PathSignup}},
		Message: message,
	}
}

func signupView(message string) FormView {
	return FormView{
		Screen:  string(routes.ScreenSignup),
		Title:   "Join CommuniCity",
		Action:  hierarchy.Action{Kind: "submit", Label: "Sign Up", Href: routes.PathSignup, Method: http.MethodPost},
		Fields:  credentialFields,
		Links:   []hierarchy.Action{{Kind: "link", Label: "Login", Href: routes.PathLogin}},
		Message: message,
	}
}

func (sc *Screens) homeView(ctx context.Context, s *session.Session) HomeView {
	v := HomeView{
		Screen:     string(routes.ScreenHome),
		Subtitle:   "Explore your virtual world and connect with others.",
		SparkCoins: account.DefaultSparkCoins,
		Residence: ResidenceCard{
			Title:  "Current Location",
			Status: "Not Selected Yet",
			Action: hierarchy.Action{
				Kind:  "link",
				Label: "Select your City, Neighborhood, Apartment, and Floor",
				Href:  selection.RestartURL(),
			},
		},
		Nav: navItems,
	}
	if s == nil {
		return v
	}
	v.Greeting = "Welcome, " + s.DisplayName() + "!"
	v.AvatarURL = s.AvatarURL()
	if sc.accounts != nil {
		v.SparkCoins = sc.accounts.SparkCoins(ctx, s.UserID)
	}
	return v
}
