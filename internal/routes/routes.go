// Package routes is the portal's route table: which screen each path shows,
// which guard policy applies, and which selection ancestors it requires.
package routes

import (
	"strings"

	"github.com/communicity/portal/internal/selection"
)

// Policy is the guard policy attached to a route.
type Policy int

const (
	// Open routes are never redirected (health, metrics, assets).
	Open Policy = iota
	// PublicOnly routes are for guests; signed-in visitors go to /home.
	PublicOnly
	// AuthRequired routes are for signed-in visitors; guests go to /login.
	AuthRequired
)

func (p Policy) String() string {
	switch p {
	case PublicOnly:
		return "public_only"
	case AuthRequired:
		return "auth_required"
	default:
		return "open"
	}
}

// Screen identifies what a route renders.
type Screen string

const (
	ScreenLanding     Screen = "landing"
	ScreenLogin       Screen = "login"
	ScreenSignup      Screen = "signup"
	ScreenHome        Screen = "home"
	ScreenMarketplace Screen = "marketplace"
	ScreenCityDetail  Screen = "city_detail"
	ScreenSelection   Screen = "selection"
	ScreenSelectFloor Screen = "select_floor"
	ScreenLogout      Screen = "logout"
	ScreenNotFound    Screen = "not_found"
)

// Well-known paths.
const (
	PathLanding     = "/"
	PathLogin       = "/login"
	PathSignup      = "/signup"
	PathHome        = "/home"
	PathMarketplace = "/marketplace"
	PathLogout      = "/logout"
	PathCityPrefix  = "/city/"
)

// Route is one entry of the table.
type Route struct {
	Pattern string
	Screen  Screen
	Policy  Policy
	// Level is set for selection screens.
	Level selection.Level
	// Required lists the selection ancestors that must be present in the query.
	Required []selection.Level
}

// IsSelection reports whether the route is one of the four selection screens.
func (r Route) IsSelection() bool {
	return r.Screen == ScreenSelection
}

var cityDetail = Route{Pattern: PathCityPrefix + ":cityId", Screen: ScreenCityDetail, Policy: AuthRequired}

var table = []Route{
	{Pattern: PathLanding, Screen: ScreenLanding, Policy: PublicOnly},
	{Pattern: PathLogin, Screen: ScreenLogin, Policy: PublicOnly},
	{Pattern: PathSignup, Screen: ScreenSignup, Policy: PublicOnly},
	{Pattern: PathHome, Screen: ScreenHome, Policy: AuthRequired},
	{Pattern: PathMarketplace, Screen: ScreenMarketplace, Policy: AuthRequired},
	{Pattern: PathLogout, Screen: ScreenLogout, Policy: AuthRequired},
	cityDetail,
	{
		Pattern:  selection.CompletePath,
		Screen:   ScreenSelectFloor,
		Policy:   AuthRequired,
		Level:    selection.Floor,
		Required: selection.Floor.Ancestors(),
	},
}

func init() {
	for _, l := range selection.Levels {
		table = append(table, Route{
			Pattern:  l.ScreenPath(),
			Screen:   ScreenSelection,
			Policy:   AuthRequired,
			Level:    l,
			Required: l.Ancestors(),
		})
	}
}

// Table returns a copy of the route table.
func Table() []Route {
	out := make([]Route, len(table))
	copy(out, table)
	return out
}

// Match finds the route for a URL path. The query string, if any, is ignored.
func Match(path string) (Route, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	for _, r := range table {
		if r.Pattern == path {
			return r, true
		}
	}
	if id, ok := CityIDFromPath(path); ok && id != "" {
		return cityDetail, true
	}
	return Route{Pattern: path, Screen: ScreenNotFound, Policy: Open}, false
}

// CityIDFromPath extracts :cityId from /city/:cityId.
func CityIDFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, PathCityPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(path, PathCityPrefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// PolicyFor returns the guard policy for path. Unknown paths are Open.
func PolicyFor(path string) Policy {
	r, _ := Match(path)
	return r.Policy
}
