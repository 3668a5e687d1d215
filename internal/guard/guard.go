// Package guard decides, for each navigation, whether a screen may render
// given the visitor's session state, or where to redirect instead.
package guard

import (
	"sync"

	"github.com/communicity/portal/internal/routes"
)

// State is the guard's view of the visitor's session.
type State int

const (
	// Resolving means the first session lookup has not completed.
	Resolving State = iota
	Guest
	Authenticated
)

func (s State) String() string {
	switch s {
	case Guest:
		return "guest"
	case Authenticated:
		return "authenticated"
	default:
		return "resolving"
	}
}

// StateFor maps a resolved lookup to Guest or Authenticated.
func StateFor(hasSession bool) State {
	if hasSession {
		return Authenticated
	}
	return Guest
}

// Outcome is what the caller should do with the requested screen.
type Outcome int

const (
	Render Outcome = iota
	// Loading renders a neutral placeholder; the session is still resolving.
	Loading
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	default:
		return "render"
	}
}

// Redirect targets.
const (
	LoginPath = routes.PathLogin
	HomePath  = routes.PathHome
)

// Decision is the result of one guard evaluation.
type Decision struct {
	Outcome  Outcome
	Location string
	Policy   routes.Policy
}

// MetricLabel is "render", "loading" or the redirect target.
func (d Decision) MetricLabel() string {
	if d.Outcome == Redirect {
		return d.Location
	}
	return d.Outcome.String()
}

// Decide is the pure guard function.
func Decide(path string, state State) Decision {
	policy := routes.PolicyFor(path)
	d := Decision{Outcome: Render, Policy: policy}

	switch policy {
	case routes.Open:
		return d
	case routes.PublicOnly:
		switch state {
		case Resolving:
			d.Outcome = Loading
		case Authenticated:
			d.Outcome = Redirect
			d.Location = HomePath
		}
	case routes.AuthRequired:
		switch state {
		case Resolving:
			d.Outcome = Loading
		case Guest:
			d.Outcome = Redirect
			d.Location = LoginPath
		}
	}
	return d
}

// Evaluator tracks one visitor's current path and session state and re-runs
// Decide whenever either changes. Re-evaluating an unchanged (path, state)
// pair never emits a second redirect.
type Evaluator struct {
	mu           sync.Mutex
	path         string
	state        State
	hasPath      bool
	lastRedirect *evalKey
}

type evalKey struct {
	path  string
	state State
}

// NewEvaluator starts in Resolving with no path.
func NewEvaluator() *Evaluator {
	return &Evaluator{state: Resolving}
}

// State returns the current session state.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Path returns the current path.
func (e *Evaluator) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Navigate records a path change and evaluates. emit is false when the
// decision is a redirect that was already issued for this (path, state).
func (e *Evaluator) Navigate(path string) (d Decision, emit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = path
	e.hasPath = true
	return e.evaluateLocked()
}

// SetState records a session transition and evaluates. Returning to
// Resolving after the first lookup is ignored.
func (e *Evaluator) SetState(state State) (d Decision, emit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state != Resolving || e.state == Resolving {
		e.state = state
	}
	if !e.hasPath {
		return Decision{Outcome: Loading}, false
	}
	return e.evaluateLocked()
}

// Evaluate re-runs the guard on the current (path, state) without changing either.
func (e *Evaluator) Evaluate() (d Decision, emit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasPath {
		return Decision{Outcome: Loading}, false
	}
	return e.evaluateLocked()
}

func (e *Evaluator) evaluateLocked() (Decision, bool) {
	d := Decide(e.path, e.state)
	if d.Outcome != Redirect {
		e.lastRedirect = nil
		return d, true
	}
	key := evalKey{path: e.path, state: e.state}
	if e.lastRedirect != nil && *e.lastRedirect == key {
		return d, false
	}
	e.lastRedirect = &key
	return d, true
}
