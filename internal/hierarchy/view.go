package hierarchy

import (
	"net/url"
	"strings"

	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/selection"
)

// Status is the terminal or transient state of a selection screen.
type Status string

const (
	StatusLoading          Status = "loading"
	StatusContent          Status = "content"
	StatusEmpty            Status = "empty"
	StatusError            Status = "error"
	StatusMissingSelection Status = "missing_selection"
)

// Action is a link or form target offered by a view.
type Action struct {
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	Href   string `json:"href"`
	Method string `json:"method,omitempty"`
}

// Notification is an ephemeral message shown alongside a view.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Variant     string `json:"variant,omitempty"`
}

// Card is one record as the renderer shows it.
type Card struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Action      Action `json:"action"`
}

// View is the screen document for one selection screen.
type View struct {
	Screen       string            `json:"screen"`
	Level        string            `json:"level"`
	Title        string            `json:"title"`
	Status       Status            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Cards        []Card            `json:"cards,omitempty"`
	Actions      []Action          `json:"actions,omitempty"`
	Selection    map[string]string `json:"selection,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
}

type levelCopy struct {
	description string
	empty       string
	missing     string
	action      string
}

var copyByLevel = map[selection.Level]levelCopy{
	selection.City: {
		description: "A vibrant and bustling virtual city.",
		empty:       "No cities available yet.",
		action:      "Explore Neighborhoods",
	},
	selection.Neighborhood: {
		description: "A friendly and welcoming neighborhood.",
		empty:       "No neighborhoods available in this city yet.",
		missing:     "City ID is missing. Please go back and select a city.",
		action:      "View Apartments",
	},
	selection.Apartment: {
		description: "A modern and spacious apartment building.",
		empty:       "No apartments available in this neighborhood yet.",
		missing:     "City ID or Neighborhood ID is missing. Please go back and select them.",
		action:      "Choose Your Floor",
	},
	selection.Floor: {
		description: "A floor with various virtual properties.",
		empty:       "No floors available in this apartment yet.",
		missing:     "Missing required IDs. Please go back and select them.",
		action:      "Select This Floor",
	},
}

// Title is the heading of the level's screen, e.g. "Select Your City".
func Title(level selection.Level) string {
	return "Select Your " + capitalize(level.String())
}

// PlaceholderDescription is shown for records without a description.
func PlaceholderDescription(level selection.Level) string {
	return copyByLevel[level].description
}

// PlaceholderImage is shown for records without an image.
func PlaceholderImage(level selection.Level, name string) string {
	return "https://source.unsplash.com/random/400x200/?" + level.String() + "," + url.QueryEscape(name)
}

// FetchErrorMessage is the inline and notification text for a failed fetch.
func FetchErrorMessage(level selection.Level) string {
	return "Failed to load " + level.Plural() + ". Please try again."
}

func baseView(level selection.Level, path selection.Path, status Status) View {
	return View{
		Screen:    "selection",
		Level:     level.String(),
		Title:     Title(level),
		Status:    status,
		Selection: selectionMap(path.Truncate(level - 1)),
	}
}

// LoadingView is the neutral view shown while a fetch is outstanding.
func LoadingView(level selection.Level, path selection.Path) View {
	v := baseView(level, path, StatusLoading)
	v.Message = "Loading " + level.Plural() + "..."
	return v
}

// MissingSelectionView is the terminal view for a screen reached without its ancestors.
// Its only action restarts the hierarchy.
func MissingSelectionView(level selection.Level, path selection.Path) View {
	v := baseView(level, path, StatusMissingSelection)
	v.Message = copyByLevel[level].missing
	v.Actions = []Action{{Kind: "back", Label: "Go back to Cities", Href: selection.RestartURL()}}
	v.Notification = &Notification{Title: "Missing selection", Description: v.Message, Variant: "destructive"}
	return v
}

// ErrorView is the terminal view for a failed fetch: retry the same screen or go back one level.
func ErrorView(level selection.Level, path selection.Path) View {
	v := baseView(level, path, StatusError)
	v.Message = FetchErrorMessage(level)
	v.Actions = []Action{
		{Kind: "retry", Label: "Retry", Href: path.URL(level)},
		backAction(level, path),
	}
	v.Notification = &Notification{Title: "Error", Description: v.Message, Variant: "destructive"}
	return v
}

// ResultView maps a fetch outcome to exactly one of error, empty or content.
func ResultView(level selection.Level, path selection.Path, recs []records.Record, err error) View {
	if err != nil {
		if apperrors.IsMissingAncestor(err) {
			return MissingSelectionView(level, path)
		}
		return ErrorView(level, path)
	}
	if len(recs) == 0 {
		v := baseView(level, path, StatusEmpty)
		v.Message = copyByLevel[level].empty
		return v
	}

	v := baseView(level, path, StatusContent)
	v.Cards = make([]Card, 0, len(recs))
	for _, rec := range recs {
		card, err := cardFor(level, path, rec)
		if err != nil {
			continue
		}
		v.Cards = append(v.Cards, card)
	}
	return v
}

func cardFor(level selection.Level, path selection.Path, rec records.Record) (Card, error) {
	card := Card{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: PlaceholderDescription(level),
		ImageURL:    PlaceholderImage(level, rec.Name),
	}
	if rec.Description != nil && *rec.Description != "" {
		card.Description = *rec.Description
	}
	if rec.ImageURL != nil && *rec.ImageURL != "" {
		card.ImageURL = *rec.ImageURL
	}

	label := copyByLevel[level].action
	if level == selection.Floor {
		href, err := selection.CompleteURL(path, rec.ID)
		if err != nil {
			return Card{}, err
		}
		card.Action = Action{Kind: "select", Label: label, Href: href, Method: "POST"}
		return card, nil
	}

	href, err := selection.NextURL(path, level, rec.ID)
	if err != nil {
		return Card{}, err
	}
	card.Action = Action{Kind: "next", Label: label, Href: href}
	return card, nil
}

func backAction(level selection.Level, path selection.Path) Action {
	parent, ok := level.Parent()
	if !ok {
		return Action{Kind: "back", Label: "Back to Home", Href: selection.BackURL(path, level)}
	}
	return Action{
		Kind:  "back",
		Label: "Go back to " + capitalize(parent.Plural()),
		Href:  selection.BackURL(path, level),
	}
}

func selectionMap(p selection.Path) map[string]string {
	q := p.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FloorSelected confirms the final choice of the hierarchy.
func FloorSelected(floorID string) Notification {
	short := floorID
	if r := []rune(short); len(r) > 8 {
		short = string(r[:8])
	}
	return Notification{Title: "Floor Selected!", Description: "You've selected Floor ID: " + short + "..."}
}
