package selection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/communicity/portal/internal/errors"
)

// Path is the partially filled (cityId, neighborhoodId, apartmentId, floorId) tuple.
// It is a value type: every operation returns a new Path and never alters its receiver.
type Path struct {
	ids [4]string
}

// Empty is the selection at the hierarchy root.
var Empty = Path{}

// FromQuery reads the selection parameters present in q. Values are trimmed; nothing is validated.
func FromQuery(q url.Values) Path {
	var p Path
	for _, l := range Levels {
		p.ids[l] = strings.TrimSpace(q.Get(l.Param()))
	}
	return p
}

// ID returns the selected id for l, or "".
func (p Path) ID(l Level) string {
	if !l.Valid() {
		return ""
	}
	return p.ids[l]
}

// Ancestors maps each required level to its selected id.
type Ancestors map[Level]string

// ReadAncestors returns the ids for required, checked outermost first.
// The first level whose id is absent or empty yields a *errors.MissingAncestor.
func (p Path) ReadAncestors(required ...Level) (Ancestors, error) {
	checked := make([]Level, 0, len(required))
	for _, l := range Levels {
		for _, r := range required {
			if r == l {
				checked = append(checked, l)
				break
			}
		}
	}
	if len(checked) != len(required) {
		return nil, fmt.Errorf("selection: invalid required levels %v", required)
	}

	out := make(Ancestors, len(checked))
	for _, l := range checked {
		id := p.ids[l]
		if id == "" {
			return nil, &errors.MissingAncestor{Level: l.String(), Param: l.Param()}
		}
		out[l] = id
	}
	return out, nil
}

// ForScreen validates the ancestors a screen for level needs before it may fetch.
// It returns the parent id to query by ("" for City).
func (p Path) ForScreen(level Level) (string, error) {
	anc, err := p.ReadAncestors(level.Ancestors()...)
	if err != nil {
		return "", err
	}
	parent, ok := level.Parent()
	if !ok {
		return "", nil
	}
	return anc[parent], nil
}

// Append returns a new path with id selected at level. Every level above must
// already be selected; deeper selections are cleared because they no longer apply.
func Append(p Path, level Level, id string) (Path, error) {
	if !level.Valid() {
		return Path{}, fmt.Errorf("selection: invalid level %d", int(level))
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Path{}, &errors.MissingAncestor{Level: level.String(), Param: level.Param()}
	}
	if _, err := p.ReadAncestors(level.Ancestors()...); err != nil {
		return Path{}, err
	}

	next := p
	next.ids[level] = id
	for l := level + 1; l.Valid(); l++ {
		next.ids[l] = ""
	}
	return next, nil
}

// Truncate keeps selections down to and including level.
func (p Path) Truncate(level Level) Path {
	next := p
	for l := level + 1; l.Valid(); l++ {
		next.ids[l] = ""
	}
	if level < City {
		next = Empty
	}
	return next
}

// Query encodes the contiguous selected prefix as URL query parameters.
func (p Path) Query() url.Values {
	q := url.Values{}
	for _, l := range Levels {
		if p.ids[l] == "" {
			break
		}
		q.Set(l.Param(), p.ids[l])
	}
	return q
}

// URL builds the link to the screen for level carrying the selections above it.
func (p Path) URL(level Level) string {
	q := p.Truncate(level - 1).Query()
	if len(q) == 0 {
		return level.ScreenPath()
	}
	return level.ScreenPath() + "?" + encodeOrdered(q)
}

// NextURL is the forward link for choosing id on the level screen: the child screen,
// or "" at Floor where the choice completes the hierarchy.
func NextURL(p Path, level Level, id string) (string, error) {
	next, err := Append(p, level, id)
	if err != nil {
		return "", err
	}
	child, ok := level.Child()
	if !ok {
		return "", nil
	}
	return next.URL(child), nil
}

// BackURL is the link one level up from the level screen, used after a failed fetch.
func BackURL(p Path, level Level) string {
	parent, ok := level.Parent()
	if !ok {
		return "/home"
	}
	if _, err := p.ReadAncestors(parent.Ancestors()...); err != nil {
		return City.ScreenPath()
	}
	return p.URL(parent)
}

// CompletePath receives the final floor choice.
const CompletePath = "/selection/city/neighborhood/apartment/floor/select"

// CompleteURL is the form target for choosing floorID, carrying the full selection.
func CompleteURL(p Path, floorID string) (string, error) {
	next, err := Append(p, Floor, floorID)
	if err != nil {
		return "", err
	}
	return CompletePath + "?" + encodeOrdered(next.Query()), nil
}

// RestartURL is where a screen with a missing selection sends the visitor: the hierarchy root.
func RestartURL() string {
	return City.ScreenPath()
}

// encodeOrdered writes parameters in hierarchy order so links are stable and readable.
func encodeOrdered(q url.Values) string {
	var b strings.Builder
	for _, l := range Levels {
		v := q.Get(l.Param())
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(l.Param()))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	return b.String()
}
