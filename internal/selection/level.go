// Package selection models the four-level location hierarchy and the
// selection path threaded between its screens through URL query parameters.
package selection

import "fmt"

// Level is one step of the hierarchy. Levels are totally ordered, City first.
type Level int

const (
	City Level = iota
	Neighborhood
	Apartment
	Floor
)

// Levels lists every level in order.
var Levels = []Level{City, Neighborhood, Apartment, Floor}

type levelInfo struct {
	name        string
	plural      string
	param       string
	table       string
	parentField string
	screen      string
}

var levelTable = [...]levelInfo{
	City:         {"city", "cities", "cityId", "cities", "", "/selection/city"},
	Neighborhood: {"neighborhood", "neighborhoods", "neighborhoodId", "neighborhoods", "city_id", "/selection/city/neighborhood"},
	Apartment:    {"apartment", "apartments", "apartmentId", "apartments", "neighborhood_id", "/selection/city/neighborhood/apartment"},
	Floor:        {"floor", "floors", "floorId", "floors", "apartment_id", "/selection/city/neighborhood/apartment/floor"},
}

// Valid reports whether l is one of the four levels.
func (l Level) Valid() bool {
	return l >= City && l <= Floor
}

func (l Level) info() levelInfo {
	if !l.Valid() {
		panic(fmt.Sprintf("selection: invalid level %d", int(l)))
	}
	return levelTable[l]
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelTable[l].name
}

// Plural is the lower-case plural used in user-facing messages.
func (l Level) Plural() string { return l.info().plural }

// Param is the URL query parameter carrying this level's selected id.
func (l Level) Param() string { return l.info().param }

// Table is the record store table holding this level's records.
func (l Level) Table() string { return l.info().table }

// ParentField is the column referencing the parent record. Empty for City.
func (l Level) ParentField() string { return l.info().parentField }

// ScreenPath is the route of the screen listing this level's records.
func (l Level) ScreenPath() string { return l.info().screen }

// Parent returns the level above l.
func (l Level) Parent() (Level, bool) {
	if l <= City || !l.Valid() {
		return 0, false
	}
	return l - 1, true
}

// Child returns the level below l.
func (l Level) Child() (Level, bool) {
	if l >= Floor || !l.Valid() {
		return 0, false
	}
	return l + 1, true
}

// Ancestors returns every level above l, outermost first.
func (l Level) Ancestors() []Level {
	if !l.Valid() {
		return nil
	}
	out := make([]Level, 0, int(l))
	for a := City; a < l; a++ {
		out = append(out, a)
	}
	return out
}

