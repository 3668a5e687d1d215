package hierarchy

import (
	"context"
	"errors"
	"net/url"

	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/selection"
)

// StatusNotFound is the city detail state for an unknown city id.
const StatusNotFound Status = "not_found"

// CitySummary is the header of the city detail screen.
type CitySummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Established string `json:"established,omitempty"`
}

// CityDetailView is the screen document for /city/{cityId}.
type CityDetailView struct {
	Screen        string        `json:"screen"`
	Status        Status        `json:"status"`
	Message       string        `json:"message,omitempty"`
	City          *CitySummary  `json:"city,omitempty"`
	Heading       string        `json:"heading,omitempty"`
	Neighborhoods []Card        `json:"neighborhoods,omitempty"`
	Actions       []Action      `json:"actions,omitempty"`
	Notification  *Notification `json:"notification,omitempty"`
}

var homeAction = Action{Kind: "back", Label: "Go to Home", Href: "/home"}

// CityDetail loads a city and its neighborhoods.
func (l *Loader) CityDetail(ctx context.Context, cityID string) CityDetailView {
	v := CityDetailView{Screen: "city_detail", Actions: []Action{homeAction}}

	city, err := l.City(ctx, cityID)
	switch {
	case errors.Is(err, records.ErrNotFound):
		v.Status = StatusNotFound
		v.Message = "City not found."
		return v
	case err != nil:
		return cityError(v, "Failed to load city details. Please try again.")
	}

	v.City = &CitySummary{
		ID:          city.ID,
		Name:        city.Name,
		Description: "Explore the vibrant virtual city of " + city.Name + ". A hub of innovation and community.",
		ImageURL:    "https://source.unsplash.com/random/600x400/?city," + url.QueryEscape(city.Name),
	}
	if city.Description != nil && *city.Description != "" {
		v.City.Description = *city.Description
	}
	if city.ImageURL != nil && *city.ImageURL != "" {
		v.City.ImageURL = *city.ImageURL
	}
	if !city.CreatedAt.IsZero() {
		v.City.Established = city.CreatedAt.Format("2006-01-02")
	}
	v.Heading = "Neighborhoods in " + city.Name

	hoods, err := l.ListChildren(ctx, selection.Neighborhood, city.ID)
	if err != nil {
		return cityError(v, FetchErrorMessage(selection.Neighborhood))
	}
	if len(hoods) == 0 {
		v.Status = StatusEmpty
		v.Message = "No neighborhoods found in this city yet."
		return v
	}

	path, err := selection.Append(selection.Empty, selection.City, city.ID)
	if err != nil {
		return cityError(v, "Failed to load city details. Please try again.")
	}
	v.Status = StatusContent
	for _, rec := range hoods {
		card, err := cardFor(selection.Neighborhood, path, rec)
		if err != nil {
			continue
		}
		card.Action.Label = "Explore Neighborhood"
		v.Neighborhoods = append(v.Neighborhoods, card)
	}
	return v
}

func cityError(v CityDetailView, msg string) CityDetailView {
	v.Status = StatusError
	v.City = nil
	v.Heading = ""
	v.Message = msg
	v.Notification = &Notification{Title: "Error", Description: msg, Variant: "destructive"}
	return v
}
