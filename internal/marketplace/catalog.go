// Package marketplace serves the static item catalog.
package marketplace

import "strings"

// CategoryAll disables category filtering.
const CategoryAll = "All"

// Categories lists the filter options in display order.
var Categories = []string{CategoryAll, "Land", "Companions", "Decor", "Tools", "Avatar", "Pets"}

// Product is one catalog item. Prices are in spark coins.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int    `json:"price"`
	ImageURL    string `json:"imageUrl"`
	Category    string `json:"category"`
}

var catalog = []Product{
	{ID: "1", Name: "Virtual Garden Plot", Description: "A small plot of land to grow virtual plants and earn SparkCoins.", Price: 50, ImageURL: "https://source.unsplash.com/random/400x300/?garden,virtual", Category: "Land"},
	{ID: "2", Name: "AI Companion Bot", Description: "A friendly AI bot to assist you in your virtual home.", Price: 150, ImageURL: "https://source.unsplash.com/random/400x300/?robot,ai", Category: "Companions"},
	{ID: "3", Name: "Luxury Apartment Decor Pack", Description: "Elevate your apartment with exclusive furniture and decorations.", Price: 100, ImageURL: "https://source.unsplash.com/random/400x300/?luxury,interior", Category: "Decor"},
	{ID: "4", Name: "SparkCoin Mining Rig (Virtual)", Description: "Boost your SparkCoin earnings with this virtual mining rig.", Price: 200, ImageURL: "https://source.unsplash.com/random/400x300/?mining,computer", Category: "Tools"},
	{ID: "5", Name: "Customizable Avatar Outfit", Description: "Stand out with a unique, customizable outfit for your avatar.", Price: 75, ImageURL: "https://source.unsplash.com/random/400x300/?fashion,avatar", Category: "Avatar"},
	{ID: "6", Name: "Pet Dragon Egg", Description: "Hatch your very own virtual pet dragon!", Price: 300, ImageURL: "https://source.unsplash.com/random/400x300/?dragon,egg", Category: "Pets"},
}

// Catalog returns a copy of every product.
func Catalog() []Product {
	out := make([]Product, len(catalog))
	copy(out, catalog)
	return out
}

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// Filter returns products whose name or description contains query
// (case-insensitive) and whose category matches. "" and "All" match any category.
func Filter(query, category string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []Product{}
	for _, p := range catalog {
		if category != "" && category != CategoryAll && p.Category != category {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Name), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// View is the marketplace screen document.
type View struct {
	Screen     string    `json:"screen"`
	Title      string    `json:"title"`
	Subtitle   string    `json:"subtitle"`
	Query      string    `json:"query"`
	Category   string    `json:"category"`
	Categories []string  `json:"categories"`
	Products   []Product `json:"products"`
	Message    string    `json:"message,omitempty"`
}

// Search builds the screen for a query and category.
func Search(query, category string) View {
	if category == "" {
		category = CategoryAll
	}
	v := View{
		Screen:     "marketplace",
		Title:      "CommuniCity Marketplace",
		Subtitle:   "Discover unique items, properties, and services to enhance your virtual life.",
		Query:      query,
		Category:   category,
		Categories: Categories,
		Products:   Filter(query, category),
	}
	if len(v.Products) == 0 {
		v.Message = "No items found matching your criteria."
	}
	return v
}
