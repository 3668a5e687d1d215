package marketplace

import "testing"

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		category string
		want     []string
	}{
		{"everything", "", "", []string{"1", "2", "3", "4", "5", "6"}},
		{"all category", "", CategoryAll, []string{"1", "2", "3", "4", "5", "6"}},
		{"name match ignores case", "DRAGON", "", []string{"6"}},
		{"description match", "sparkcoin", "", []string{"1", "4"}},
		{"category", "", "Decor", []string{"3"}},
		{"query and category", "sparkcoin", "Tools", []string{"4"}},
		{"no match", "spaceship", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(tt.query, tt.category)
			if len(got) != len(tt.want) {
				t.Fatalf("Filter(%q, %q) returned %d products, want %d", tt.query, tt.category, len(got), len(tt.want))
			}
			for i, p := range got {
				if p.ID != tt.want[i] {
					t.Fatalf("product %d = %s, want %s", i, p.ID, tt.want[i])
				}
			}
		})
	}
}

func TestSearchEmptyMessage(t *testing.T) {
	v := Search("spaceship", "")
	if v.Category != CategoryAll {
		t.Fatalf("category = %q, want All", v.Category)
	}
	if v.Message != "No items found matching your criteria." {
		t.Fatalf("message = %q", v.Message)
	}
	if v.Products == nil {
		t.Fatal("products should be an empty list, not nil")
	}
}

func TestCatalogIsACopy(t *testing.T) {
	c := Catalog()
	c[0].Name = "changed"
	if Catalog()[0].Name == "changed" {
		t.Fatal("Catalog exposed internal slice")
	}
	if !ValidCategory("Pets") || ValidCategory("Cars") {
		t.Fatal("ValidCategory mismatch")
	}
}
