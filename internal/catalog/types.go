package catalog

// #region imports
import (
	"strings"
)

// #endregion imports

// #region module

// Module is a catalog entry: one recommendable unit of building-management
// functionality. Immutable once published except via explicit catalog upsert.
type Module struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Theme        string   `json:"theme"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags,omitempty"`
	Personas     []string `json:"personas,omitempty"`
	Goals        []string `json:"goals,omitempty"`
	Scales       []string `json:"scale,omitempty"`
	License      string   `json:"license"` // minimum license tier
	Dependencies []string `json:"dependencies,omitempty"`
	Conflicts    []string `json:"conflicts_with,omitempty"`

	// Embedding is the stored content vector, empty until indexed.
	Embedding []float32 `json:"-"`
}

// #endregion module

// #region search-text

// SearchText renders the module as a single searchable string. The same text
// feeds both lexical matching and embedding generation.
func (m Module) SearchText() string {
	parts := []string{
		"Module: " + m.Name,
		"Theme: " + m.Theme,
		"Description: " + m.Description,
		"Category: " + m.Category,
	}
	if len(m.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(m.Tags, ", "))
	}
	if len(m.Goals) > 0 {
		parts = append(parts, "Goals: "+strings.Join(m.Goals, ", "))
	}
	if len(m.Personas) > 0 {
		parts = append(parts, "Personas: "+strings.Join(m.Personas, ", "))
	}
	if len(m.Dependencies) > 0 {
		parts = append(parts, "Dependencies: "+strings.Join(m.Dependencies, ", "))
	}
	return strings.Join(parts, " | ")
}

// #endregion search-text

// #region graph

// Graph is the dependency/conflict view over a set of modules, keyed by id.
// Rules evaluation reads it; it is rebuilt from the catalog per request and
// never cached across catalog changes.
type Graph struct {
	Modules map[string]Module
}

// Has reports whether id exists in the graph.
func (g Graph) Has(id string) bool {
	_, ok := g.Modules[id]
	return ok
}

// Get returns the module for id, if present.
func (g Graph) Get(id string) (Module, bool) {
	m, ok := g.Modules[id]
	return m, ok
}

// #endregion graph
