// Package agent provides the pooled agent store and its columnar view.
package agent

import (
	"fmt"

	"github.com/petri-sim/petri/config"
)

// Type is an immutable agent species. The core only reads these; the catalog
// module owns construction.
type Type struct {
	Name       string
	Color      string // hex color for the render boundary
	Size       float64
	GrowthRate float64 // per-second reproduction rate
	DeathRate  float64 // per-second mortality rate
	MaxAge     float64
}

// Catalog is a de-duplicated, name-indexed set of agent types.
type Catalog struct {
	types  []*Type
	byName map[string]*Type
}

// NewCatalog builds a catalog from species config entries.
func NewCatalog(species []config.SpeciesConfig) (*Catalog, error) {
	if len(species) == 0 {
		return nil, fmt.Errorf("agent: catalog requires at least one species")
	}
	c := &Catalog{
		types:  make([]*Type, 0, len(species)),
		byName: make(map[string]*Type, len(species)),
	}
	for _, sp := range species {
		if _, dup := c.byName[sp.Name]; dup {
			return nil, fmt.Errorf("agent: duplicate species %q", sp.Name)
		}
		t := &Type{
			Name:       sp.Name,
			Color:      sp.Color,
			Size:       sp.Size,
			GrowthRate: sp.GrowthRate,
			DeathRate:  sp.DeathRate,
			MaxAge:     sp.MaxAge,
		}
		c.types = append(c.types, t)
		c.byName[sp.Name] = t
	}
	return c, nil
}

// Get returns the type with the given name, or nil.
func (c *Catalog) Get(name string) *Type { return c.byName[name] }

// Types returns all types in catalog order.
func (c *Catalog) Types() []*Type { return c.types }

// Len returns the number of distinct types.
func (c *Catalog) Len() int { return len(c.types) }
