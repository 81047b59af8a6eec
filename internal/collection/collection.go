package collection

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Key identifies one entity: the site identifier plus a sub-identifier
// (the transect index within the site), joined as "site#sub".
func Key(siteID, sub string) string {
	return siteID + "#" + sub
}

// Entity is one keyed row of the canonical collection: a transect with its
// accumulated attributes. Attribute values are cty values so numeric,
// string and bool attributes share one representation, the same way the
// engine's configuration layer represents dynamic values.
type Entity struct {
	Key  string
	Site string

	// Geometry is the entity's geometry reference, carried verbatim
	// (GeoJSON geometry object). The orchestrator never interprets it.
	Geometry []byte

	Attrs map[string]cty.Value
}

// clone deep-copies the entity. Attribute values are immutable, so the map
// is the only thing that needs copying.
func (e *Entity) clone() *Entity {
	attrs := make(map[string]cty.Value, len(e.Attrs))
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	return &Entity{Key: e.Key, Site: e.Site, Geometry: e.Geometry, Attrs: attrs}
}

// AttrNames returns the entity's attribute names in sorted order.
func (e *Entity) AttrNames() []string {
	names := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Collection is the canonical, ordered set of entities. It is never
// mutated in place: every updating stage produces a new version through
// Merge, and prior versions stay valid for audit and comparison.
type Collection struct {
	version  int
	entities []*Entity
	index    map[string]int
}

// New builds a collection from entities in the given order. Duplicate keys
// are a construction error.
func New(entities []*Entity) (*Collection, error) {
	c := &Collection{
		version:  1,
		entities: entities,
		index:    make(map[string]int, len(entities)),
	}
	for i, e := range entities {
		if _, dup := c.index[e.Key]; dup {
			return nil, fmt.Errorf("duplicate entity key %q", e.Key)
		}
		c.index[e.Key] = i
	}
	return c, nil
}

// Version returns the collection's version number, starting at 1 and
// incremented by every Merge.
func (c *Collection) Version() int {
	return c.version
}

// Len returns the number of entities.
func (c *Collection) Len() int {
	return len(c.entities)
}

// Entities returns the entities in canonical order. The slice must be
// treated as read-only.
func (c *Collection) Entities() []*Entity {
	return c.entities
}

// Get returns the entity with the given key, or nil.
func (c *Collection) Get(key string) *Entity {
	i, ok := c.index[key]
	if !ok {
		return nil
	}
	return c.entities[i]
}

// SiteEntities returns the entities belonging to one site, in canonical
// order.
func (c *Collection) SiteEntities(siteID string) []*Entity {
	var out []*Entity
	for _, e := range c.entities {
		if e.Site == siteID {
			out = append(out, e)
		}
	}
	return out
}
