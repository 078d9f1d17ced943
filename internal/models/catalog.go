package models

import "sort"

// ItemDef describes one catalog item.
type ItemDef struct {
	ID   string   `yaml:"id"`
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags,omitempty"`
}

// ItemCatalog is the immutable item table loaded at startup.
type ItemCatalog struct {
	items map[string]ItemDef
	ids   []string
}

// NewItemCatalog indexes defs by id. Later duplicates replace earlier ones.
func NewItemCatalog(defs []ItemDef) *ItemCatalog {
	c := &ItemCatalog{items: make(map[string]ItemDef, len(defs))}
	for _, d := range defs {
		if _, dup := c.items[d.ID]; !dup {
			c.ids = append(c.ids, d.ID)
		}
		c.items[d.ID] = d
	}
	sort.Strings(c.ids)
	return c
}

// Has reports whether id is in the catalog.
func (c *ItemCatalog) Has(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.items[id]
	return ok
}

// Get returns the definition for id.
func (c *ItemCatalog) Get(id string) (ItemDef, bool) {
	if c == nil {
		return ItemDef{}, false
	}
	d, ok := c.items[id]
	return d, ok
}

// Name returns the display name for id, falling back to the id itself.
func (c *ItemCatalog) Name(id string) string {
	if d, ok := c.Get(id); ok && d.Name != "" {
		return d.Name
	}
	return id
}

// IDs returns every item id in sorted order.
func (c *ItemCatalog) IDs() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.ids...)
}
