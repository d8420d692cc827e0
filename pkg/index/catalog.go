package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
)

type scopeKey struct {
	category string
	brand    string
}

// Catalog holds one index per category and one per (category, brand), and
// serializes appends against readers. Brands are keyed by their canonical
// form so aliases share a scope.
type Catalog struct {
	mu         sync.RWMutex
	resolver   *brand.Resolver
	categories map[string]*Index
	brands     map[scopeKey]*Index
}

// Stats summarizes a Catalog.
type Stats struct {
	Entries    int            `json:"entries"`
	Categories map[string]int `json:"categories"`
	BrandScope int            `json:"brand_scopes"`
}

// NewCatalog returns an empty Catalog. A nil resolver keys brands by their
// folded spelling.
func NewCatalog(resolver *brand.Resolver) *Catalog {
	if resolver == nil {
		resolver = brand.NewResolver(nil, nil)
	}
	return &Catalog{
		resolver:   resolver,
		categories: make(map[string]*Index),
		brands:     make(map[scopeKey]*Index),
	}
}

func categoryKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

// Add indexes a candidate under its category and, when it has a brand,
// under the (category, brand) scope. The same entry backs both scopes.
func (c *Catalog) Add(category string, cand Candidate) *Entry {
	e := newEntry(cand)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(categoryKey(category), e)
	return e
}

// Load adds a pool to one category under a single lock.
func (c *Catalog) Load(category string, pool []Candidate) {
	entries := make([]*Entry, len(pool))
	for i, cand := range pool {
		entries[i] = newEntry(cand)
	}
	cat := categoryKey(category)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.insert(cat, e)
	}
}

func (c *Catalog) insert(cat string, e *Entry) {
	idx, ok := c.categories[cat]
	if !ok {
		idx = &Index{}
		c.categories[cat] = idx
	}
	idx.entries = append(idx.entries, e)

	b := c.resolver.Canonical(e.Brand)
	if b == "" {
		return
	}
	k := scopeKey{cat, b}
	bidx, ok := c.brands[k]
	if !ok {
		bidx = &Index{}
		c.brands[k] = bidx
	}
	bidx.entries = append(bidx.entries, e)
}

// scope picks the brand-scoped index when the brand is known and the scope
// has entries, otherwise the category-wide index. Callers hold c.mu.
func (c *Catalog) scope(category, brandName string) *Index {
	cat := categoryKey(category)
	if b := c.resolver.Canonical(brandName); b != "" {
		if idx := c.brands[scopeKey{cat, b}]; idx.Len() > 0 {
			return idx
		}
	}
	return c.categories[cat]
}

// Scope returns the index a query should search first. The result may be
// nil. Reading it while another goroutine calls Add is a race; use View for
// concurrent access.
func (c *Catalog) Scope(category, brandName string) *Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope(category, brandName)
}

// Category returns the category-wide index, or nil.
func (c *Catalog) Category(category string) *Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.categories[categoryKey(category)]
}

// View runs fn with the brand-scoped and category-wide indexes under the
// read lock. Either may be nil, and they are the same index when no brand
// scope applies.
func (c *Catalog) View(category, brandName string, fn func(scoped, wide *Index)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.scope(category, brandName), c.categories[categoryKey(category)])
}

// Stats reports entry counts per category.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Categories: make(map[string]int, len(c.categories)), BrandScope: len(c.brands)}
	for cat, idx := range c.categories {
		s.Categories[cat] = idx.Len()
		s.Entries += idx.Len()
	}
	return s
}

// CategoryNames returns the indexed categories in sorted order.
func (c *Catalog) CategoryNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.categories))
	for cat := range c.categories {
		names = append(names, cat)
	}
	sort.Strings(names)
	return names
}

// Rescope returns a new Catalog holding the same entries with brand scopes
// rebuilt under resolver. Entries are shared, not re-extracted.
func (c *Catalog) Rescope(resolver *brand.Resolver) *Catalog {
	out := NewCatalog(resolver)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for cat, idx := range c.categories {
		for _, e := range idx.entries {
			out.insert(cat, e)
		}
	}
	return out
}
