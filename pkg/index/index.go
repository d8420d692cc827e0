// Package index caches the comparable form of catalog entries so repeated
// match queries against the same pool do not re-normalize it.
package index

import (
	"github.com/hazyhaar/hifi-resolver/pkg/similarity"
)

// Candidate is one existing catalog entry offered for matching.
type Candidate struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Brand string `json:"brand,omitempty"`
}

// Entry is an indexed candidate. It is built once and never mutated.
type Entry struct {
	ID          string
	DisplayName string
	Brand       string
	similarity.Features
}

// Index is an append-only list of entries in insertion order.
// It is not synchronized: concurrent reads are safe, but Append must not
// run alongside readers. Catalog provides the locking wrapper.
type Index struct {
	entries []*Entry
}

// Build indexes a pool in one pass.
func Build(pool []Candidate) *Index {
	idx := &Index{entries: make([]*Entry, 0, len(pool))}
	for _, c := range pool {
		idx.Append(c)
	}
	return idx
}

// Append indexes one more candidate and returns its entry.
func (idx *Index) Append(c Candidate) *Entry {
	e := newEntry(c)
	idx.entries = append(idx.entries, e)
	return e
}

func newEntry(c Candidate) *Entry {
	return &Entry{
		ID:          c.ID,
		DisplayName: c.Name,
		Brand:       c.Brand,
		Features:    similarity.Extract(c.Name, c.Brand),
	}
}

// Entries returns the entries in insertion order. The slice must not be
// modified.
func (idx *Index) Entries() []*Entry {
	if idx == nil {
		return nil
	}
	return idx.entries
}

// Len returns the number of entries. A nil index is empty.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}
