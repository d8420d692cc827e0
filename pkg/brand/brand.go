// Package brand compares brand strings using curated alias and sub-brand
// tables. Nothing is inferred: every related pair comes from the parent
// table.
package brand

import (
	"strings"

	"github.com/hazyhaar/hifi-resolver/pkg/normalize"
)

// Relation is the outcome of comparing two brands.
type Relation string

const (
	Same      Relation = "same"
	Related   Relation = "related"
	Unknown   Relation = "unknown"
	Different Relation = "different"
)

// Resolver holds the alias and parent tables. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	aliases map[string]string // folded alias -> canonical
	parents map[string]string // canonical sub-brand -> canonical parent
}

// NewResolver builds a Resolver. Keys and values of both tables are folded
// with normalize.FoldKey; parent entries are resolved through the alias
// table so either spelling may be used in configuration.
func NewResolver(aliases, parents map[string]string) *Resolver {
	r := &Resolver{
		aliases: make(map[string]string, len(aliases)),
		parents: make(map[string]string, len(parents)),
	}
	for alias, canonical := range aliases {
		a, c := normalize.FoldKey(alias), normalize.FoldKey(canonical)
		if a == "" || c == "" {
			continue
		}
		r.aliases[a] = c
	}
	for sub, parent := range parents {
		s, p := r.Canonical(sub), r.Canonical(parent)
		if s == "" || p == "" {
			continue
		}
		r.parents[s] = p
	}
	return r
}

// Canonical returns the folded, alias-resolved form of a brand, or "" for a
// blank brand.
func (r *Resolver) Canonical(brand string) string {
	k := normalize.FoldKey(brand)
	if k == "" {
		return ""
	}
	if c, ok := r.aliases[k]; ok {
		return c
	}
	return k
}

// Parent returns the curated parent of a brand, or the canonical brand
// itself when it has none.
func (r *Resolver) Parent(brand string) string {
	return r.parentOf(r.Canonical(brand))
}

// Compare classifies the relationship between two brands.
func (r *Resolver) Compare(a, b string) Relation {
	ca, cb := r.Canonical(a), r.Canonical(b)
	if ca == "" || cb == "" {
		return Unknown
	}
	if ca == cb || wordPrefix(ca, cb) || wordPrefix(cb, ca) {
		return Same
	}
	if r.parentOf(ca) == r.parentOf(cb) {
		return Related
	}
	return Different
}

func (r *Resolver) parentOf(canonical string) string {
	if p, ok := r.parents[canonical]; ok {
		return p
	}
	return canonical
}

// Len reports the number of alias and parent entries.
func (r *Resolver) Len() (aliases, parents int) {
	return len(r.aliases), len(r.parents)
}

// wordPrefix reports whether short is a leading run of whole words of long,
// so "moondrop" prefixes "moondrop audio" but "sony" does not prefix
// "sonya".
func wordPrefix(short, long string) bool {
	return strings.HasPrefix(long, short+" ")
}
