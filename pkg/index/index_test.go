package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
)

var pool = []Candidate{
	{ID: "1", Name: "Sennheiser HD 600", Brand: "Sennheiser"},
	{ID: "2", Name: "Moondrop Aria 2", Brand: "Moondrop"},
	{ID: "3", Name: "Aria Snow Edition", Brand: "Moondrop Audio"},
	{ID: "4", Name: "Generic Stand"},
}

func TestBuild(t *testing.T) {
	idx := Build(pool)
	require.Equal(t, 4, idx.Len())
	entries := idx.Entries()
	for i, e := range entries {
		assert.Equal(t, pool[i].ID, e.ID, "insertion order")
	}
	assert.Equal(t, "sennheiser hd 600", entries[0].Normalized)
	assert.Equal(t, "hd 600", entries[0].Stripped)
	assert.Equal(t, "Sennheiser HD 600", entries[0].DisplayName)
}

func TestAppend(t *testing.T) {
	idx := Build(nil)
	assert.Equal(t, 0, idx.Len())
	e := idx.Append(Candidate{ID: "9", Name: "FiiO FH7 (Prototype)", Brand: "FiiO"})
	assert.Equal(t, "fiio fh 7", e.Normalized)
	assert.Equal(t, 1, idx.Len())
	assert.Same(t, e, idx.Entries()[0])
}

func TestNilIndex(t *testing.T) {
	var idx *Index
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.Entries())
}

func TestCatalogScope(t *testing.T) {
	r := brand.NewResolver(map[string]string{"Moondrop Audio": "Moondrop"}, nil)
	cat := NewCatalog(r)
	cat.Load("IEM", pool[1:3])
	cat.Load("headphones", pool[:1])
	cat.Add("iem", pool[3])

	scoped := cat.Scope("iem", "MOONDROP")
	require.NotNil(t, scoped)
	assert.Equal(t, 2, scoped.Len(), "aliases share a scope")

	wide := cat.Scope("iem", "Truthear")
	assert.Equal(t, 3, wide.Len(), "unknown brand falls back to category")

	assert.Equal(t, 3, cat.Scope("iem", "").Len())
	assert.Nil(t, cat.Scope("dac", "Moondrop"))
	assert.Equal(t, 1, cat.Scope("headphones", "Sennheiser").Len())

	cat.View("iem", "Moondrop", func(s, w *Index) {
		assert.Equal(t, 2, s.Len())
		assert.Equal(t, 3, w.Len())
	})
}

func TestCatalogSharedEntries(t *testing.T) {
	cat := NewCatalog(nil)
	e := cat.Add("iem", Candidate{ID: "a", Name: "Moondrop Chu 2", Brand: "Moondrop"})
	assert.Same(t, e, cat.Scope("iem", "moondrop").Entries()[0])
	assert.Same(t, e, cat.Category("iem").Entries()[0])
}

func TestCatalogStats(t *testing.T) {
	cat := NewCatalog(nil)
	cat.Load("iem", pool[1:])
	cat.Load("headphones", pool[:1])
	s := cat.Stats()
	assert.Equal(t, 4, s.Entries)
	assert.Equal(t, map[string]int{"iem": 3, "headphones": 1}, s.Categories)
	assert.Equal(t, 3, s.BrandScope)
	assert.Equal(t, []string{"headphones", "iem"}, cat.CategoryNames())
}

func TestCatalogConcurrentAdd(t *testing.T) {
	cat := NewCatalog(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				cat.Add("iem", Candidate{ID: fmt.Sprintf("%d-%d", i, j), Name: "Tin T2", Brand: "Tin HiFi"})
				cat.View("iem", "Tin HiFi", func(s, _ *Index) {
					for _, e := range s.Entries() {
						_ = e.Normalized
					}
				})
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, cat.Category("iem").Len())
}

func TestCatalogRescope(t *testing.T) {
	cat := NewCatalog(brand.NewResolver(nil, nil))
	cat.Add("iem", Candidate{ID: "1", Name: "Jade Audio EA3", Brand: "Jade Audio"})
	cat.Add("iem", Candidate{ID: "2", Name: "JadeAudio JD1", Brand: "JadeAudio"})
	assert.Equal(t, 1, cat.Scope("iem", "JadeAudio").Len())

	next := cat.Rescope(brand.NewResolver(map[string]string{"Jade Audio": "JadeAudio"}, nil))
	assert.Equal(t, 2, next.Scope("iem", "Jade Audio").Len())
	assert.Equal(t, cat.Stats().Entries, next.Stats().Entries)
	assert.Same(t, cat.Category("iem").Entries()[0], next.Category("iem").Entries()[0])
}
