package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/classify"
	"github.com/hazyhaar/hifi-resolver/pkg/engine"
	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/store"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	eng, err := engine.Load("")
	require.NoError(t, err)
	return New(eng, opts...)
}

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []struct {
		category string
		cand     index.Candidate
	}{
		{"headphones", index.Candidate{ID: "hd600", Name: "Sennheiser HD 600", Brand: "Sennheiser"}},
		{"headphones", index.Candidate{ID: "sundara", Name: "Hifiman Sundara", Brand: "Hifiman"}},
		{"iem", index.Candidate{ID: "zs10", Name: "KZ ZS10"}},
	} {
		_, err := s.AddEntry(ctx, e.category, e.cand)
		require.NoError(t, err)
	}
}

func TestNormalize(t *testing.T) {
	s := newTestService(t)
	got := s.Normalize("FiiO FH7 (Prototype)")
	assert.Equal(t, "fiio fh 7", got.Normalized)
	assert.Equal(t, []string{"fiio", "fh", "7"}, got.Tokens)

	got = s.Normalize("")
	assert.Equal(t, "", got.Normalized)
	assert.NotNil(t, got.Tokens)
}

func TestCompareBrands(t *testing.T) {
	s := newTestService(t)
	got := s.CompareBrands("Jade Audio", "FiiO")
	assert.Equal(t, brand.Related, got.Relation)
	assert.Equal(t, "jadeaudio", got.CanonicalA)

	assert.Equal(t, brand.Same, s.CompareBrands("ZiiGaat", "Ziigaat").Relation)
	assert.Equal(t, brand.Unknown, s.CompareBrands("", "Sony").Relation)
}

func TestMatch(t *testing.T) {
	s := newTestService(t)
	seed(t, s)
	ctx := context.Background()

	res, err := s.Match(ctx, Listing{Name: "Sennheiser HD-600", Brand: "Sennheiser", Category: "Headphones"})
	require.NoError(t, err)
	assert.Equal(t, "headphones", res.Category)
	assert.Equal(t, match.AutoMerge, res.Outcome)
	require.NotNil(t, res.Result)
	assert.Equal(t, "hd600", res.Result.CandidateID)
	assert.Empty(t, res.DecisionID, "no store configured")

	res, err = s.Match(ctx, Listing{Name: "KZ ZS12", Category: "iem"})
	require.NoError(t, err)
	assert.Equal(t, match.PendingReview, res.Outcome)

	_, err = s.Match(ctx, Listing{Name: "KZ ZS12"})
	assert.ErrorIs(t, err, ErrNoCategory)
}

func TestMatch_Invalid(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Match(ctx, Listing{Category: "iem"})
	assert.ErrorIs(t, err, ErrInvalidListing)

	_, err = s.Match(ctx, Listing{Name: "Thing", Category: "gadget"})
	assert.ErrorIs(t, err, ErrInvalidListing)

	_, err = s.Classify(Listing{Name: ""})
	assert.ErrorIs(t, err, ErrInvalidListing)
}

func TestMatch_AppendRejects(t *testing.T) {
	s := newTestService(t, WithAppendRejects(true))
	seed(t, s)
	ctx := context.Background()

	res, err := s.Match(ctx, Listing{ID: "arya", Name: "Hifiman Arya Organic", Brand: "Hifiman", Category: "headphones"})
	require.NoError(t, err)
	require.Equal(t, match.Reject, res.Outcome)
	assert.Equal(t, "arya", res.AppendedID)
	assert.Equal(t, 3, s.Stats().Categories["headphones"])

	// The appended entry is visible to the next query.
	res, err = s.Match(ctx, Listing{Name: "Hifiman Arya Organic", Brand: "Hifiman", Category: "headphones"})
	require.NoError(t, err)
	assert.Equal(t, match.AutoMerge, res.Outcome)
	assert.Equal(t, "arya", res.Result.CandidateID)
}

func TestMatch_EmptyCategoryRejects(t *testing.T) {
	s := newTestService(t, WithAppendRejects(true))
	res, err := s.Match(context.Background(), Listing{Name: "Moondrop Aria", Brand: "Moondrop", Category: "iem"})
	require.NoError(t, err)
	assert.Equal(t, match.Reject, res.Outcome)
	assert.Nil(t, res.Result)
	assert.NotEmpty(t, res.AppendedID)
	assert.Equal(t, 1, s.Stats().Entries)
}

func TestResolve(t *testing.T) {
	s := newTestService(t)
	seed(t, s)

	res, err := s.Resolve(context.Background(), Listing{Name: "KZ ZS12", Brand: "KZ", Category: "headphones"})
	require.NoError(t, err)
	require.NotNil(t, res.Classification)
	assert.Equal(t, classify.IEM, res.Classification.Category)
	assert.Equal(t, "iem", res.Category)
	assert.Equal(t, "headphones", res.Listing.Category)
	require.NotNil(t, res.Result)
	assert.Equal(t, "zs10", res.Result.CandidateID)
}

func TestClassify(t *testing.T) {
	s := newTestService(t)

	got, err := s.Classify(Listing{Name: "3.5mm to 4.4mm Headphone Adapter", Category: "dac"})
	require.NoError(t, err)
	assert.True(t, got.Changed)
	assert.Equal(t, "cable", got.Category)
	assert.Equal(t, classify.GenericCable, got.Result.Subcategory)

	got, err = s.Classify(Listing{Name: "Sennheiser HD 600", Brand: "Sennheiser", Category: "headphones"})
	require.NoError(t, err)
	assert.False(t, got.Changed)
	assert.Equal(t, "headphones", got.Category)
	assert.Nil(t, got.Result)

	tiers, err := s.Explain(Listing{Name: "STAX SR-L700 MK2 Replacement Ear Pads", Brand: "STAX", Category: "headphones"})
	require.NoError(t, err)
	assert.Len(t, tiers, 2)
}

func TestCandidates(t *testing.T) {
	s := newTestService(t)
	seed(t, s)

	got, err := s.Candidates(Listing{Name: "Hifiman Sundara 2020", Category: "headphones"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sundara", got[0].CandidateID)

	_, err = s.Candidates(Listing{Name: "x"}, 1)
	assert.ErrorIs(t, err, ErrNoCategory)
}

func TestWithStore(t *testing.T) {
	st := tempStore(t)
	ctx := context.Background()

	s := newTestService(t, WithStore(st))
	seed(t, s)

	res, err := s.Match(ctx, Listing{Name: "KZ ZS12", Category: "iem"})
	require.NoError(t, err)
	require.Equal(t, match.PendingReview, res.Outcome)
	assert.NotEmpty(t, res.DecisionID)

	pending, err := s.PendingReviews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "zs10", pending[0].CandidateID)
	require.NoError(t, s.ResolveReview(ctx, pending[0].ID, match.AutoMerge))

	// A fresh service sees the persisted catalog.
	fresh := newTestService(t, WithStore(st))
	n, err := fresh.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, s.Stats(), fresh.Stats())
}

func TestWithoutStore(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.PendingReviews(ctx, 10)
	assert.ErrorIs(t, err, ErrNoStore)
	assert.ErrorIs(t, s.ResolveReview(ctx, "x", match.Reject), ErrNoStore)

	n, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, s.HasStore())
}

func TestAddEntry_Invalid(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.AddEntry(ctx, "gadget", index.Candidate{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidListing)
	_, err = s.AddEntry(ctx, "", index.Candidate{Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidListing)
	_, err = s.AddEntry(ctx, "iem", index.Candidate{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidListing)
}

func TestReload(t *testing.T) {
	s := newTestService(t)
	seed(t, s)
	before := s.Engine()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brands.yaml"), []byte(`
version: "test"
aliases:
  Sennheiser Electronic: Sennheiser
`), 0o644))
	require.NoError(t, s.Reload(dir))
	assert.NotSame(t, before, s.Engine())
	assert.Equal(t, "test+2025.1", s.Rules().Version)
	assert.Equal(t, 3, s.Stats().Entries)
	assert.Equal(t, 1, s.Catalog().Scope("headphones", "Sennheiser Electronic").Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "brands.yaml"), []byte("aliases: [oops"), 0o644))
	assert.Error(t, s.Reload(dir))
	assert.Equal(t, "test+2025.1", s.Rules().Version, "failed reload keeps the current rules")
}

func TestConcurrentMatchAndReload(t *testing.T) {
	s := newTestService(t, WithAppendRejects(true))
	seed(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if _, err := s.Match(ctx, Listing{Name: "Sennheiser HD 600", Brand: "Sennheiser", Category: "headphones"}); err != nil {
					t.Errorf("Match: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 5; j++ {
			if err := s.Reload(""); err != nil {
				t.Errorf("Reload: %v", err)
				return
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 3, s.Stats().Entries)
}
