// Package service wires the resolver engine, the in-memory catalog and the
// optional store behind one API shared by the HTTP, MCP and stream
// transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/classify"
	"github.com/hazyhaar/hifi-resolver/pkg/engine"
	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/metrics"
	"github.com/hazyhaar/hifi-resolver/pkg/normalize"
	"github.com/hazyhaar/hifi-resolver/pkg/rules"
	"github.com/hazyhaar/hifi-resolver/pkg/store"
)

var (
	// ErrInvalidListing wraps request validation failures.
	ErrInvalidListing = errors.New("invalid listing")
	// ErrNoCategory is returned when a listing cannot be scoped to a
	// category for matching.
	ErrNoCategory = errors.New("listing has no category")
	// ErrNoStore is returned by operations that need persistence when none
	// is configured.
	ErrNoStore = errors.New("no catalog store configured")
)

// Listing is an incoming product listing.
type Listing struct {
	ID       string `json:"id,omitempty" validate:"max=128"`
	Name     string `json:"name" validate:"required,max=512"`
	Brand    string `json:"brand,omitempty" validate:"max=128"`
	Category string `json:"category,omitempty" validate:"category"`
}

// Resolution is the outcome of matching one listing.
type Resolution struct {
	Listing        Listing          `json:"listing"`
	Category       string           `json:"category"`
	Classification *classify.Result `json:"classification,omitempty"`
	Outcome        match.Outcome    `json:"outcome"`
	Result         *match.Result    `json:"result,omitempty"`
	DecisionID     string           `json:"decision_id,omitempty"`
	AppendedID     string           `json:"appended_id,omitempty"`
}

// Classification reports the category a listing ends up in.
type Classification struct {
	Listing  Listing          `json:"listing"`
	Category string           `json:"category"`
	Changed  bool             `json:"changed"`
	Result   *classify.Result `json:"result,omitempty"`
}

// Normalized is a normalized name with its tokens.
type Normalized struct {
	Input      string   `json:"input"`
	Normalized string   `json:"normalized"`
	Tokens     []string `json:"tokens"`
}

// BrandComparison is the relation between two brands.
type BrandComparison struct {
	A          string         `json:"a"`
	B          string         `json:"b"`
	CanonicalA string         `json:"canonical_a"`
	CanonicalB string         `json:"canonical_b"`
	Relation   brand.Relation `json:"relation"`
}

// RulesInfo describes the loaded rule set.
type RulesInfo struct {
	Version string       `json:"version"`
	Source  string       `json:"source"`
	Counts  rules.Counts `json:"counts"`
}

type state struct {
	engine  *engine.Engine
	catalog *index.Catalog
}

// Service is safe for concurrent use. Reload swaps the engine and rebuilds
// the catalog's brand scopes; in-flight requests finish on the previous
// generation.
type Service struct {
	mu            sync.RWMutex
	cur           *state
	store         *store.Store
	logger        *slog.Logger
	appendRejects bool
	validate      *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists catalog appends and decisions.
func WithStore(st *store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAppendRejects adds rejected listings to the catalog as new entries.
func WithAppendRejects(on bool) Option {
	return func(s *Service) { s.appendRejects = on }
}

// New returns a Service with an empty catalog.
func New(eng *engine.Engine, opts ...Option) *Service {
	s := &Service{
		cur:      &state{engine: eng, catalog: index.NewCatalog(eng.Resolver)},
		logger:   slog.Default(),
		validate: newValidator(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, ok := classify.ParseCategory(fl.Field().String())
		return ok
	}); err != nil {
		panic(err)
	}
	return v
}

func (s *Service) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Engine returns the current engine generation.
func (s *Service) Engine() *engine.Engine { return s.snapshot().engine }

// Catalog returns the current catalog.
func (s *Service) Catalog() *index.Catalog { return s.snapshot().catalog }

// HasStore reports whether persistence is configured.
func (s *Service) HasStore() bool { return s.store != nil }

// Swap installs a new engine generation and rescopes the catalog under its
// brand tables.
func (s *Service) Swap(eng *engine.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = &state{engine: eng, catalog: s.cur.catalog.Rescope(eng.Resolver)}
}

// Reload rebuilds the engine from dir and swaps it in. On error the current
// generation stays.
func (s *Service) Reload(dir string) error {
	eng, err := engine.Load(dir)
	if err != nil {
		metrics.RuleReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	s.Swap(eng)
	metrics.RuleReloadsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("rules reloaded", "version", eng.Rules.Version, "source", eng.Rules.Source)
	return nil
}

// LoadCatalog fills the catalog from the store. It is a no-op without a
// store.
func (s *Service) LoadCatalog(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.store.LoadCatalog(ctx, s.cur.catalog)
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	metrics.CatalogEntries.Set(float64(s.cur.catalog.Stats().Entries))
	return n, nil
}

// Validate checks a listing and folds its category.
func (s *Service) Validate(l *Listing) error {
	if err := s.validate.Struct(l); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidListing, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidListing, strings.Join(msgs, "; "))
	}
	c, _ := classify.ParseCategory(l.Category)
	l.Category = string(c)
	return nil
}

// Normalize returns the normalized form of text.
func (s *Service) Normalize(text string) Normalized {
	n := normalize.Normalize(text)
	tokens := normalize.Tokens(n)
	if tokens == nil {
		tokens = []string{}
	}
	return Normalized{Input: text, Normalized: n, Tokens: tokens}
}

// CompareBrands relates two brand strings.
func (s *Service) CompareBrands(a, b string) BrandComparison {
	r := s.snapshot().engine.Resolver
	return BrandComparison{
		A:          a,
		B:          b,
		CanonicalA: r.Canonical(a),
		CanonicalB: r.Canonical(b),
		Relation:   r.Compare(a, b),
	}
}

// Classify runs the category classifier on a listing.
func (s *Service) Classify(l Listing) (*Classification, error) {
	if err := s.Validate(&l); err != nil {
		return nil, err
	}
	return s.classify(s.snapshot(), l), nil
}

func (s *Service) classify(st *state, l Listing) *Classification {
	out := &Classification{Listing: l, Category: l.Category}
	r, ok := st.engine.Classifier.Classify(l.Name, l.Brand, classify.Category(l.Category))
	if !ok {
		return out
	}
	out.Changed = true
	out.Category = string(r.Category)
	out.Result = &r
	metrics.ReclassificationsTotal.WithLabelValues(r.Tier, string(r.Category)).Inc()
	return out
}

// Explain lists every classifier tier that matches a listing.
func (s *Service) Explain(l Listing) ([]classify.Result, error) {
	if err := s.Validate(&l); err != nil {
		return nil, err
	}
	return s.snapshot().engine.Classifier.Explain(l.Name, l.Brand, classify.Category(l.Category)), nil
}

// Match decides a listing against the catalog of its given category.
func (s *Service) Match(ctx context.Context, l Listing) (*Resolution, error) {
	if err := s.Validate(&l); err != nil {
		return nil, err
	}
	st := s.snapshot()
	res := &Resolution{Listing: l, Category: l.Category}
	if err := s.match(ctx, st, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Resolve classifies a listing and then matches it in the resulting
// category.
func (s *Service) Resolve(ctx context.Context, l Listing) (*Resolution, error) {
	if err := s.Validate(&l); err != nil {
		return nil, err
	}
	st := s.snapshot()
	c := s.classify(st, l)
	res := &Resolution{Listing: l, Category: c.Category, Classification: c.Result}
	if err := s.match(ctx, st, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) match(ctx context.Context, st *state, res *Resolution) error {
	if res.Category == "" {
		return ErrNoCategory
	}
	l := res.Listing
	d := st.engine.Matcher.DecideInCatalog(st.catalog, res.Category, l.Name, l.Brand)
	res.Outcome = d.Outcome
	res.Result = d.Result

	metrics.DecisionsTotal.WithLabelValues(res.Category, string(d.Outcome)).Inc()
	if d.Result != nil {
		metrics.DecisionScore.Observe(d.Result.Score)
	}

	if s.store != nil {
		rec := &store.Decision{
			Category:     res.Category,
			ListingName:  l.Name,
			ListingBrand: l.Brand,
			Outcome:      d.Outcome,
		}
		if d.Result != nil {
			rec.CandidateID = d.Result.CandidateID
			rec.Score = d.Result.Score
		}
		if err := s.store.RecordDecision(ctx, rec); err != nil {
			return err
		}
		res.DecisionID = rec.ID
	}

	if d.Outcome == match.Reject && s.appendRejects {
		cand, err := s.AddEntry(ctx, res.Category, index.Candidate{ID: l.ID, Name: l.Name, Brand: l.Brand})
		if err != nil {
			return err
		}
		res.AppendedID = cand.ID
	}
	return nil
}

// Candidates ranks the catalog entries a listing would be compared with.
func (s *Service) Candidates(l Listing, limit int) ([]match.Result, error) {
	if err := s.Validate(&l); err != nil {
		return nil, err
	}
	if l.Category == "" {
		return nil, ErrNoCategory
	}
	st := s.snapshot()
	var out []match.Result
	st.catalog.View(l.Category, l.Brand, func(scoped, _ *index.Index) {
		out = st.engine.Matcher.Rank(l.Name, l.Brand, scoped, limit)
	})
	return out, nil
}

// AddEntry appends a catalog entry, persisting it first when a store is
// configured. A missing id is generated.
func (s *Service) AddEntry(ctx context.Context, category string, c index.Candidate) (index.Candidate, error) {
	cat, ok := classify.ParseCategory(category)
	if !ok || cat == "" {
		return c, fmt.Errorf("%w: category %q", ErrInvalidListing, category)
	}
	if strings.TrimSpace(c.Name) == "" {
		return c, fmt.Errorf("%w: name is required", ErrInvalidListing)
	}
	if c.ID == "" {
		c.ID = store.NewID()
	}
	if s.store != nil {
		if err := s.store.UpsertEntry(ctx, &store.Entry{ID: c.ID, Category: string(cat), Name: c.Name, Brand: c.Brand}); err != nil {
			return c, err
		}
	}

	// Held across the add so a concurrent Swap cannot rescope without it.
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.cur.catalog.Add(string(cat), c)
	metrics.CatalogEntries.Inc()
	return c, nil
}

// Stats reports catalog sizes.
func (s *Service) Stats() index.Stats {
	return s.snapshot().catalog.Stats()
}

// Rules describes the loaded rule set.
func (s *Service) Rules() RulesInfo {
	set := s.snapshot().engine.Rules
	return RulesInfo{Version: set.Version, Source: set.Source, Counts: set.Counts()}
}

// PendingReviews lists decisions waiting for a human.
func (s *Service) PendingReviews(ctx context.Context, limit int) ([]store.Decision, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.PendingReviews(ctx, limit)
}

// ResolveReview settles a pending review.
func (s *Service) ResolveReview(ctx context.Context, id string, outcome match.Outcome) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.ResolveReview(ctx, id, outcome)
}
