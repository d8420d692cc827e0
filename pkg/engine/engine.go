// Package engine assembles one immutable generation of the resolver from a
// rule set. Callers pass the Engine by reference; reloading rules builds a
// new Engine rather than mutating the old one.
package engine

import (
	"fmt"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/classify"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/rules"
	"github.com/hazyhaar/hifi-resolver/pkg/similarity"
)

// Engine bundles the components built from one rule set.
type Engine struct {
	Rules      *rules.Set
	Resolver   *brand.Resolver
	Scorer     *similarity.Scorer
	Matcher    *match.Engine
	Classifier *classify.Classifier
}

// New builds an Engine from a loaded rule set.
func New(set *rules.Set) (*Engine, error) {
	if set == nil || set.Brands == nil || set.Categories == nil {
		return nil, fmt.Errorf("build engine: incomplete rule set")
	}
	resolver := brand.NewResolver(set.Brands.Aliases, set.Brands.Parents)

	var opts []similarity.Option
	if len(set.Brands.GenericWords) > 0 {
		opts = append(opts, similarity.WithGenericWords(set.Brands.GenericWords))
	}
	scorer := similarity.NewScorer(resolver, opts...)

	classifier, err := classify.Compile(set.Categories, classify.WithResolver(resolver))
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &Engine{
		Rules:      set,
		Resolver:   resolver,
		Scorer:     scorer,
		Matcher:    match.NewEngine(scorer),
		Classifier: classifier,
	}, nil
}

// Load reads rules from dir, falling back to the embedded defaults, and
// builds an Engine.
func Load(dir string) (*Engine, error) {
	set, err := rules.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return New(set)
}
