// Package similarity scores how likely two product names refer to the same
// product. Scores are bounded to [0,1] and never fail.
package similarity

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/normalize"
)

// Tuned multipliers. Changing any of them shifts which listings auto-merge.
const (
	// WeakOverlapFloor is the bigram sub-score from which token overlap is
	// re-examined.
	WeakOverlapFloor = 0.6
	// GenericOnlyFactor applies when every shared word is generic.
	GenericOnlyFactor = 0.5
	// NoSharedTokenFactor applies when no whole word is shared.
	NoSharedTokenFactor = 0.6
	// ShortOnlyFactor applies when every shared word is generic or at most
	// ShortTokenLen runes long.
	ShortOnlyFactor = 0.65
	// BrandMismatchFactor applies when both brands are known and different.
	BrandMismatchFactor = 0.35

	ShortTokenLen = 2
)

// DefaultGenericWords is the vocabulary treated as carrying no identity.
var DefaultGenericWords = []string{
	"audio", "sound", "studio", "pro", "acoustics", "acoustic", "hifi",
	"hi-fi", "music", "labs", "lab", "tech", "technology", "electronics",
	"design", "edition", "plus", "max", "mini", "lite", "series",
}

// Set is a set of strings: character bigrams or whole words.
type Set map[string]struct{}

func newSet(items []string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Bigrams returns the distinct character bigrams of s with whitespace
// removed, so "hd 600" and "hd600" produce the same set. Strings shorter
// than two runes have no bigrams.
func Bigrams(s string) Set {
	compact := strings.Join(strings.Fields(s), "")
	if utf8.RuneCountInString(compact) < 2 {
		return Set{}
	}
	return newSet(strutil.Ngrams(compact, 2))
}

// TokenSet returns the distinct whitespace-separated words of s.
func TokenSet(s string) Set {
	return newSet(strings.Fields(s))
}

// Dice returns 2|A∩B| / (|A|+|B|). Two empty sets score 1 only when their
// source strings were identical; otherwise any empty side scores 0.
func Dice(a, b Set, identical bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		if identical {
			return 1
		}
		return 0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for k := range small {
		if _, ok := large[k]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Features is the precomputed comparable form of one name.
type Features struct {
	Normalized      string
	Stripped        string
	Bigrams         Set
	StrippedBigrams Set
	Tokens          Set
	StrippedTokens  Set
}

// Extract normalizes name and derives every set the scorer needs.
func Extract(name, brandName string) Features {
	n := normalize.Normalize(name)
	st := normalize.StripBrand(n, brandName)
	return Features{
		Normalized:      n,
		Stripped:        st,
		Bigrams:         Bigrams(n),
		StrippedBigrams: Bigrams(st),
		Tokens:          TokenSet(n),
		StrippedTokens:  TokenSet(st),
	}
}

// Breakdown is the full account of one comparison, for review tooling.
type Breakdown struct {
	FullBigram     float64        `json:"full_bigram"`
	StrippedBigram float64        `json:"stripped_bigram"`
	FullToken      float64        `json:"full_token"`
	StrippedToken  float64        `json:"stripped_token"`
	Penalties      []string       `json:"penalties,omitempty"`
	Relation       brand.Relation `json:"brand_relation"`
	Base           float64        `json:"base"`
	Score          float64        `json:"score"`
}

// Scorer combines bigram and token Dice scores with the weak-overlap and
// brand-mismatch penalties. It is immutable and safe for concurrent use.
type Scorer struct {
	resolver *brand.Resolver
	generic  map[string]struct{}
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithGenericWords replaces the generic word list. Words are normalized the
// same way names are, so "Hi-Fi" and "hi fi" both work.
func WithGenericWords(words []string) Option {
	return func(s *Scorer) {
		s.generic = genericSet(words)
	}
}

func genericSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
		for _, t := range normalize.Tokens(normalize.Normalize(w)) {
			set[t] = struct{}{}
		}
	}
	return set
}

// NewScorer returns a Scorer. A nil resolver compares brands by folded
// spelling only.
func NewScorer(resolver *brand.Resolver, opts ...Option) *Scorer {
	if resolver == nil {
		resolver = brand.NewResolver(nil, nil)
	}
	s := &Scorer{resolver: resolver, generic: genericSet(DefaultGenericWords)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver returns the brand resolver used for the mismatch penalty.
func (s *Scorer) Resolver() *brand.Resolver {
	return s.resolver
}

// Score returns the match score between a query and a candidate.
func (s *Scorer) Score(q Features, qBrand string, c Features, cBrand string) float64 {
	return s.Breakdown(q, qBrand, c, cBrand).Score
}

// ScoreNames extracts features from both names and scores them.
func (s *Scorer) ScoreNames(qName, qBrand, cName, cBrand string) float64 {
	return s.Score(Extract(qName, qBrand), qBrand, Extract(cName, cBrand), cBrand)
}

// Breakdown computes the score and reports how it was reached.
func (s *Scorer) Breakdown(q Features, qBrand string, c Features, cBrand string) Breakdown {
	var b Breakdown
	b.Relation = s.resolver.Compare(qBrand, cBrand)
	if q.Normalized == "" || c.Normalized == "" {
		b.Penalties = []string{"empty_name"}
		return b
	}

	b.FullBigram = Dice(q.Bigrams, c.Bigrams, q.Normalized == c.Normalized)
	if f, why := s.weakOverlap(b.FullBigram, q.Tokens, c.Tokens); f != 1 {
		b.FullBigram *= f
		b.Penalties = append(b.Penalties, "full_bigram:"+why)
	}
	b.StrippedBigram = Dice(q.StrippedBigrams, c.StrippedBigrams, q.Stripped == c.Stripped)
	if f, why := s.weakOverlap(b.StrippedBigram, q.StrippedTokens, c.StrippedTokens); f != 1 {
		b.StrippedBigram *= f
		b.Penalties = append(b.Penalties, "stripped_bigram:"+why)
	}
	b.FullToken = Dice(q.Tokens, c.Tokens, q.Normalized == c.Normalized)
	b.StrippedToken = Dice(q.StrippedTokens, c.StrippedTokens, q.Stripped == c.Stripped)

	b.Base = math.Max(math.Max(b.FullBigram, b.StrippedBigram), math.Max(b.FullToken, b.StrippedToken))
	b.Score = b.Base
	if b.Relation == brand.Different {
		b.Score *= BrandMismatchFactor
		b.Penalties = append(b.Penalties, "brand_mismatch")
	}

	b.Base = clamp(b.Base)
	b.Score = clamp(b.Score)
	return b
}

// weakOverlap returns the multiplier for a bigram sub-score given the word
// sets of the same pair of strings, and a label for the penalty applied.
func (s *Scorer) weakOverlap(score float64, a, b Set) (float64, string) {
	if score < WeakOverlapFloor {
		return 1, ""
	}
	var shared []string
	for t := range a {
		if _, ok := b[t]; ok {
			shared = append(shared, t)
		}
	}
	if len(shared) == 0 {
		return NoSharedTokenFactor, "no_shared_tokens"
	}
	allGeneric, allWeak := true, true
	for _, t := range shared {
		_, generic := s.generic[t]
		if !generic {
			allGeneric = false
			if utf8.RuneCountInString(t) > ShortTokenLen {
				allWeak = false
			}
		}
	}
	switch {
	case allGeneric:
		return GenericOnlyFactor, "generic_tokens_only"
	case allWeak:
		return ShortOnlyFactor, "short_tokens_only"
	}
	return 1, ""
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
