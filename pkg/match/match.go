// Package match picks the best catalog candidate for a listing and maps its
// score to a merge decision.
package match

import (
	"sort"

	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/similarity"
)

// Outcome is the decision for one listing.
type Outcome string

const (
	AutoMerge     Outcome = "auto_merge"
	PendingReview Outcome = "pending_review"
	Reject        Outcome = "reject"
)

// Decision thresholds. Scores at or above AutoMergeThreshold merge; scores
// in [ReviewThreshold, AutoMergeThreshold) go to review; the rest reject.
const (
	AutoMergeThreshold = 0.85
	ReviewThreshold    = 0.65
)

// OutcomeFor maps a score to exactly one outcome.
func OutcomeFor(score float64) Outcome {
	switch {
	case score >= AutoMergeThreshold:
		return AutoMerge
	case score >= ReviewThreshold:
		return PendingReview
	default:
		return Reject
	}
}

// Result is the winning candidate.
type Result struct {
	CandidateID   string  `json:"candidate_id"`
	CandidateName string  `json:"candidate_name"`
	Score         float64 `json:"score"`
}

// Decision pairs an outcome with the candidate that produced it. Result is
// nil when there was nothing to compare against.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Result  *Result `json:"result,omitempty"`
}

// Engine runs a Scorer over an index.
type Engine struct {
	scorer *similarity.Scorer
}

// NewEngine returns an Engine. A nil scorer uses similarity defaults.
func NewEngine(scorer *similarity.Scorer) *Engine {
	if scorer == nil {
		scorer = similarity.NewScorer(nil)
	}
	return &Engine{scorer: scorer}
}

// Decide scores the listing against every entry and keeps the highest.
// Ties keep the entry seen first.
func (e *Engine) Decide(name, brand string, idx *index.Index) Decision {
	return e.decide(similarity.Extract(name, brand), brand, idx)
}

func (e *Engine) decide(q similarity.Features, brand string, idx *index.Index) Decision {
	var best *Result
	for _, c := range idx.Entries() {
		s := e.scorer.Score(q, brand, c.Features, c.Brand)
		if best == nil || s > best.Score {
			best = &Result{CandidateID: c.ID, CandidateName: c.DisplayName, Score: s}
		}
	}
	if best == nil {
		return Decision{Outcome: Reject}
	}
	return Decision{Outcome: OutcomeFor(best.Score), Result: best}
}

// DecideInCatalog searches the brand-scoped index of the category first and
// falls back to the category-wide index when that scope is empty or the
// brand is unknown. It holds the catalog read lock while scoring.
func (e *Engine) DecideInCatalog(cat *index.Catalog, category, name, brand string) Decision {
	q := similarity.Extract(name, brand)
	var d Decision
	cat.View(category, brand, func(scoped, _ *index.Index) {
		d = e.decide(q, brand, scoped)
	})
	return d
}

// Rank returns up to limit candidates ordered by descending score. Equal
// scores keep index order. A limit <= 0 returns every candidate.
func (e *Engine) Rank(name, brand string, idx *index.Index, limit int) []Result {
	q := similarity.Extract(name, brand)
	entries := idx.Entries()
	results := make([]Result, len(entries))
	for i, c := range entries {
		results[i] = Result{
			CandidateID:   c.ID,
			CandidateName: c.DisplayName,
			Score:         e.scorer.Score(q, brand, c.Features, c.Brand),
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Scorer returns the engine's scorer.
func (e *Engine) Scorer() *similarity.Scorer {
	return e.scorer
}
