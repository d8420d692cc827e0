// Package classify assigns or corrects a listing's category from its name
// and brand using ordered rule tiers. The first tier that decides wins;
// tiers are never merged or voted.
package classify

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/normalize"
)

// Tier names, as reported in Result.Tier.
const (
	TierOverride         = "override"
	TierBrandOnly        = "brand_only"
	TierBrandModel       = "brand_model"
	TierKeywordSpecific  = "keyword_specific"
	TierKeywordGeneral   = "keyword_general"
	TierKeywordGuarded   = "keyword_guarded"
	TierCableGeneric     = "cable_generic"
	TierCableBrand       = "cable_brand"
	TierCableModel       = "cable_model"
	TierCableConnector   = "cable_connector"
	TierSpeakerGuard     = "speaker_guard"
	TierSpeakerAccessory = "speaker_accessory"
	TierSpeakerCable     = "speaker_cable"
	TierDAPStationary    = "dap_stationary"
	TierDACAmpPlayer     = "dac_amp_player"
	TierAmpDAC           = "amp_dac"
	TierMicKaraoke       = "microphone_unconditional"
	TierMicGuard         = "microphone_guard"
	TierMicJunk          = "microphone_junk"
)

// Result is a classification decision.
type Result struct {
	Category    Category    `json:"category"`
	Subcategory Subcategory `json:"subcategory,omitempty"`
	Tier        string      `json:"tier"`
	Rule        string      `json:"rule"`
}

// listing is the prepared input shared by every tier.
type listing struct {
	text    string // folded name
	brand   string // canonical brand, possibly inferred from the name
	current Category
}

// tier is one precedence level. eval reports whether the tier decided; a
// decision equal to the current category stops evaluation without a change.
type tier struct {
	name string
	eval func(l listing) (Result, bool)
}

func run(tiers []tier, l listing) (Result, bool) {
	for _, t := range tiers {
		if r, ok := t.eval(l); ok {
			r.Tier = t.name
			return r, true
		}
	}
	return Result{}, false
}

// matcher is an ordered list of patterns with their sources.
type matcher struct {
	res  []*regexp.Regexp
	srcs []string
}

// find returns the source of the first matching pattern.
func (m matcher) find(s string) (string, bool) {
	for i, re := range m.res {
		if re.MatchString(s) {
			return m.srcs[i], true
		}
	}
	return "", false
}

// guarded matches when a pattern matches and no blocker does.
type guarded struct {
	name     string
	category Category
	match    matcher
	block    matcher
}

func (g guarded) find(s string) (string, bool) {
	src, ok := g.match.find(s)
	if !ok {
		return "", false
	}
	if _, blocked := g.block.find(s); blocked {
		return "", false
	}
	return src, true
}

// Classifier is a compiled, immutable rule set. It is safe for concurrent
// use.
type Classifier struct {
	resolver *brand.Resolver
	// known brand keys, longest first, for inferring a missing brand
	prefixes []string
	tiers    map[Category][]tier
	cable    []tier
	override tier
}

// Classify returns a new category for the listing, or false when no
// reclassification is warranted. current may be empty when the listing has
// no category yet.
func (c *Classifier) Classify(name, brandName string, current Category) (Result, bool) {
	l := c.prepare(name, brandName, current)
	r, ok := run(c.pipeline(l.current), l)
	if !ok || r.Category == "" || (r.Category == l.current && r.Subcategory == "") {
		return Result{}, false
	}
	return r, true
}

// ClassifyCable assigns a cable subcategory and names the rule used.
func (c *Classifier) ClassifyCable(name, brandName string) (Subcategory, string, bool) {
	r, ok := run(c.cable, c.prepare(name, brandName, Cable))
	if !ok {
		return "", "", false
	}
	return r.Subcategory, r.Rule, true
}

// Explain evaluates every tier for the listing's current category without
// short-circuiting and returns each decision in precedence order. It is a
// rule-authoring aid; Classify is authoritative.
func (c *Classifier) Explain(name, brandName string, current Category) []Result {
	l := c.prepare(name, brandName, current)
	var out []Result
	for _, t := range c.pipeline(l.current) {
		if r, ok := t.eval(l); ok {
			r.Tier = t.name
			out = append(out, r)
		}
	}
	return out
}

// Tiers returns the tier names evaluated for a current category, in order.
func (c *Classifier) Tiers(current Category) []string {
	p := c.pipeline(current)
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = t.name
	}
	return names
}

func (c *Classifier) pipeline(current Category) []tier {
	out := []tier{c.override}
	return append(out, c.tiers[current]...)
}

func (c *Classifier) prepare(name, brandName string, current Category) listing {
	cur, _ := ParseCategory(string(current))
	text := normalize.FoldKey(name)
	b := c.resolver.Canonical(brandName)
	if b == "" {
		b = c.inferBrand(text)
	}
	return listing{text: text, brand: b, current: cur}
}

// inferBrand returns the longest known brand that opens the name as whole
// words.
func (c *Classifier) inferBrand(text string) string {
	for _, p := range c.prefixes {
		if text == p || strings.HasPrefix(text, p+" ") {
			return p
		}
	}
	return ""
}
