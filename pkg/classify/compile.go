package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/rules"
)

// Option configures Compile.
type Option func(*Classifier)

// WithResolver resolves brand aliases before rule lookup, so rules written
// for "Moondrop" also apply to listings branded "Moondrop Audio".
func WithResolver(r *brand.Resolver) Option {
	return func(c *Classifier) {
		if r != nil {
			c.resolver = r
		}
	}
}

type override struct {
	name string
	from map[Category]bool
	re   *regexp.Regexp
	to   Category
	sub  Subcategory
}

type exception struct {
	re       *regexp.Regexp
	src      string
	category Category
}

type brandFact struct {
	category   Category
	exceptions []exception
}

type patternList struct {
	category Category
	match    matcher
}

type brandModel struct {
	first, then patternList
}

// compilePattern makes a pattern case-insensitive unless it says otherwise.
func compilePattern(p string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(p, "(?i)") {
		p = "(?i)" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", p, err)
	}
	return re, nil
}

func compileMatcher(patterns []string) (matcher, error) {
	m := matcher{
		res:  make([]*regexp.Regexp, 0, len(patterns)),
		srcs: make([]string, 0, len(patterns)),
	}
	for _, p := range patterns {
		re, err := compilePattern(p)
		if err != nil {
			return matcher{}, err
		}
		m.res = append(m.res, re)
		m.srcs = append(m.srcs, p)
	}
	return m, nil
}

// Compile builds a Classifier from a category manifest. Every pattern is
// compiled once here.
func Compile(m *rules.CategoryManifest, opts ...Option) (*Classifier, error) {
	if m == nil {
		return nil, fmt.Errorf("compile classifier: nil manifest")
	}
	c := &Classifier{resolver: brand.NewResolver(nil, nil)}
	for _, opt := range opts {
		opt(c)
	}
	b := &builder{c: c, known: map[string]bool{}}

	overrides, err := b.overrides(m.Overrides)
	if err != nil {
		return nil, err
	}
	c.override = tier{name: TierOverride, eval: func(l listing) (Result, bool) {
		for _, o := range overrides {
			if o.from[l.current] && o.re.MatchString(l.text) {
				return Result{Category: o.to, Subcategory: o.sub, Rule: o.name}, true
			}
		}
		return Result{}, false
	}}

	primary, err := b.primary(m)
	if err != nil {
		return nil, err
	}
	cable, err := b.cable(m.Cable)
	if err != nil {
		return nil, err
	}
	speaker, err := b.speaker(m.Speaker)
	if err != nil {
		return nil, err
	}
	dap, err := b.dap(m.DAP)
	if err != nil {
		return nil, err
	}
	dacAmp, err := b.dacAmp(m.DACAmp)
	if err != nil {
		return nil, err
	}
	mic, err := b.microphone(m.Microphone)
	if err != nil {
		return nil, err
	}

	c.cable = cable
	c.tiers = map[Category][]tier{
		"":         primary,
		IEM:        primary,
		Headphones: primary,
		Cable:      cable,
		Speaker:    speaker,
		DAP:        dap,
		DAC:        dacAmp,
		Amp:        dacAmp,
		Microphone: mic,
	}

	for k := range b.known {
		c.prefixes = append(c.prefixes, k)
	}
	sort.Slice(c.prefixes, func(i, j int) bool {
		if len(c.prefixes[i]) != len(c.prefixes[j]) {
			return len(c.prefixes[i]) > len(c.prefixes[j])
		}
		return c.prefixes[i] < c.prefixes[j]
	})
	return c, nil
}

// builder carries state shared while compiling tiers.
type builder struct {
	c     *Classifier
	known map[string]bool
}

func (b *builder) brandKey(name string) string {
	k := b.c.resolver.Canonical(name)
	if k != "" {
		b.known[k] = true
	}
	return k
}

func (b *builder) overrides(in []rules.Override) ([]override, error) {
	out := make([]override, 0, len(in))
	for i, o := range in {
		re, err := compilePattern(o.Pattern)
		if err != nil {
			return nil, fmt.Errorf("override %d: %w", i, err)
		}
		from := make(map[Category]bool, len(o.From))
		for _, f := range o.From {
			cat, _ := ParseCategory(f)
			from[cat] = true
		}
		name := o.Name
		if name == "" {
			name = o.Pattern
		}
		out = append(out, override{
			name: name,
			from: from,
			re:   re,
			to:   Category(o.To),
			sub:  Subcategory(o.Subcategory),
		})
	}
	return out, nil
}

func (b *builder) primary(m *rules.CategoryManifest) ([]tier, error) {
	facts := map[string]*brandFact{}
	for i, bo := range m.BrandOnly {
		f := &brandFact{category: Category(bo.Category)}
		for _, ex := range bo.Exceptions {
			re, err := compilePattern(ex.Pattern)
			if err != nil {
				return nil, fmt.Errorf("brand_only %d: %w", i, err)
			}
			f.exceptions = append(f.exceptions, exception{re: re, src: ex.Pattern, category: Category(ex.Category)})
		}
		for _, name := range bo.Brands {
			if k := b.brandKey(name); k != "" {
				facts[k] = f
			}
		}
	}

	models := map[string]*brandModel{}
	for i, bm := range m.BrandModel {
		first, err := compileMatcher(bm.First.Patterns)
		if err != nil {
			return nil, fmt.Errorf("brand_model %d first: %w", i, err)
		}
		then, err := compileMatcher(bm.Then.Patterns)
		if err != nil {
			return nil, fmt.Errorf("brand_model %d then: %w", i, err)
		}
		rule := &brandModel{
			first: patternList{category: Category(bm.First.Category), match: first},
			then:  patternList{category: Category(bm.Then.Category), match: then},
		}
		for _, name := range bm.Brands {
			if k := b.brandKey(name); k != "" {
				models[k] = rule
			}
		}
	}

	specific, err := compileKeywords(m.Keywords.Specific)
	if err != nil {
		return nil, fmt.Errorf("keywords specific: %w", err)
	}
	general, err := compileKeywords(m.Keywords.General)
	if err != nil {
		return nil, fmt.Errorf("keywords general: %w", err)
	}
	guardedKw, err := compileKeywords(m.Keywords.Guarded)
	if err != nil {
		return nil, fmt.Errorf("keywords guarded: %w", err)
	}

	return []tier{
		{name: TierBrandOnly, eval: func(l listing) (Result, bool) {
			f, ok := facts[l.brand]
			if !ok {
				return Result{}, false
			}
			for _, ex := range f.exceptions {
				if ex.re.MatchString(l.text) {
					return Result{Category: ex.category, Rule: l.brand + " exception " + ex.src}, true
				}
			}
			return Result{Category: f.category, Rule: l.brand}, true
		}},
		{name: TierBrandModel, eval: func(l listing) (Result, bool) {
			bm, ok := models[l.brand]
			if !ok {
				return Result{}, false
			}
			for _, pl := range []patternList{bm.first, bm.then} {
				if src, ok := pl.match.find(l.text); ok {
					return Result{Category: pl.category, Rule: l.brand + " " + src}, true
				}
			}
			return Result{}, false
		}},
		keywordTier(TierKeywordSpecific, specific),
		keywordTier(TierKeywordGeneral, general),
		keywordTier(TierKeywordGuarded, guardedKw),
	}, nil
}

func compileKeywords(in []rules.Keyword) ([]guarded, error) {
	out := make([]guarded, 0, len(in))
	for i, k := range in {
		match, err := compileMatcher(k.Patterns)
		if err != nil {
			return nil, fmt.Errorf("keyword %d: %w", i, err)
		}
		block, err := compileMatcher(k.Blockers)
		if err != nil {
			return nil, fmt.Errorf("keyword %d blockers: %w", i, err)
		}
		name := k.Name
		if name == "" {
			name = k.Category
		}
		out = append(out, guarded{name: name, category: Category(k.Category), match: match, block: block})
	}
	return out, nil
}

func keywordTier(name string, kws []guarded) tier {
	return tier{name: name, eval: func(l listing) (Result, bool) {
		for _, k := range kws {
			if src, ok := k.find(l.text); ok {
				return Result{Category: k.category, Rule: k.name + " " + src}, true
			}
		}
		return Result{}, false
	}}
}

// patternTier decides cat, optionally with a subcategory, when the guarded
// matcher fires.
func patternTier(name string, g guarded, cat Category, sub Subcategory) tier {
	return tier{name: name, eval: func(l listing) (Result, bool) {
		src, ok := g.find(l.text)
		if !ok {
			return Result{}, false
		}
		return Result{Category: cat, Subcategory: sub, Rule: src}, true
	}}
}

func newGuarded(patterns, blockers []string) (guarded, error) {
	match, err := compileMatcher(patterns)
	if err != nil {
		return guarded{}, err
	}
	block, err := compileMatcher(blockers)
	if err != nil {
		return guarded{}, err
	}
	return guarded{match: match, block: block}, nil
}

func (b *builder) cable(r rules.CableRules) ([]tier, error) {
	generic, err := newGuarded(r.Generic, nil)
	if err != nil {
		return nil, fmt.Errorf("cable generic: %w", err)
	}
	brands := map[string]Subcategory{}
	for _, name := range r.IEMBrands {
		if k := b.brandKey(name); k != "" {
			brands[k] = IEMCable
		}
	}
	for _, name := range r.HeadphoneBrands {
		if k := b.brandKey(name); k != "" {
			brands[k] = HeadphoneCable
		}
	}
	iemModels, err := newGuarded(r.IEMModels, nil)
	if err != nil {
		return nil, fmt.Errorf("cable iem_models: %w", err)
	}
	hpModels, err := newGuarded(r.HeadphoneModels, nil)
	if err != nil {
		return nil, fmt.Errorf("cable headphone_models: %w", err)
	}
	iemConn, err := newGuarded(r.IEMConnectors, nil)
	if err != nil {
		return nil, fmt.Errorf("cable iem_connectors: %w", err)
	}
	hpConn, err := newGuarded(r.HeadphoneConnectors, nil)
	if err != nil {
		return nil, fmt.Errorf("cable headphone_connectors: %w", err)
	}

	pair := func(name string, iem, hp guarded) tier {
		first := patternTier(name, iem, Cable, IEMCable)
		then := patternTier(name, hp, Cable, HeadphoneCable)
		return tier{name: name, eval: func(l listing) (Result, bool) {
			if r, ok := first.eval(l); ok {
				return r, true
			}
			return then.eval(l)
		}}
	}

	return []tier{
		patternTier(TierCableGeneric, generic, Cable, GenericCable),
		{name: TierCableBrand, eval: func(l listing) (Result, bool) {
			sub, ok := brands[l.brand]
			if !ok {
				return Result{}, false
			}
			return Result{Category: Cable, Subcategory: sub, Rule: l.brand}, true
		}},
		pair(TierCableModel, iemModels, hpModels),
		pair(TierCableConnector, iemConn, hpConn),
	}, nil
}

func (b *builder) speaker(r rules.SpeakerRules) ([]tier, error) {
	guard, err := newGuarded(r.Guards, nil)
	if err != nil {
		return nil, fmt.Errorf("speaker guards: %w", err)
	}
	acc, err := newGuarded(r.Accessory, nil)
	if err != nil {
		return nil, fmt.Errorf("speaker accessory: %w", err)
	}
	cable, err := newGuarded(r.Cable, nil)
	if err != nil {
		return nil, fmt.Errorf("speaker cable: %w", err)
	}
	return []tier{
		patternTier(TierSpeakerGuard, guard, Speaker, ""),
		patternTier(TierSpeakerAccessory, acc, Accessory, ""),
		patternTier(TierSpeakerCable, cable, Cable, GenericCable),
	}, nil
}

func (b *builder) dap(r rules.DAPRules) ([]tier, error) {
	stationary, err := newGuarded(r.Stationary, r.Portable)
	if err != nil {
		return nil, fmt.Errorf("dap: %w", err)
	}
	return []tier{patternTier(TierDAPStationary, stationary, DAC, "")}, nil
}

func (b *builder) dacAmp(r rules.DACAmpRules) ([]tier, error) {
	player, err := newGuarded(r.DAP, r.Guards)
	if err != nil {
		return nil, fmt.Errorf("dac_amp dap: %w", err)
	}
	dac, err := newGuarded(r.DAC, nil)
	if err != nil {
		return nil, fmt.Errorf("dac_amp dac: %w", err)
	}
	return []tier{
		patternTier(TierDACAmpPlayer, player, DAP, ""),
		patternTier(TierAmpDAC, dac, DAC, ""),
	}, nil
}

func (b *builder) microphone(r rules.MicrophoneRules) ([]tier, error) {
	karaoke, err := newGuarded(r.Unconditional, nil)
	if err != nil {
		return nil, fmt.Errorf("microphone unconditional: %w", err)
	}
	guard, err := newGuarded(r.Guards, nil)
	if err != nil {
		return nil, fmt.Errorf("microphone guards: %w", err)
	}
	junk, err := newGuarded(r.Junk, nil)
	if err != nil {
		return nil, fmt.Errorf("microphone junk: %w", err)
	}
	return []tier{
		patternTier(TierMicKaraoke, karaoke, Excluded, ""),
		patternTier(TierMicGuard, guard, Microphone, ""),
		patternTier(TierMicJunk, junk, Excluded, ""),
	}, nil
}
