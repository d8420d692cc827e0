// Package normalize canonicalizes raw retailer product titles into a
// comparable token stream.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixDelimiters separate the product name from a retailer-added subtitle.
var suffixDelimiters = []string{"|", "｜", " // ", " • "}

var (
	noiseParenthetical = regexp.MustCompile(`[(\[]\s*(?:sample|prototype|demo|ex[\s-]?demo|b[\s-]?stock|open[\s-]?box|refurbished|used|pre[\s-]?owned|display(?:\s+unit)?)\s*[)\]]`)

	marketingNoise = wordAlternation(
		`100\s?%\s?(?:authentic|genuine|original)`,
		`official`,
		`authentic`,
		`genuine`,
		`original`,
		`brand\s+new`,
		`free\s+shipping`,
		`fast\s+shipping`,
		`free\s+delivery`,
		`in\s+stock`,
		`hot\s+sale`,
		`best\s*seller`,
		`new\s+arrival`,
		`limited\s+stock`,
	)

	categorySuffix = wordAlternation(
		`in[\s-]?ear[\s-]?monitors?`,
		`in[\s-]?ear[\s-]?headphones?`,
		`in[\s-]?ear[\s-]?earphones?`,
		`in[\s-]?ear`,
		`iems?`,
		`earphones?`,
		`earbuds?`,
		`headphones?`,
		`headsets?`,
		`over[\s-]?ear`,
		`on[\s-]?ear`,
		`open[\s-]?back`,
		`closed[\s-]?back`,
		`semi[\s-]?open`,
		`circumaural`,
		`supra[\s-]?aural`,
	)

	dashes      = regexp.MustCompile(`[-‐‑‒–—―]+`)
	apostrophes = regexp.MustCompile(`['’]`)
	nonAlnum    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	letterDigit = regexp.MustCompile(`(\p{L})(\p{N})`)
	digitLetter = regexp.MustCompile(`(\p{N})(\p{L})`)
	whitespace  = regexp.MustCompile(`\s+`)

	markForm = regexp.MustCompile(`\b(?:mark|mk)\s*(\d+|xiii|xii|xi|x|ix|viii|vii|vi|v|iv|iii|ii|i)\b`)
	roman    = regexp.MustCompile(`\b(?:xiii|xii|xi|ix|viii|vii|vi|iv|iii|ii)\b`)
	ordinal  = regexp.MustCompile(`\b(\d+) (?:st|nd|rd|th)\b`)
)

var romanValues = map[string]string{
	"i": "1", "ii": "2", "iii": "3", "iv": "4", "v": "5", "vi": "6", "vii": "7",
	"viii": "8", "ix": "9", "x": "10", "xi": "11", "xii": "12", "xiii": "13",
}

func wordAlternation(fragments ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(fragments, "|") + `)\b`)
}

// foldAccents decomposes and drops combining marks (é -> e).
// Transform chains carry internal buffers, so one is built per call.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// FoldKey lowercases, strips accents and collapses whitespace. It is the key
// form used for brand tables.
func FoldKey(s string) string {
	return strings.Join(strings.Fields(foldAccents(strings.ToLower(s))), " ")
}

// Normalize returns the canonical comparable form of a product title.
// It never fails; empty input yields empty output. The pipeline is applied
// until its output is stable, so Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	s := text
	for {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func pass(s string) string {
	s = foldAccents(strings.ToLower(s))
	s = truncateSuffix(s)
	s = noiseParenthetical.ReplaceAllString(s, " ")
	s = marketingNoise.ReplaceAllString(s, " ")
	s = categorySuffix.ReplaceAllString(s, " ")
	s = dashes.ReplaceAllString(s, " ")
	s = apostrophes.ReplaceAllString(s, "")
	s = nonAlnum.ReplaceAllString(s, " ")
	s = letterDigit.ReplaceAllString(s, "$1 $2")
	s = digitLetter.ReplaceAllString(s, "$1 $2")
	s = collapse(s)
	// Each rewrite drops a mark word, so chains like "mk mk 3" settle.
	for markForm.MatchString(s) {
		s = collapse(markForm.ReplaceAllStringFunc(s, func(m string) string {
			sub := markForm.FindStringSubmatch(m)
			if v, ok := romanValues[sub[1]]; ok {
				return v
			}
			return sub[1]
		}))
	}
	s = roman.ReplaceAllStringFunc(s, func(m string) string {
		return romanValues[m]
	})
	s = trailingRoman(s)
	s = ordinal.ReplaceAllString(s, "$1")
	return collapse(s)
}

// modelModifiers are words after which a final "x" or "v" is a model
// letter, as in "pro x".
var modelModifiers = map[string]bool{
	"pro": true, "plus": true, "max": true, "mini": true, "lite": true,
	"se": true, "ultra": true, "air": true, "type": true, "edition": true,
}

// trailingRoman converts a final "v" or "x" when it follows a letters-only
// word that is not a model modifier: "utopia v" becomes "utopia 5" while
// "q 5 v" and "pro x" are kept.
func trailingRoman(s string) string {
	words := strings.Fields(s)
	n := len(words)
	if n < 2 || (words[n-1] != "v" && words[n-1] != "x") {
		return s
	}
	prev := words[n-2]
	if modelModifiers[prev] || strings.IndexFunc(prev, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
		return s
	}
	words[n-1] = romanValues[words[n-1]]
	return strings.Join(words, " ")
}

// truncateSuffix cuts the title at the earliest suffix delimiter, unless
// nothing but whitespace precedes it.
func truncateSuffix(s string) string {
	cut := -1
	for _, d := range suffixDelimiters {
		if i := strings.Index(s, d); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 || strings.TrimSpace(s[:cut]) == "" {
		return s
	}
	return s[:cut]
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// StripBrand removes a leading brand from an already normalized name.
// A supplied brand is matched as a word prefix after normalization; when it
// is not a prefix the name is returned unchanged. Only when no brand is
// known does it fall back to dropping the first word. The result is never
// empty for a non-empty name.
func StripBrand(normalized, brand string) string {
	if normalized == "" {
		return ""
	}
	if nb := Normalize(brand); nb != "" {
		if rest, ok := strings.CutPrefix(normalized, nb+" "); ok && rest != "" {
			return rest
		}
		return normalized
	}
	if i := strings.IndexByte(normalized, ' '); i > 0 {
		return normalized[i+1:]
	}
	return normalized
}

// Tokens splits a normalized name into words.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
