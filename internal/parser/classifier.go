package parser

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchKind says how a name was resolved against the alias table.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchFuzzy
)

func (m MatchKind) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	}
	return "none"
}

// ClassifierOptions tunes fuzzy matching.
type ClassifierOptions struct {
	MaxEditDistance int
	MaxEditRatio    float64
	MinFuzzyLength  int
}

func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{
		MaxEditDistance: 3,
		MaxEditRatio:    0.2,
		MinFuzzyLength:  4,
	}
}

// Classification is the outcome of looking up one marker name.
type Classification struct {
	Canonical string
	Category  Category
	SubGroup  SubGroup
	Match     MatchKind
	Distance  int
}

// Classifier resolves free-text marker names. It holds no mutable state.
type Classifier struct {
	table *AliasTable
	opts  ClassifierOptions
}

func NewClassifier(table *AliasTable, opts ClassifierOptions) *Classifier {
	return &Classifier{table: table, opts: opts}
}

// Classify looks name up exactly first, then with its words in any
// order, and only then by edit distance. Ratios ("LDL/HDL") and fatty
// acid notations ("C20:5") are order-sensitive and skip the word lookup.
// Edits are only allowed in words without digits: "Interleukin-8" never
// resolves to "Interleukin-6", nor "Vitamin B3" to "Vitamin D3". Unknown
// names land in the uncategorized bucket under their cleaned original
// spelling.
func (c *Classifier) Classify(name string) Classification {
	key := NormalizeName(name)
	if idx, ok := c.table.exact[key]; ok {
		return c.result(idx, MatchExact, 0)
	}
	if key != "" && !strings.ContainsAny(name, "/:") {
		if idx := c.table.words[sortedWords(key)]; idx > 0 {
			return c.result(idx-1, MatchExact, 0)
		}
	}

	best, bestDist := -1, 0
	n := len([]rune(key))
	coded := codedWords(key)
	if n > 0 {
		for _, k := range c.table.keys {
			if k.runes < c.opts.MinFuzzyLength || k.coded != coded {
				continue
			}
			allowed := int(float64(k.runes) * c.opts.MaxEditRatio)
			if allowed > c.opts.MaxEditDistance {
				allowed = c.opts.MaxEditDistance
			}
			if allowed <= 0 || abs(k.runes-n) > allowed {
				continue
			}
			d := levenshtein.Distance(key, k.norm, nil)
			if d <= allowed && (best < 0 || d < bestDist) {
				best, bestDist = k.entry, d
			}
		}
	}
	if best >= 0 {
		return c.result(best, MatchFuzzy, bestDist)
	}
	return Classification{
		Canonical: cleanName(name),
		Category:  CategoryUncategorized,
		Match:     MatchNone,
	}
}

func (c *Classifier) result(idx int, kind MatchKind, dist int) Classification {
	e := c.table.entries[idx]
	return Classification{
		Canonical: e.Canonical,
		Category:  e.Category,
		SubGroup:  e.SubGroup,
		Match:     kind,
		Distance:  dist,
	}
}

var (
	umlauts = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
	// specimen qualifiers printed after the analyte name
	qualifiers = regexp.MustCompile(`(^|\s)(i\.\s?s\.?|i\.\s?vb\.?|i\.\s?p\.?|im serum|im vollblut|im plasma|im urin)(\s|$)`)
)

// NormalizeName folds a marker name to its lookup key.
func NormalizeName(name string) string {
	s := umlauts.Replace(strings.ToLower(name))
	if folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s); err == nil {
		s = folded
	}
	s = qualifiers.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// codedWords keeps the words of key that contain a digit.
func codedWords(key string) string {
	var out []string
	for _, w := range strings.Fields(key) {
		if strings.ContainsFunc(w, unicode.IsDigit) {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

func sortedWords(key string) string {
	words := strings.Fields(key)
	slices.Sort(words)
	return strings.Join(words, " ")
}

func cleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
