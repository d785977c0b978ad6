package parser

import (
	"regexp"
	"strings"
)

// Substitution replaces From with To. Whole-token substitutions only fire
// when From is an entire whitespace-separated token.
type Substitution struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Anywhere bool   `yaml:"anywhere"`
}

// NormalizerOptions configures the OCR clean-up tables.
type NormalizerOptions struct {
	DigitConfusions map[rune]rune
	Substitutions   []Substitution
}

// DefaultNormalizerOptions returns the repair tables used for German lab
// reports.
func DefaultNormalizerOptions() NormalizerOptions {
	return NormalizerOptions{
		DigitConfusions: map[rune]rune{
			'O': '0',
			'o': '0',
			'I': '1',
			'l': '1',
			'|': '1',
		},
		Substitutions: []Substitution{
			{From: "\u03bc", To: "\u00b5", Anywhere: true},
			{From: "ug/l", To: "µg/l"},
			{From: "ug/dl", To: "µg/dl"},
			{From: "umol/l", To: "µmol/l"},
			{From: "mg/", To: "mg/l"},
			{From: "µg/", To: "µg/l"},
			{From: "ng/", To: "ng/ml"},
			{From: "pg/", To: "pg/ml"},
			{From: "mmol/", To: "mmol/l"},
			{From: "pmol/", To: "pmol/l"},
			{From: "op", To: "%"},
			{From: "1000/", To: "1000/µl"},
			{From: "Mill/", To: "Mill/µl"},
		},
	}
}

// NormalizeStats counts what the normalizer changed or could not resolve.
type NormalizeStats struct {
	Unresolved    int
	Substitutions int
	DigitRepairs  int
	Hyphenations  int
}

func (s *NormalizeStats) add(o NormalizeStats) {
	s.Unresolved += o.Unresolved
	s.Substitutions += o.Substitutions
	s.DigitRepairs += o.DigitRepairs
	s.Hyphenations += o.Hyphenations
}

var (
	hyphenWrap      = regexp.MustCompile(`([A-Za-zÄÖÜäöüß])-\n[ \t]*([a-zäöüß])`)
	spaceBeforeSep  = regexp.MustCompile(`(\d) +([.,]) *(\d)`)
	spaceAfterSep   = regexp.MustCompile(`(\d)([.,]) +(\d)`)
	numericLike     = regexp.MustCompile(`^[0-9OoIl|.,\-–]+$`)
	multiBlankLines = regexp.MustCompile(`\n{3,}`)
)

var spaceReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u202f", " ",
	"\u2007", " ",
	"\u2212", "-",
	"\t", " ",
	"\r\n", "\n",
	"\r", "\n",
)

// Normalizer repairs OCR artifacts and unifies the decimal separator.
// It is safe for concurrent use.
type Normalizer struct {
	confusions map[rune]rune
	anywhere   []Substitution
	tokens     map[string]string
}

func NewNormalizer(opts NormalizerOptions) *Normalizer {
	n := &Normalizer{
		confusions: make(map[rune]rune, len(opts.DigitConfusions)),
		tokens:     make(map[string]string),
	}
	for from, to := range opts.DigitConfusions {
		n.confusions[from] = to
	}
	for _, sub := range opts.Substitutions {
		if sub.From == "" {
			continue
		}
		if sub.Anywhere {
			n.anywhere = append(n.anywhere, sub)
			continue
		}
		if _, dup := n.tokens[sub.From]; !dup {
			n.tokens[sub.From] = sub.To
		}
	}
	return n
}

// Normalize never fails. Ambiguous numbers are left as they are and
// counted in the returned stats.
func (n *Normalizer) Normalize(raw string) (string, NormalizeStats) {
	var stats NormalizeStats

	text := spaceReplacer.Replace(raw)
	stats.Hyphenations = len(hyphenWrap.FindAllStringIndex(text, -1))
	text = hyphenWrap.ReplaceAllString(text, "$1$2")
	text = spaceBeforeSep.ReplaceAllString(text, "$1$2$3")
	text = spaceAfterSep.ReplaceAllString(text, "$1$2$3")

	for _, sub := range n.anywhere {
		if c := strings.Count(text, sub.From); c > 0 {
			stats.Substitutions += c
			text = strings.ReplaceAll(text, sub.From, sub.To)
		}
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = n.normalizeLine(line, &stats)
	}
	text = strings.Join(lines, "\n")
	text = multiBlankLines.ReplaceAllString(text, "\n\n")
	return strings.Trim(text, "\n"), stats
}

// NormalizeField applies the same repairs to a single extracted cell.
func (n *Normalizer) NormalizeField(field string) (string, NormalizeStats) {
	var stats NormalizeStats
	text := spaceReplacer.Replace(field)
	text = strings.ReplaceAll(text, "\n", " ")
	text = spaceBeforeSep.ReplaceAllString(text, "$1$2$3")
	text = spaceAfterSep.ReplaceAllString(text, "$1$2$3")
	for _, sub := range n.anywhere {
		if c := strings.Count(text, sub.From); c > 0 {
			stats.Substitutions += c
			text = strings.ReplaceAll(text, sub.From, sub.To)
		}
	}
	return n.normalizeLine(text, &stats), stats
}

func (n *Normalizer) normalizeLine(line string, stats *NormalizeStats) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if repaired, ok := n.repairDigits(f); ok {
			stats.DigitRepairs++
			f = repaired
		}
		if to, ok := n.tokens[f]; ok {
			stats.Substitutions++
			f = to
		}
		fields[i] = numericRun.ReplaceAllStringFunc(f, func(run string) string {
			if datePattern.MatchString(run) {
				return run
			}
			canon, ok := canonicalNumber(run)
			if !ok {
				stats.Unresolved++
			}
			return canon
		})
	}
	return strings.Join(fields, " ")
}

// repairDigits swaps look-alike letters for digits inside tokens that are
// otherwise numeric and contain at least one real digit.
func (n *Normalizer) repairDigits(tok string) (string, bool) {
	if len(n.confusions) == 0 || !numericLike.MatchString(tok) {
		return tok, false
	}
	hasDigit, hasConfusion := false, false
	for _, r := range tok {
		if r >= '0' && r <= '9' {
			hasDigit = true
		}
		if _, ok := n.confusions[r]; ok {
			hasConfusion = true
		}
	}
	if !hasDigit || !hasConfusion {
		return tok, false
	}
	var b strings.Builder
	for _, r := range tok {
		if to, ok := n.confusions[r]; ok {
			r = to
		}
		b.WriteRune(r)
	}
	return b.String(), true
}
