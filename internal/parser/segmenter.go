package parser

import (
	"iter"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// SegmenterOptions configures row detection.
type SegmenterOptions struct {
	// StopTerms mark header, footer and address lines. Matched as
	// lower-case substrings of the name column.
	StopTerms []string
	// RowTolerance is the largest vertical distance, in normalized page
	// units, between tokens of the same printed row.
	RowTolerance float64
}

func DefaultSegmenterOptions() SegmenterOptions {
	return SegmenterOptions{
		StopTerms: []string{
			"straße", "strasse", "telefon", "tel.", "fax", "email", "e-mail",
			"datum", "seite", "page", "eingang", "ausgang", "unterschrift",
			"adresse", "befund", "auftrag", "patient", "geburtsdatum", "labor",
		},
		RowTolerance: 0.006,
	}
}

// SegmentStats counts lines seen by a segmentation pass. It is complete
// only after the sequence has been fully consumed.
type SegmentStats struct {
	Candidates int
	Skipped    int
}

type Segmenter struct {
	stopTerms []string
	tolerance float64
}

func NewSegmenter(opts SegmenterOptions) *Segmenter {
	terms := make([]string, 0, len(opts.StopTerms))
	for _, t := range opts.StopTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &Segmenter{stopTerms: terms, tolerance: opts.RowTolerance}
}

// Lines yields the candidate rows of normalized text in source order.
// Rows that do not have the shape of a result are counted as skipped;
// blank lines are ignored.
func (s *Segmenter) Lines(text string, stats *SegmentStats) iter.Seq[CandidateLine] {
	return func(yield func(CandidateLine) bool) {
		lineNo := 0
		for line := range strings.SplitSeq(text, "\n") {
			lineNo++
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			cl, ok := s.match(lineNo, line)
			if !ok {
				stats.Skipped++
				continue
			}
			stats.Candidates++
			if !yield(cl) {
				return
			}
		}
	}
}

// JoinRows rebuilds printed rows from positioned tokens: tokens are grouped
// per page by vertical centre and ordered left to right.
func (s *Segmenter) JoinRows(tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Page != sorted[j].Page {
			return sorted[i].Page < sorted[j].Page
		}
		return sorted[i].Y < sorted[j].Y
	})

	var rows [][]Token
	var cur []Token
	var anchor float64
	for _, t := range sorted {
		if len(cur) > 0 && (t.Page != cur[0].Page || t.Y-anchor > s.tolerance) {
			rows = append(rows, cur)
			cur = nil
		}
		if len(cur) == 0 {
			anchor = t.Y
		}
		cur = append(cur, t)
	}
	rows = append(rows, cur)

	var b strings.Builder
	for i, row := range rows {
		sort.SliceStable(row, func(a, c int) bool { return row[a].X < row[c].X })
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, t := range row {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strings.TrimSpace(t.Text))
		}
	}
	return b.String()
}

var (
	valueToken  = regexp.MustCompile(`^[<>≤≥]?[+-]?\d+(\.\d+)?$`)
	qualitative = regexp.MustCompile(`^(?i)(negativ|positiv|neg\.?|pos\.?|n\.n\.|normal)$`)
	comparators = map[string]bool{"<": true, ">": true, "≤": true, "≥": true, "<=": true, ">=": true}
	markTokens  = map[string]bool{
		"H": true, "L": true, "+": true, "-": true, "++": true, "--": true,
		"↑": true, "↓": true, "↑↑": true, "↓↓": true,
		"*": true, "**": true, "!": true, "!!": true,
	}
)

func isMark(tok string) bool {
	return markTokens[tok] || strings.EqualFold(tok, "kritisch")
}

// match applies the row grammar
//
//	<name> <value> [<mark>] [<unit>] [<range>] [<mark>]
//
// and requires at least one of unit or range.
func (s *Segmenter) match(lineNo int, line string) (CandidateLine, bool) {
	fields := strings.Fields(line)
	cl := CandidateLine{LineNo: lineNo, Raw: line}

	for len(fields) > 0 && isMark(fields[len(fields)-1]) {
		cl.Mark = joinMark(fields[len(fields)-1], cl.Mark)
		fields = fields[:len(fields)-1]
	}

	vi := -1
	for i := 1; i < len(fields); i++ {
		f := fields[i]
		if comparators[f] && i+1 < len(fields) && isNumeric(fields[i+1]) {
			fields = append(fields[:i], append([]string{f + fields[i+1]}, fields[i+2:]...)...)
			f = fields[i]
		}
		if v, mark := splitAttachedMark(f); valueToken.MatchString(v) || qualitative.MatchString(v) {
			fields[i] = v
			if mark != "" {
				cl.Mark = joinMark(mark, cl.Mark)
			}
			vi = i
			break
		}
	}
	if vi < 1 {
		return cl, false
	}

	cl.Name = strings.Join(fields[:vi], " ")
	if !s.validName(cl.Name) {
		return cl, false
	}
	cl.Value = fields[vi]

	rest := fields[vi+1:]
	if len(rest) > 0 && isMark(rest[0]) && rest[0] != "-" {
		cl.Mark = joinMark(rest[0], cl.Mark)
		rest = rest[1:]
	}
	if len(rest) > 0 && isUnit(rest[0]) {
		cl.Unit = rest[0]
		rest = rest[1:]
	}
	cl.Range = strings.Join(rest, " ")
	if cl.Range != "" && !rangeShaped(cl.Range) {
		// unit printed after the range column
		if cl.Unit == "" && len(rest) > 1 && isUnit(rest[len(rest)-1]) && rangeShaped(strings.Join(rest[:len(rest)-1], " ")) {
			cl.Unit = rest[len(rest)-1]
			cl.Range = strings.Join(rest[:len(rest)-1], " ")
		} else {
			return cl, false
		}
	}
	if cl.Unit == "" && cl.Range == "" {
		return cl, false
	}
	return cl, true
}

func (s *Segmenter) validName(name string) bool {
	if len([]rune(name)) < 2 {
		return false
	}
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}
	lower := strings.ToLower(name)
	for _, t := range s.stopTerms {
		if strings.Contains(lower, t) {
			return false
		}
	}
	return true
}

// isUnit accepts tokens such as G/l, mg/dl, %, fl, Mill/µl or 10^3/µl.
func isUnit(tok string) bool {
	if isNumeric(tok) || rangeShaped(tok) || qualitative.MatchString(tok) {
		return false
	}
	if tok == "%" || tok == "‰" {
		return true
	}
	letters := 0
	for _, r := range tok {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r), r == '/', r == '^', r == '.', r == '%', r == '*', r == '²', r == '³':
		default:
			return false
		}
	}
	return letters > 0 && len([]rune(tok)) <= 12
}

func splitAttachedMark(tok string) (string, string) {
	for _, suffix := range []string{"↑↑", "↓↓", "**", "!!", "↑", "↓", "*", "!"} {
		if len(tok) > len(suffix) && strings.HasSuffix(tok, suffix) {
			return strings.TrimSuffix(tok, suffix), suffix
		}
	}
	return tok, ""
}

func joinMark(mark, existing string) string {
	if existing == "" {
		return mark
	}
	return mark + " " + existing
}
