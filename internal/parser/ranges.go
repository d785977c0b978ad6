package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrRangeSyntax   = errors.New("unrecognized reference range")
	ErrRangeInverted = errors.New("reference range lower bound exceeds upper bound")
)

const numPattern = `([+-]?\d[\d.,]*)`

var (
	closedRange   = regexp.MustCompile(`^` + numPattern + `\s*(?:-|–|—|bis)\s*` + numPattern + `$`)
	upperClosed   = regexp.MustCompile(`^(?:<=|≤|=<|bis)\s*` + numPattern + `$`)
	upperOpen     = regexp.MustCompile(`^(?:<|unter)\s*` + numPattern + `$`)
	lowerClosed   = regexp.MustCompile(`^(?:>=|≥|=>|ab)\s*` + numPattern + `$`)
	lowerOpen     = regexp.MustCompile(`^(?:>|über|ueber)\s*` + numPattern + `$`)
	censoredValue = regexp.MustCompile(`^(<=|>=|<|>|≤|≥)\s*` + numPattern + `$`)
	qualitativeRe = regexp.MustCompile(`^(negativ|positiv|neg\.?|pos\.?|n\.\s?n\.|nicht nachweisbar|siehe befund)$`)
)

// ParseRange reads a German reference-range expression. Empty and purely
// qualitative ranges yield an unknown range without error. On error the
// returned range is unknown but keeps the original text.
func ParseRange(text string) (Range, error) {
	r := Range{Text: strings.TrimSpace(text)}
	s := strings.ToLower(r.Text)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "("), ")"))
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
	if s == "" || qualitativeRe.MatchString(s) {
		return r, nil
	}

	if m := closedRange.FindStringSubmatch(s); m != nil {
		lo, okLo := ParseNumber(m[1])
		hi, okHi := ParseNumber(m[2])
		if !okLo || !okHi {
			return r, fmt.Errorf("%w: %q", ErrRangeSyntax, r.Text)
		}
		if lo > hi {
			return r, fmt.Errorf("%w: %q", ErrRangeInverted, r.Text)
		}
		r.Lower, r.Upper = &lo, &hi
		r.LowerInclusive, r.UpperInclusive = true, true
		r.Known = true
		return r, nil
	}

	for _, form := range []struct {
		re        *regexp.Regexp
		upper     bool
		inclusive bool
	}{
		{upperClosed, true, true},
		{upperOpen, true, false},
		{lowerClosed, false, true},
		{lowerOpen, false, false},
	} {
		m := form.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, ok := ParseNumber(m[1])
		if !ok {
			return r, fmt.Errorf("%w: %q", ErrRangeSyntax, r.Text)
		}
		if form.upper {
			r.Upper, r.UpperInclusive = &v, form.inclusive
		} else {
			r.Lower, r.LowerInclusive = &v, form.inclusive
		}
		r.Known = true
		return r, nil
	}
	return r, fmt.Errorf("%w: %q", ErrRangeSyntax, r.Text)
}

// ComputeFlag places value relative to r. Closed bounds include the
// boundary value in the normal band; open bounds exclude it.
func ComputeFlag(value *float64, r Range) Flag {
	if value == nil || !r.Known {
		return FlagUnknown
	}
	v := *value
	if r.Lower != nil {
		if r.LowerInclusive && v < *r.Lower || !r.LowerInclusive && v <= *r.Lower {
			return FlagLow
		}
	}
	if r.Upper != nil {
		if r.UpperInclusive && v > *r.Upper || !r.UpperInclusive && v >= *r.Upper {
			return FlagHigh
		}
	}
	return FlagNormal
}

// CensoredFlag flags a result reported only as a bound, such as "<0.5"
// or ">100". It is unknown unless the bound alone places the result.
func CensoredFlag(result string, r Range) Flag {
	m := censoredValue.FindStringSubmatch(strings.TrimSpace(result))
	if m == nil || !r.Known {
		return FlagUnknown
	}
	x, ok := ParseNumber(m[2])
	if !ok {
		return FlagUnknown
	}
	// inclusive: the result may equal x
	inclusive := m[1] == "<=" || m[1] == ">=" || m[1] == "≤" || m[1] == "≥"

	switch m[1] {
	case "<", "<=", "≤":
		if r.Lower != nil {
			if x < *r.Lower || x == *r.Lower && (!inclusive || !r.LowerInclusive) {
				return FlagLow
			}
			return FlagUnknown
		}
		if r.Upper == nil || x < *r.Upper || x == *r.Upper && (!inclusive || r.UpperInclusive) {
			return FlagNormal
		}
	default:
		if r.Upper != nil {
			if x > *r.Upper || x == *r.Upper && (!inclusive || !r.UpperInclusive) {
				return FlagHigh
			}
			return FlagUnknown
		}
		if r.Lower == nil || x > *r.Lower || x == *r.Lower && (!inclusive || r.LowerInclusive) {
			return FlagNormal
		}
	}
	return FlagUnknown
}

// rangeShaped is the lexical test the segmenter applies before a remainder
// is treated as a reference range.
func rangeShaped(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	if qualitativeRe.MatchString(s) {
		return true
	}
	hasDigit := false
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, "()[]")
		switch f {
		case "", "-", "–", "—", "bis", "ab", "unter", "über", "ueber", "<", ">", "<=", ">=", "≤", "≥", "=<", "=>":
			continue
		}
		f = strings.TrimLeft(f, "<>=≤≥")
		for _, part := range strings.FieldsFunc(f, func(r rune) bool { return r == '-' || r == '–' || r == '—' }) {
			if !isNumeric(part) {
				return false
			}
			hasDigit = true
		}
	}
	return hasDigit
}
