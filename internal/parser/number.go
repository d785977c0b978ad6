package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numericRun  = regexp.MustCompile(`\d[\d.,]*\d|\d`)
	datePattern = regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.(\d{2}|\d{4})$`)
	plainNumber = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

// canonicalNumber rewrites a run of digits and separators into the
// period-decimal form without thousands separators. ok is false when the
// run cannot be read one way only; the input is then returned unchanged.
func canonicalNumber(run string) (string, bool) {
	commas := strings.Count(run, ",")
	dots := strings.Count(run, ".")

	switch {
	case commas == 0 && dots == 0:
		return run, true
	case commas == 0 && dots == 1:
		return run, true
	case dots == 0 && commas == 1:
		return strings.Replace(run, ",", ".", 1), true
	case commas == 0:
		if groupedThousands(strings.Split(run, ".")) {
			return strings.ReplaceAll(run, ".", ""), true
		}
		return run, false
	case dots == 0:
		if groupedThousands(strings.Split(run, ",")) {
			return strings.ReplaceAll(run, ",", ""), true
		}
		return run, false
	}

	lastComma := strings.LastIndex(run, ",")
	lastDot := strings.LastIndex(run, ".")
	if lastComma > lastDot {
		// German: 1.234,5
		if commas != 1 || !groupedThousands(strings.Split(run[:lastComma], ".")) {
			return run, false
		}
		return strings.ReplaceAll(run[:lastComma], ".", "") + "." + run[lastComma+1:], true
	}
	// English: 1,234.5
	if dots != 1 || !groupedThousands(strings.Split(run[:lastDot], ",")) {
		return run, false
	}
	return strings.ReplaceAll(run[:lastDot], ",", "") + "." + run[lastDot+1:], true
}

// groupedThousands reports whether parts look like 1-3 leading digits
// followed by groups of exactly three.
func groupedThousands(parts []string) bool {
	if len(parts) < 2 || len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

// ParseNumber reads a numeric literal in either decimal convention,
// tolerating thousands separators. Comparators and units are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	sign := ""
	if s[0] == '+' || s[0] == '-' {
		sign, s = s[:1], s[1:]
	}
	canon, ok := canonicalNumber(s)
	if !ok || !plainNumber.MatchString(canon) {
		return 0, false
	}
	v, err := strconv.ParseFloat(sign+canon, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isNumeric(s string) bool {
	_, ok := ParseNumber(s)
	return ok
}
