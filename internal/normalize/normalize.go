// Package normalize canonicalizes field values so that records from
// different exports can be compared. All functions are idempotent:
// normalizing an already-normalized value is a no-op.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dateLayouts lists accepted input formats, most specific first. Day-first
// layouts take priority over month-first because the exports this tool
// ingests are predominantly French-locale.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	"01/2006",
	"2006-01",
}

// stripMarks removes combining diacritical marks after NFD decomposition.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Text canonicalizes free text: trim, lower-case, collapse whitespace,
// strip punctuation.
func Text(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Number canonicalizes a numeric string: thousands separators removed,
// decimal comma converted, trailing zero fraction dropped. Returns the input
// trimmed when it does not parse as a number.
func Number(s string) string {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return ""
	}
	f, ok := parseNumber(cleaned)
	if !ok {
		return cleaned
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseNumber handles "500,000", "500 000", "45000.50" and the French
// decimal comma "45000,50".
func parseNumber(s string) (float64, bool) {
	// Spaces (including non-breaking) only ever separate thousands.
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, s)

	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		// Whichever separator comes last is the decimal point.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Contains(s, ","):
		// A single comma followed by exactly three digits is a thousands
		// separator ("500,000"); anything else is a decimal comma.
		if isThousandsGrouped(s, ',') {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isThousandsGrouped(s string, sep rune) bool {
	parts := strings.Split(s, string(sep))
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}

// Date canonicalizes a date string to "2006-01-02". Returns the input
// trimmed when no known layout matches.
func Date(s string) string {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return cleaned
}

// Value canonicalizes an arbitrary field value to a comparable string:
// dates become calendar-date strings, numbers become canonical numeric
// strings, everything else goes through Text.
func Value(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format("2006-01-02")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}

	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return ""
	}
	if looksLikeDate(s) {
		return Date(s)
	}
	if f, ok := parseNumber(s); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return Text(s)
}

// looksLikeDate reports whether the string parses under a known date layout.
func looksLikeDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// Name canonicalizes a person's display name: diacritics stripped,
// lower-cased, tokens sorted alphabetically and rejoined with single spaces.
// Sorting makes "KOUASSI Jean" and "Jean Kouassi" collide deterministically;
// two distinct people sharing the same token multiset will also collide,
// an accepted trade-off of this heuristic.
func Name(s string) string {
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	tokens := strings.Fields(Text(stripped))
	if len(tokens) == 0 {
		return ""
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Slug turns a sheet header into a lower_snake_case field name: diacritics
// stripped, runs of non-alphanumerics collapsed to single underscores.
func Slug(s string) string {
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	b.Grow(len(stripped))
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(stripped)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Phone canonicalizes a contact number by keeping digits only.
func Phone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsEmpty reports whether a field value carries no information.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v)) == ""
}

// Equivalent reports whether two values normalize identically.
func Equivalent(a, b any) bool {
	return Value(a) == Value(b)
}
