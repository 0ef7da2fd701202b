// Package parse converts raw cell text from the brokerage page into typed
// values. All parsers are total: malformed input produces a zero value,
// never an error, because the page renders blanks and placeholders
// interchangeably with zero amounts.
package parse

import (
	"regexp"
	"strconv"
	"strings"
)

// numericJunk matches the decorations the page puts around numbers:
// currency symbols, thousands separators, percent signs, plus signs and
// whitespace.
var numericJunk = regexp.MustCompile(`[$,\s+%]`)

// symbolTitle matches lot-detail modal titles like
// "Lot Details: BRK/B - Berkshire Hathaway Inc.".
var symbolTitle = regexp.MustCompile(`Lot Details:\s*([A-Z/]+)\s*-`)

// Number parses a currency, quantity or percentage cell into a float64.
// Empty or unparseable input returns 0; absence is indistinguishable from
// zero.
func Number(text string) float64 {
	if text == "" {
		return 0
	}
	clean := numericJunk.ReplaceAllString(text, "")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return v
}

// Date trims a date cell. The page's locale formatting is passed through
// verbatim; no validation or normalization is performed.
func Date(text string) string {
	return strings.TrimSpace(text)
}

// SymbolFromTitle extracts the ticker symbol from a lot-detail modal title.
// Returns the empty string when the title does not match the expected
// "Lot Details: SYMBOL - ..." pattern.
func SymbolFromTitle(title string) string {
	m := symbolTitle.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return m[1]
}
