package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "currency with thousands separator",
			input:    "$1,234.56",
			expected: 1234.56,
		},
		{
			name:     "negative percentage",
			input:    "-5%",
			expected: -5,
		},
		{
			name:     "explicit plus sign",
			input:    "+12.50",
			expected: 12.5,
		},
		{
			name:     "surrounding whitespace",
			input:    "  42.00  ",
			expected: 42,
		},
		{
			name:     "non-numeric garbage",
			input:    "N/A",
			expected: 0,
		},
		{
			name:     "dashes only",
			input:    "--",
			expected: 0,
		},
		{
			name:     "plain integer",
			input:    "100",
			expected: 100,
		},
		{
			name:     "negative currency",
			input:    "-$2,500.75",
			expected: -2500.75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Number(tt.input))
		})
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "trims whitespace", input: "  01/15/2024  ", expected: "01/15/2024"},
		{name: "passthrough", input: "12/31/2023", expected: "12/31/2023"},
		{name: "no date validation", input: "not a date", expected: "not a date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Date(tt.input))
		})
	}
}

func TestSymbolFromTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple symbol",
			input:    "Lot Details: AAPL - Apple Inc.",
			expected: "AAPL",
		},
		{
			name:     "symbol with slash",
			input:    "Lot Details: BRK/B - Berkshire Hathaway Inc.",
			expected: "BRK/B",
		},
		{
			name:     "no match",
			input:    "Invalid title",
			expected: "",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "missing trailing dash",
			input:    "Lot Details: MSFT",
			expected: "",
		},
		{
			name:     "extra whitespace",
			input:    "Lot Details:   VTI   - Vanguard Total Stock Market ETF",
			expected: "VTI",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SymbolFromTitle(tt.input))
		})
	}
}
