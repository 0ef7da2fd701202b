package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lotFixture(date string, qty float64) Lot {
	return Lot{OpenDate: date, Quantity: qty, Price: 100, HoldingPeriod: "Long"}
}

func TestMergeCreatesAccountAndSymbol(t *testing.T) {
	data := &AccumulatedData{}
	data.Merge("holdingsAccount_1", "AAPL", []Lot{lotFixture("01/15/2024", 10)})

	require.Len(t, data.Accounts, 1)
	assert.Equal(t, "holdingsAccount_1", data.Accounts[0].AccountID)
	require.Len(t, data.Accounts[0].Symbols, 1)
	assert.Equal(t, "AAPL", data.Accounts[0].Symbols[0].Symbol)
	assert.Len(t, data.Accounts[0].Symbols[0].Lots, 1)
}

func TestMergeConcatenatesExistingSymbol(t *testing.T) {
	data := &AccumulatedData{}
	lots := []Lot{lotFixture("01/15/2024", 10), lotFixture("02/20/2024", 5)}

	data.Merge("holdingsAccount_1", "AAPL", lots)
	data.Merge("holdingsAccount_1", "AAPL", lots)

	require.Len(t, data.Accounts, 1)
	require.Len(t, data.Accounts[0].Symbols, 1)
	assert.Len(t, data.Accounts[0].Symbols[0].Lots, 4, "identical merges concatenate, they do not deduplicate")
}

func TestMergeKeepsDiscoveryOrder(t *testing.T) {
	data := &AccumulatedData{}
	data.Merge("holdingsAccount_2", "MSFT", []Lot{lotFixture("01/01/2024", 1)})
	data.Merge("holdingsAccount_1", "AAPL", []Lot{lotFixture("01/02/2024", 2)})
	data.Merge("holdingsAccount_2", "VTI", []Lot{lotFixture("01/03/2024", 3)})

	require.Len(t, data.Accounts, 2)
	assert.Equal(t, "holdingsAccount_2", data.Accounts[0].AccountID)
	assert.Equal(t, "holdingsAccount_1", data.Accounts[1].AccountID)
	require.Len(t, data.Accounts[0].Symbols, 2)
	assert.Equal(t, "MSFT", data.Accounts[0].Symbols[0].Symbol)
	assert.Equal(t, "VTI", data.Accounts[0].Symbols[1].Symbol)
}

func TestMergeDoesNotAliasCallerSlice(t *testing.T) {
	data := &AccumulatedData{}
	lots := []Lot{lotFixture("01/15/2024", 10)}
	data.Merge("holdingsAccount_1", "AAPL", lots)

	lots[0].Quantity = 999
	assert.Equal(t, float64(10), data.Accounts[0].Symbols[0].Lots[0].Quantity)
}

func TestCounts(t *testing.T) {
	data := &AccumulatedData{}
	assert.False(t, data.HasData())
	assert.Equal(t, 0, data.SymbolCount())
	assert.Equal(t, 0, data.LotCount())

	data.Merge("holdingsAccount_1", "AAPL", []Lot{lotFixture("01/15/2024", 10), lotFixture("02/20/2024", 5)})
	data.Merge("holdingsAccount_1", "MSFT", []Lot{lotFixture("03/01/2024", 1)})
	data.Merge("holdingsAccount_2", "AAPL", []Lot{lotFixture("04/01/2024", 2)})

	assert.True(t, data.HasData())
	assert.Equal(t, 3, data.SymbolCount())
	assert.Equal(t, 4, data.LotCount())
}

func TestMarshalJSONOrderAndShape(t *testing.T) {
	data := &AccumulatedData{}
	data.Merge("holdingsAccount_2", "BRK/B", []Lot{lotFixture("01/15/2024", 10)})
	data.Merge("holdingsAccount_1", "AAPL", []Lot{lotFixture("02/20/2024", 5)})

	b, err := json.Marshal(data)
	require.NoError(t, err)

	s := string(b)
	assert.True(t, len(s) > 2 && s[0] == '{')
	// Account keys must appear in construction order.
	assert.Less(t, strings.Index(s, "holdingsAccount_2"), strings.Index(s, "holdingsAccount_1"))
	assert.Contains(t, s, `"BRK/B":[{"open_date":"01/15/2024"`)

	// The shape must round-trip through generic JSON as map->array->object.
	var generic map[string][]map[string][]map[string]any
	require.NoError(t, json.Unmarshal(b, &generic))
	require.Len(t, generic["holdingsAccount_2"], 1)
	assert.Len(t, generic["holdingsAccount_2"][0]["BRK/B"], 1)
}

func TestMarshalJSONEmpty(t *testing.T) {
	b, err := json.Marshal(&AccumulatedData{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}
