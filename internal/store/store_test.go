package store

import (
	"context"
	"testing"
	"time"

	"github.com/bvkgo/kv/kvmemdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotcli/internal/extract"
)

func newTestStore() *KV {
	return New(kvmemdb.New())
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	progress, err := s.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, extract.Progress{}, progress)

	data, err := s.LoadData(ctx)
	require.NoError(t, err)
	assert.False(t, data.HasData())

	errs, err := s.LoadErrors(ctx)
	require.NoError(t, err)
	assert.Nil(t, errs)
}

func TestProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	now := time.Now().Truncate(time.Second)
	want := extract.Progress{IsRunning: true, CurrentIndex: 4, TotalPositions: 9, LastUpdated: &now}
	require.NoError(t, s.SaveProgress(ctx, want))

	got, err := s.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.IsRunning, got.IsRunning)
	assert.Equal(t, want.CurrentIndex, got.CurrentIndex)
	assert.Equal(t, want.TotalPositions, got.TotalPositions)
	require.NotNil(t, got.LastUpdated)
	assert.True(t, now.Equal(*got.LastUpdated))
}

func TestDataRoundTripPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	data := &extract.AccumulatedData{}
	data.Merge("holdingsAccount_2", "MSFT", []extract.Lot{{OpenDate: "01/01/2024", Quantity: 1, Price: 10}})
	data.Merge("holdingsAccount_1", "AAPL", []extract.Lot{{OpenDate: "02/02/2024", Quantity: 2, Price: 20}})
	require.NoError(t, s.SaveData(ctx, data))

	got, err := s.LoadData(ctx)
	require.NoError(t, err)
	require.Len(t, got.Accounts, 2)
	assert.Equal(t, "holdingsAccount_2", got.Accounts[0].AccountID)
	assert.Equal(t, "holdingsAccount_1", got.Accounts[1].AccountID)
	assert.Equal(t, float64(2), got.Accounts[1].Symbols[0].Lots[0].Quantity)
}

func TestErrorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	errs := []extract.ErrorEntry{
		{Timestamp: time.Now().Truncate(time.Second), AccountID: "holdingsAccount_1", Symbol: "AAPL", Error: "menu: action menu did not open for AAPL"},
	}
	require.NoError(t, s.SaveErrors(ctx, errs))

	got, err := s.LoadErrors(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.SaveProgress(ctx, extract.Progress{CurrentIndex: 1, TotalPositions: 3}))
	require.NoError(t, s.SaveProgress(ctx, extract.Progress{CurrentIndex: 2, TotalPositions: 3}))

	got, err := s.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentIndex)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	require.NoError(t, s.SaveProgress(ctx, extract.Progress{CurrentIndex: 1}))
	data := &extract.AccumulatedData{}
	data.Merge("holdingsAccount_1", "AAPL", []extract.Lot{{OpenDate: "01/01/2024", Quantity: 1, Price: 10}})
	require.NoError(t, s.SaveData(ctx, data))
	require.NoError(t, s.SaveErrors(ctx, []extract.ErrorEntry{{Symbol: "AAPL"}}))

	require.NoError(t, s.ClearAll(ctx))

	progress, err := s.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, extract.Progress{}, progress)

	got, err := s.LoadData(ctx)
	require.NoError(t, err)
	assert.False(t, got.HasData())

	errs, err := s.LoadErrors(ctx)
	require.NoError(t, err)
	assert.Nil(t, errs)
}

func TestClearAllOnEmptyStore(t *testing.T) {
	assert.NoError(t, newTestStore().ClearAll(context.Background()))
}
