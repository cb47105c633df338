package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func TestPriceStoreCommitAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPriceStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok, err := store.GetCurrent(ctx, "u")
	require.NoError(t, err)
	require.False(t, ok)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Commit(ctx, "Widget", tracker.Observation{
			URL:       "u",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Price:     decimal.NewFromInt(int64(10 + i)),
		}))
	}

	rec, ok, err := store.GetCurrent(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Widget", rec.ProductName)
	require.True(t, rec.Price.Equal(decimal.NewFromInt(12)))

	hist, err := store.History(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.True(t, hist[0].Price.Equal(decimal.NewFromInt(12)))
	require.True(t, hist[1].Price.Equal(decimal.NewFromInt(11)))

	all, err := store.History(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, 3, store.Commits())
}

func TestPriceStoreAlertLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPriceStore()
	_, ok, err := store.LastAlert(ctx, "u", tracker.AlertCompetitorUndercut)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveAlert(ctx, "u", tracker.AlertCompetitorUndercut, "fp1", time.Now()))
	fp, ok, err := store.LastAlert(ctx, "u", tracker.AlertCompetitorUndercut)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fp1", fp)

	_, ok, _ = store.LastAlert(ctx, "u", tracker.AlertPriceDecreased)
	require.False(t, ok)

	require.NoError(t, store.ClearAlert(ctx, "u", tracker.AlertCompetitorUndercut))
	_, ok, _ = store.LastAlert(ctx, "u", tracker.AlertCompetitorUndercut)
	require.False(t, ok)
	require.NoError(t, store.Close())
}
