package resultstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smtm/internal/analyzer"
	"smtm/internal/strategy"
	"smtm/internal/trader"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndReadRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Date(2024, 2, 25, 6, 41, 0, 0, time.UTC)
	results := []trader.TradeResult{
		{Tick: 1, Market: "KRW-BTC", Side: strategy.SideBuy, Status: trader.StatusFilled, Price: decimal.RequireFromString("50000000"),
			Amount: decimal.RequireFromString("0.0002"), Funds: 10000, Fee: decimal.Zero, Balance: 40000,
			Holdings: decimal.RequireFromString("0.0002"), OrderID: "sim-1", Timestamp: at},
		{Tick: 2, Market: "KRW-BTC", Side: strategy.SideSell, Status: trader.StatusSkipped, Reason: "nothing to sell",
			Price: decimal.RequireFromString("51000000"), Amount: decimal.Zero, Fee: decimal.Zero, Balance: 40000,
			Holdings: decimal.RequireFromString("0.0002"), Timestamp: at.Add(time.Minute)},
	}
	score := analyzer.Score{InitialBalance: 50000, Balance: 40000, ReturnPct: 0.4, Filled: 1, Skipped: 1}

	id, err := s.SaveRun(ctx, RunRecord{
		Mode: "simulate", Market: "KRW-BTC", Strategy: "buy-and-hold", Budget: 50000, Ticks: 2,
		Score: score, StartedAt: at, FinishedAt: at.Add(2 * time.Minute),
	}, results)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	run, err := s.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "buy-and-hold", run.Strategy)
	assert.Equal(t, 1, run.Score.Filled)
	assert.Equal(t, 0.4, run.Score.ReturnPct)

	got, err := s.RunResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Tick)
	assert.Equal(t, "0.0002", got[0].Amount.String())
	assert.Equal(t, trader.StatusSkipped, got[1].Status)
	assert.Equal(t, "nothing to sell", got[1].Reason)
	assert.True(t, got[1].Timestamp.Equal(at.Add(time.Minute)))
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.SaveRun(ctx, RunRecord{ID: []string{"a", "b", "c"}[i], Mode: "simulate", FinishedAt: base.Add(time.Duration(i) * time.Hour)}, nil)
		require.NoError(t, err)
	}
	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	_, err = s.Run(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	empty, err := s.RunResults(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
