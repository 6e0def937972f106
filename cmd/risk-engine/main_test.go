package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trading-risk-engine/internal/config"
	"github.com/ducminhle1904/trading-risk-engine/internal/journal"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio/storage"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

const sampleFeed = `ticker,price,score,type,tick
AAPL,150,80,momentum,1
KO,60,75,fundamentals,1
# second tick
AAPL,158,80,momentum,2
ko,60.5,75,,2
`

func TestParseFeed(t *testing.T) {
	batches, err := ParseFeed(strings.NewReader(sampleFeed), types.PositionMomentum)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, 1, batches[0].Tick)
	require.Len(t, batches[0].Rows, 2)
	assert.Equal(t, "AAPL", batches[0].Rows[0].Quote.Ticker)
	assert.True(t, batches[0].Rows[0].Quote.Price.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, types.PositionFundamentals, batches[0].Rows[1].Quote.PositionType)

	ko := batches[1].Rows[1].Quote
	assert.Equal(t, "KO", ko.Ticker)
	assert.Equal(t, types.PositionMomentum, ko.PositionType, "empty type selects the default")
	assert.True(t, ko.Price.Equal(decimal.RequireFromString("60.5")))
}

func TestParseFeed_WithoutHeaderOrTick(t *testing.T) {
	batches, err := ParseFeed(strings.NewReader("MSFT,300,90\nTSLA,200,85,pump\n"), types.PositionFundamentals)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 0, batches[0].Tick)
	require.Len(t, batches[0].Rows, 2)
	assert.Equal(t, types.PositionFundamentals, batches[0].Rows[0].Quote.PositionType)
	assert.Equal(t, types.PositionPump, batches[0].Rows[1].Quote.PositionType)
}

func TestParseFeed_Errors(t *testing.T) {
	tests := []struct {
		name string
		feed string
		want string
	}{
		{"too few fields", "AAPL,150\n", "expected at least 3 fields"},
		{"bad price", "AAPL,abc,80\n", "invalid price"},
		{"bad score", "AAPL,150,high\n", "invalid score"},
		{"bad type", "AAPL,150,80,crypto\n", "unknown position type"},
		{"bad tick", "AAPL,150,80,momentum,x\n", "invalid tick"},
		{"empty ticker", " ,150,80\n", "empty ticker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFeed(strings.NewReader(tt.feed), types.PositionMomentum)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestLoadFeed_MissingFile(t *testing.T) {
	_, err := LoadFeed(filepath.Join(t.TempDir(), "missing.csv"), types.PositionMomentum)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_ReplaysFeed(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "feed.csv")
	require.NoError(t, os.WriteFile(feedPath, []byte(sampleFeed), 0644))

	cfg := config.Default()
	cfg.Storage.StateFile = filepath.Join(dir, "state.json")
	cfg.Storage.JournalPath = filepath.Join(dir, "journal.db")
	cfg.Storage.SaveSchedule = "@every 1h"

	var out bytes.Buffer
	err := run(context.Background(), cfg, runOptions{
		FeedPath:   feedPath,
		Iterations: 1,
		XLSXPath:   filepath.Join(dir, "trades.xlsx"),
		CSVPath:    filepath.Join(dir, "trades.csv"),
		ReportDir:  filepath.Join(dir, "reports"),
		Out:        &out,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "TRADING SUMMARY")
	assert.Contains(t, out.String(), "profit_target")
	assert.FileExists(t, filepath.Join(dir, "trades.xlsx"))
	assert.FileExists(t, filepath.Join(dir, "trades.csv"))

	reports, err := os.ReadDir(filepath.Join(dir, "reports"))
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	// AAPL closed at the profit target, KO is still open in the saved state
	assert.NoFileExists(t, cfg.Storage.StateFile+".lock", "lock must be released on exit")

	store, err := storage.NewFileStorage(cfg.Storage.StateFile)
	require.NoError(t, err)

	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Positions, 1)
	assert.Contains(t, state.Positions, "KO")
	assert.Len(t, state.TradeHistory, 3)
	assert.True(t, state.LastPrices["KO"].Equal(decimal.RequireFromString("60.5")))

	j, err := journal.NewSQLiteJournal(cfg.Storage.JournalPath)
	require.NoError(t, err)
	defer j.Close()
	trades, err := j.Trades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, portfolio.ActionSell, trades[2].Action)
	assert.Equal(t, "profit_target", trades[2].Reason)
}

func TestRun_ResumesFromState(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "feed.csv")
	require.NoError(t, os.WriteFile(feedPath, []byte("KO,60,75,fundamentals\n"), 0644))

	cfg := config.Default()
	cfg.Storage.StateFile = filepath.Join(dir, "state.json")
	cfg.Storage.SaveSchedule = ""
	cfg.Storage.BackupOnLoad = true

	opts := runOptions{FeedPath: feedPath, Iterations: 1}
	require.NoError(t, run(context.Background(), cfg, opts))
	require.NoError(t, run(context.Background(), cfg, opts))

	store, err := storage.NewFileStorage(cfg.Storage.StateFile)
	require.NoError(t, err)
	state, err := store.Load()
	require.NoError(t, err)

	// the second run sees KO already open and does not buy it twice
	assert.Len(t, state.Positions, 1)
	assert.Len(t, state.TradeHistory, 1)

	backups, err := store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestRun_CancelledStillSaves(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "feed.csv")
	require.NoError(t, os.WriteFile(feedPath, []byte("KO,60,75,fundamentals\n"), 0644))

	cfg := config.Default()
	cfg.Storage.StateFile = filepath.Join(dir, "state.json")
	cfg.Storage.SaveSchedule = ""

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, run(ctx, cfg, runOptions{FeedPath: feedPath, Iterations: 5}))
	assert.FileExists(t, cfg.Storage.StateFile)
}

func TestLoadFeed_SampleSignals(t *testing.T) {
	batches, err := LoadFeed(filepath.Join("..", "..", "examples", "signals.csv"), types.PositionMomentum)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	for _, b := range batches {
		assert.Len(t, b.Rows, 4)
	}
}

func TestFlushTracer(t *testing.T) {
	var out bytes.Buffer
	flushTracer(func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return errors.New("exporter unavailable")
	}, &out)
	assert.Contains(t, out.String(), "tracer flush failed: exporter unavailable")

	out.Reset()
	flushTracer(func(context.Context) error { return nil }, &out)
	assert.Empty(t, out.String())
}
