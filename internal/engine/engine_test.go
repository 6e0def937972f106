package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/ducminhle1904/trading-risk-engine/internal/errors"
	"github.com/ducminhle1904/trading-risk-engine/internal/exit"
	"github.com/ducminhle1904/trading-risk-engine/internal/journal"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio/storage"
	"github.com/ducminhle1904/trading-risk-engine/internal/safety"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

var t0 = time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	engine *Engine
	pm     *portfolio.DefaultPortfolioManager
	exits  *exit.Strategy
	clock  *testClock
}

func newFixture(t *testing.T, opts Options, mutate func(*portfolio.PortfolioConfig, *exit.Config)) *fixture {
	t.Helper()

	pcfg := portfolio.DefaultPortfolioConfig()
	ecfg := exit.DefaultConfig()
	if mutate != nil {
		mutate(&pcfg, &ecfg)
	}

	clock := &testClock{now: t0}
	pm := portfolio.NewPortfolioManager(&pcfg)
	pm.SetClock(clock.Now)
	exits := exit.NewStrategy(ecfg)
	exits.SetClock(clock.Now)

	return &fixture{
		engine: New(pm, exits, opts),
		pm:     pm,
		exits:  exits,
		clock:  clock,
	}
}

func entry(ticker, price string, score float64, pt types.PositionType) EntryRequest {
	return EntryRequest{Ticker: ticker, Price: d(price), SignalScore: score, PositionType: pt}
}

func TestEnter_Admitted(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	result, err := f.engine.Enter(context.Background(), entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)
	require.True(t, result.Admitted)
	assert.Empty(t, result.SkipReason)
	assert.Equal(t, int64(4), result.Sizing.Shares)
	assert.True(t, result.Validation.Valid)
	require.NotNil(t, result.Record)
	assert.Equal(t, portfolio.ActionBuy, result.Record.Action)

	assert.True(t, f.pm.Cash().Equal(d("9400")))
	_, open := f.pm.Position("AAPL")
	assert.True(t, open)
}

func TestEnter_Skips(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		req    EntryRequest
		reason string
	}{
		{
			name:   "score at threshold",
			req:    entry("AAPL", "150", 70, types.PositionMomentum),
			reason: SkipWeakSignal,
		},
		{
			name:   "non-positive price",
			req:    entry("AAPL", "0", 90, types.PositionMomentum),
			reason: SkipInvalidRequest,
		},
		{
			name: "already open",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.engine.Enter(context.Background(), entry("AAPL", "150", 80, types.PositionMomentum))
				require.NoError(t, err)
			},
			req:    entry("AAPL", "151", 90, types.PositionMomentum),
			reason: SkipAlreadyOpen,
		},
		{
			name: "extreme price move",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.engine.Enter(context.Background(), entry("TSLA", "100", 50, types.PositionMomentum))
				require.NoError(t, err)
			},
			req:    entry("TSLA", "200", 90, types.PositionMomentum),
			reason: SkipPriceChange,
		},
		{
			name:   "price above every affordable share",
			req:    entry("BRK", "5000", 90, types.PositionFundamentals),
			reason: SkipNoSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{}, nil)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			cashBefore := f.pm.Cash()

			result, err := f.engine.Enter(context.Background(), tt.req)
			require.NoError(t, err)
			assert.False(t, result.Admitted)
			assert.Equal(t, tt.reason, result.SkipReason)
			assert.True(t, f.pm.Cash().Equal(cashBefore))
		})
	}
}

func TestEnter_PriceCheckReported(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	_, err := f.engine.Enter(ctx, entry("TSLA", "100", 50, types.PositionMomentum))
	require.NoError(t, err)

	result, err := f.engine.Enter(ctx, entry("TSLA", "200", 90, types.PositionMomentum))
	require.NoError(t, err)
	require.NotNil(t, result.PriceCheck)
	assert.True(t, result.PriceCheck.HasIssue(safety.CodeExtremePriceChange))

	// the rejected price still becomes the reference for the next tick
	price, ok := f.engine.LastPrice("TSLA")
	require.True(t, ok)
	assert.True(t, price.Equal(d("200")))
}

func TestEnter_InvalidRequest(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	_, err := f.engine.Enter(context.Background(), EntryRequest{Price: d("10"), SignalScore: 90, PositionType: types.PositionMomentum})
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrorCategoryValidation, engerrors.CategoryOf(err))

	_, err = f.engine.Enter(context.Background(), EntryRequest{Ticker: "X", Price: d("10"), SignalScore: 90, PositionType: "crypto"})
	require.Error(t, err)
}

func TestEnter_CancelledContext(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.pm.TradeHistory())
}

func TestEnter_RiskyLimitAtSizingFloor(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	// 640 + 640 + 640 + 580 fills the 2500 risky cap exactly
	for i, want := range []int64{64, 64, 64, 58} {
		result, err := f.engine.Enter(ctx, entry(fmt.Sprintf("PUMP%d", i), "10", 80, types.PositionPump))
		require.NoError(t, err)
		require.True(t, result.Admitted, "entry %d", i)
		assert.Equal(t, want, result.Record.Shares)
	}
	assert.True(t, f.pm.RiskyExposure().Equal(d("2500")))

	// sizing would fall back to the 100 floor and breach the cap
	result, err := f.engine.Enter(ctx, entry("PUMP9", "10", 80, types.PositionPump))
	require.NoError(t, err)
	assert.False(t, result.Admitted)
	assert.Equal(t, SkipRiskyLimit, result.SkipReason)

	// fundamentals are outside the risky bucket
	result, err = f.engine.Enter(ctx, entry("SAFE", "10", 80, types.PositionFundamentals))
	require.NoError(t, err)
	assert.True(t, result.Admitted)
}

func TestEnter_ConcurrentNeverOverspends(t *testing.T) {
	f := newFixture(t, Options{}, func(pc *portfolio.PortfolioConfig, _ *exit.Config) {
		pc.MaxPositions = 100
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.engine.Enter(context.Background(), entry(fmt.Sprintf("T%02d", i), "10", 90, types.PositionFundamentals))
			if err != nil || !result.Admitted {
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// 13 orders of 720 then one 640 order drains the remaining cash
	assert.Equal(t, 14, admitted)
	assert.True(t, f.pm.Cash().IsZero(), "cash %s", f.pm.Cash())
	assert.Len(t, f.pm.Positions(), 14)
	assert.True(t, f.pm.PortfolioValue().Equal(d("10000")))
}

func TestCheckExits_ProfitTarget(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	_, err := f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)

	results, err := f.engine.CheckExits(ctx, map[string]decimal.Decimal{"AAPL": d("158")}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Closed)
	assert.Equal(t, exit.ReasonProfitTarget, r.Signal.Reason)
	assert.True(t, r.Closure.Profit.Equal(d("32")))
	assert.True(t, f.pm.Cash().Equal(d("10032")))
	assert.Empty(t, f.pm.Positions())

	history := f.pm.TradeHistory()
	require.Len(t, history, 2)
	assert.Equal(t, portfolio.ActionSell, history[1].Action)
	assert.Equal(t, string(exit.ReasonProfitTarget), history[1].Reason)
}

func TestCheckExits_TrailingStopClearsPeak(t *testing.T) {
	f := newFixture(t, Options{}, func(_ *portfolio.PortfolioConfig, ec *exit.Config) {
		ec.ProfitTargetPct = d("20")
	})
	ctx := context.Background()

	_, err := f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)

	results, err := f.engine.CheckExits(ctx, map[string]decimal.Decimal{"AAPL": d("160")}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	peak, ok := f.exits.Peak("AAPL")
	require.True(t, ok)
	assert.True(t, peak.Equal(d("160")))

	results, err = f.engine.CheckExits(ctx, map[string]decimal.Decimal{"AAPL": d("156")}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Closed)
	assert.Equal(t, exit.ReasonTrailingStop, results[0].Signal.Reason)

	_, ok = f.exits.Peak("AAPL")
	assert.False(t, ok, "peak must be cleared with the position")

	// a re-entry starts its own peak from the new entry price
	_, err = f.engine.Enter(ctx, entry("AAPL", "140", 80, types.PositionMomentum))
	require.NoError(t, err)
	results, err = f.engine.CheckExits(ctx, map[string]decimal.Decimal{"AAPL": d("141")}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	peak, _ = f.exits.Peak("AAPL")
	assert.True(t, peak.Equal(d("141")))
}

func TestCheckExits_SignalScores(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	_, err := f.engine.Enter(ctx, entry("PUMP", "10", 80, types.PositionPump))
	require.NoError(t, err)

	// without an update the entry score is kept
	results, err := f.engine.CheckExits(ctx, map[string]decimal.Decimal{"PUMP": d("10")}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.engine.CheckExits(ctx,
		map[string]decimal.Decimal{"PUMP": d("10")},
		map[string]float64{"PUMP": 30},
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, exit.ReasonSignalDeterioration, results[0].Signal.Reason)
	assert.Equal(t, 30.0, results[0].Signal.Extra["signal_score"])
}

func TestCheckExits_TimeLimit(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	_, err := f.engine.Enter(ctx, entry("KO", "60", 80, types.PositionFundamentals))
	require.NoError(t, err)

	f.clock.Advance(4 * 24 * time.Hour)
	results, err := f.engine.CheckExits(ctx, map[string]decimal.Decimal{"KO": d("60")}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	f.clock.Advance(24 * time.Hour)
	results, err = f.engine.CheckExits(ctx, map[string]decimal.Decimal{"KO": d("60")}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, exit.ReasonTimeLimit, results[0].Signal.Reason)
	assert.Equal(t, 5, results[0].Closure.HoldDays)
}

func TestCheckExits_SkipsTickersWithoutQuote(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	_, err := f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)

	results, err := f.engine.CheckExits(ctx, map[string]decimal.Decimal{"MSFT": d("1")}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, f.pm.Positions(), 1)
}

func TestExit_Manual(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	_, ok := f.engine.Exit(ctx, "AAPL", d("150"), "")
	assert.False(t, ok)

	_, err := f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)

	result, ok := f.engine.Exit(ctx, "AAPL", d("147"), "")
	require.True(t, ok)
	assert.Equal(t, exit.ReasonManual, result.Signal.Reason)
	assert.True(t, result.Signal.PnLPct.Equal(d("-2")))
	assert.True(t, result.Closure.Profit.Equal(d("-12")))
	assert.Equal(t, string(exit.ReasonManual), result.Closure.Reason)
	assert.True(t, f.pm.Cash().Equal(d("9988")))
}

func TestExitTargets(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	_, ok := f.engine.ExitTargets("AAPL")
	assert.False(t, ok)

	_, err := f.engine.Enter(context.Background(), entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)

	targets, ok := f.engine.ExitTargets("AAPL")
	require.True(t, ok)
	assert.True(t, targets.ProfitTarget.Equal(d("157.5")))
	assert.True(t, targets.StopLoss.Equal(d("147")))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	f := newFixture(t, Options{Storage: store}, func(_ *portfolio.PortfolioConfig, ec *exit.Config) {
		ec.ProfitTargetPct = d("20")
	})
	ctx := context.Background()

	_, err = f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)
	_, err = f.engine.Enter(ctx, entry("KO", "60", 75, types.PositionFundamentals))
	require.NoError(t, err)
	_, err = f.engine.CheckExits(ctx, map[string]decimal.Decimal{"AAPL": d("155"), "KO": d("60")}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Save(ctx))

	restored := newFixture(t, Options{Storage: store}, nil)
	require.NoError(t, restored.engine.Load(ctx))

	assert.True(t, restored.pm.Cash().Equal(f.pm.Cash()))
	assert.Len(t, restored.pm.Positions(), 2)
	assert.Len(t, restored.pm.TradeHistory(), 2)

	peak, ok := restored.exits.Peak("AAPL")
	require.True(t, ok)
	assert.True(t, peak.Equal(d("155")))

	price, ok := restored.engine.LastPrice("KO")
	require.True(t, ok)
	assert.True(t, price.Equal(d("60")))

	state := restored.engine.State()
	assert.Equal(t, portfolio.StateVersion, state.Version)
	assert.NotEmpty(t, state.ExitConfig)
}

func TestLoad_MissingStateIsFreshStart(t *testing.T) {
	store, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	f := newFixture(t, Options{Storage: store}, nil)
	require.NoError(t, f.engine.Load(context.Background()))
	assert.True(t, f.pm.Cash().Equal(d("10000")))
}

func TestSaveLoad_WithoutStorage(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	assert.NoError(t, f.engine.Save(context.Background()))
	assert.NoError(t, f.engine.Load(context.Background()))
}

type failingStore struct {
	portfolio.StateManager
	state *portfolio.PortfolioState
}

func (s *failingStore) Save(*portfolio.PortfolioState) error { return errors.New("disk full") }
func (s *failingStore) Load() (*portfolio.PortfolioState, error) { return s.state, nil }

func TestSave_ErrorIsCategorised(t *testing.T) {
	f := newFixture(t, Options{Storage: &failingStore{}}, nil)

	err := f.engine.Save(context.Background())
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrorCategoryStorage, engerrors.CategoryOf(err))
	assert.Equal(t, 1, f.engine.ErrorCounts()[engerrors.ErrorCategoryStorage])
}

func TestLoad_CorruptStateLeavesLedgerUntouched(t *testing.T) {
	bad := &portfolio.PortfolioState{Cash: d("-1"), Version: portfolio.StateVersion}
	f := newFixture(t, Options{Storage: &failingStore{state: bad}}, nil)

	err := f.engine.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrorCategoryState, engerrors.CategoryOf(err))
	assert.True(t, f.pm.Cash().Equal(d("10000")))
}

type failingJournal struct{ journal.NoopJournal }

func (failingJournal) Record(context.Context, portfolio.TradeRecord) error {
	return errors.New("journal offline")
}

func TestJournalFailureOpensCircuit(t *testing.T) {
	breakers := safety.NewCircuitBreakerManager(safety.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	f := newFixture(t, Options{Journal: failingJournal{}, Breakers: breakers}, nil)
	ctx := context.Background()

	result, err := f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)
	assert.True(t, result.Admitted, "journal failure must not undo the trade")
	assert.Equal(t, []string{BreakerJournal}, f.engine.OpenCircuits())

	result, err = f.engine.Enter(ctx, entry("MSFT", "300", 80, types.PositionMomentum))
	require.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.Equal(t, 2, f.engine.ErrorCounts()[engerrors.ErrorCategoryJournal])
}

func TestSQLiteJournalIntegration(t *testing.T) {
	j, err := journal.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	f := newFixture(t, Options{Journal: j}, nil)
	ctx := context.Background()

	_, err = f.engine.Enter(ctx, entry("AAPL", "150", 80, types.PositionMomentum))
	require.NoError(t, err)
	_, err = f.engine.CheckExits(ctx, map[string]decimal.Decimal{"AAPL": d("158")}, nil)
	require.NoError(t, err)

	trades, err := j.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, portfolio.ActionBuy, trades[0].Action)
	assert.Equal(t, portfolio.ActionSell, trades[1].Action)

	snapshots, err := j.Snapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}
