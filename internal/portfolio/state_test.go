package portfolio

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

func TestStateRoundTrip(t *testing.T) {
	pm, clock := newTestManager(nil)
	require.True(t, pm.AddPosition("AAPL", 5, d("150.10"), 82, types.PositionMomentum))
	require.True(t, pm.AddPosition("KO", 10, d("60.55"), 66, types.PositionFundamentals))
	clock.now = t0.Add(48 * time.Hour)
	_, ok := pm.ClosePosition("KO", d("61.02"), "time_limit")
	require.True(t, ok)

	raw, err := json.Marshal(pm.ToState())
	require.NoError(t, err)

	var loaded PortfolioState
	require.NoError(t, json.Unmarshal(raw, &loaded))
	assert.Equal(t, StateVersion, loaded.Version)

	restored, _ := newTestManager(nil)
	require.NoError(t, restored.LoadState(&loaded))

	assert.True(t, restored.Cash().Equal(pm.Cash()))
	assert.True(t, restored.PortfolioValue().Equal(pm.PortfolioValue()))
	assert.True(t, restored.RealizedPnL().Equal(pm.RealizedPnL()))

	wantHistory, err := json.Marshal(pm.TradeHistory())
	require.NoError(t, err)
	gotHistory, err := json.Marshal(restored.TradeHistory())
	require.NoError(t, err)
	assert.JSONEq(t, string(wantHistory), string(gotHistory))

	// open positions are rebuilt, not dropped
	position, ok := restored.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(5), position.Shares)
	assert.True(t, position.EntryPrice.Equal(d("150.10")))
	assert.True(t, position.EntryDate.Equal(t0))
	assert.Equal(t, types.PositionMomentum, position.PositionType)
	_, ok = restored.Position("KO")
	assert.False(t, ok)

	// a rebuilt position can be closed normally
	_, ok = restored.ClosePosition("AAPL", d("151"), "manual")
	assert.True(t, ok)
}

func TestLoadState_Rejects(t *testing.T) {
	valid := func() *PortfolioState {
		return &PortfolioState{
			Cash: d("9000"),
			Positions: map[string]*PositionState{
				"AAPL": {Shares: 5, EntryPrice: d("150"), EntryDate: t0.Format(time.RFC3339), SignalScore: 80, PositionType: types.PositionMomentum},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*PortfolioState)
	}{
		{"negative cash", func(s *PortfolioState) { s.Cash = d("-1") }},
		{"zero shares", func(s *PortfolioState) { s.Positions["AAPL"].Shares = 0 }},
		{"zero price", func(s *PortfolioState) { s.Positions["AAPL"].EntryPrice = decimal.Zero }},
		{"unknown type", func(s *PortfolioState) { s.Positions["AAPL"].PositionType = "swing" }},
		{"bad date", func(s *PortfolioState) { s.Positions["AAPL"].EntryDate = "yesterday" }},
		{"bad action", func(s *PortfolioState) { s.TradeHistory = []TradeRecord{{Action: "HOLD"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestManager(nil)
			state := valid()
			tt.mutate(state)

			err := pm.LoadState(state)
			require.Error(t, err)

			var perr *PortfolioError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, ErrStateCorrupted, perr.Code)
			assert.True(t, pm.Cash().Equal(d("10000")), "ledger untouched")
		})
	}

	pm, _ := newTestManager(nil)
	require.NoError(t, pm.LoadState(valid()))
	assert.True(t, pm.PortfolioValue().Equal(d("9750")))
	assert.Error(t, pm.LoadState(nil))
}

func TestPortfolioConfigValidate(t *testing.T) {
	require.NoError(t, DefaultPortfolioConfig().Validate())

	cfg := DefaultPortfolioConfig()
	cfg.MaxPositionSize = d("50")
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrConfigurationInvalid)

	cfg = DefaultPortfolioConfig()
	cfg.MaxRiskyPct = d("1.5")
	assert.Error(t, cfg.Validate())
}
