package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
)

// StateVersion is written into every saved state
const StateVersion = "1.0"

// ToState serialises the ledger, including open positions
func (p *DefaultPortfolioManager) ToState() *PortfolioState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[string]*PositionState, len(p.positions))
	for ticker, position := range p.positions {
		positions[ticker] = &PositionState{
			Shares:       position.Shares,
			EntryPrice:   position.EntryPrice,
			EntryDate:    position.EntryDate.Format(time.RFC3339Nano),
			SignalScore:  position.SignalScore,
			PositionType: position.PositionType,
		}
	}

	history := make([]TradeRecord, len(p.tradeHistory))
	copy(history, p.tradeHistory)

	return &PortfolioState{
		Cash:           p.cash,
		PortfolioValue: p.portfolioValueLocked(),
		Positions:      positions,
		TradeHistory:   history,
		Version:        StateVersion,
		LastUpdated:    p.now(),
	}
}

// LoadState replaces the ledger with a saved state. Cash and trade history
// are restored verbatim and open positions are rebuilt from the saved map.
// The ledger is untouched if the state fails validation.
func (p *DefaultPortfolioManager) LoadState(state *PortfolioState) error {
	positions, err := p.validateState(state)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = state.Cash
	p.positions = positions
	p.tradeHistory = make([]TradeRecord, len(state.TradeHistory))
	copy(p.tradeHistory, state.TradeHistory)

	if derived := p.portfolioValueLocked(); !state.PortfolioValue.IsZero() && !derived.Equal(state.PortfolioValue) {
		logger.Warn(context.Background(), "Saved portfolio value differs from cash plus open entry value",
			"saved", state.PortfolioValue.StringFixed(2), "derived", derived.StringFixed(2))
	}

	return nil
}

func (p *DefaultPortfolioManager) validateState(state *PortfolioState) (map[string]*Position, error) {
	corrupted := func(ticker, format string, args ...any) error {
		return &PortfolioError{
			Code:      ErrStateCorrupted,
			Message:   fmt.Sprintf(format, args...),
			Ticker:    ticker,
			Timestamp: time.Now(),
		}
	}

	if state == nil {
		return nil, corrupted("", "state is nil")
	}
	if state.Cash.IsNegative() {
		return nil, corrupted("", "negative cash %s", state.Cash)
	}
	if len(state.Positions) > p.config.MaxPositions {
		return nil, corrupted("", "%d open positions exceed the limit of %d", len(state.Positions), p.config.MaxPositions)
	}

	positions := make(map[string]*Position, len(state.Positions))
	for ticker, saved := range state.Positions {
		if saved == nil {
			return nil, corrupted(ticker, "missing position body")
		}
		if saved.Shares <= 0 {
			return nil, corrupted(ticker, "non-positive shares %d", saved.Shares)
		}
		if !saved.EntryPrice.IsPositive() {
			return nil, corrupted(ticker, "non-positive entry price %s", saved.EntryPrice)
		}
		if !saved.PositionType.Valid() {
			return nil, corrupted(ticker, "unknown position type %q", saved.PositionType)
		}
		entryDate, err := time.Parse(time.RFC3339Nano, saved.EntryDate)
		if err != nil {
			return nil, corrupted(ticker, "bad entry date %q: %v", saved.EntryDate, err)
		}

		positions[ticker] = &Position{
			Ticker:       ticker,
			Shares:       saved.Shares,
			EntryPrice:   saved.EntryPrice,
			EntryDate:    entryDate,
			SignalScore:  saved.SignalScore,
			PositionType: saved.PositionType,
		}
	}

	for i, record := range state.TradeHistory {
		if record.Action != ActionBuy && record.Action != ActionSell {
			return nil, corrupted(record.Ticker, "trade %d has unknown action %q", i, record.Action)
		}
	}

	return positions, nil
}

// positionValue is the entry value of a saved position
func (s *PositionState) positionValue() decimal.Decimal {
	return s.EntryPrice.Mul(decimal.NewFromInt(s.Shares))
}

// PositionsValue sums the entry value of the saved positions
func (s *PortfolioState) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, position := range s.Positions {
		if position != nil {
			total = total.Add(position.positionValue())
		}
	}
	return total
}
