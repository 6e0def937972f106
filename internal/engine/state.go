package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	engerrors "github.com/ducminhle1904/trading-risk-engine/internal/errors"
	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

// State captures the ledger together with the exit policy, the peak table
// and the last seen prices
func (e *Engine) State() *portfolio.PortfolioState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.portfolio.ToState()
	state.ExitConfig = e.exits.ToMap()
	state.Peaks = e.exits.Peaks()
	state.LastPrices = make(map[string]decimal.Decimal, len(e.lastPrices))
	for ticker, price := range e.lastPrices {
		state.LastPrices[ticker] = price
	}
	return state
}

// Save persists the current state through the configured storage. It is a
// no-op without storage.
func (e *Engine) Save(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}

	ctx, span := logger.StartSpan(ctx, "engine.Save")
	defer span.End()

	state := e.State()
	err := e.breakers.GetOrCreate(BreakerState).Call(func() error {
		return e.storage.Save(state)
	})
	if err != nil {
		engErr := engerrors.NewStorageError("engine", "Save", err)
		e.recordIOError(ctx, engErr)
		return engErr
	}

	logger.Debug(ctx, "State saved",
		"positions", len(state.Positions),
		"trades", len(state.TradeHistory),
		"cash", state.Cash.StringFixed(2))
	return nil
}

// Load restores the ledger, the peak table and the last prices from storage.
// Nothing saved yet is a fresh start and returns nil.
func (e *Engine) Load(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}

	ctx, span := logger.StartSpan(ctx, "engine.Load")
	defer span.End()

	state, err := e.storage.Load()
	if errors.Is(err, portfolio.ErrStateNotFound) {
		logger.Info(ctx, "No saved state, starting fresh")
		return nil
	}
	if err != nil {
		return engerrors.NewStateError("engine", "Load", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.portfolio.LoadState(state); err != nil {
		return engerrors.NewStateError("engine", "Load", err)
	}
	e.exits.RestorePeaks(state.Peaks)

	e.lastPrices = make(map[string]decimal.Decimal, len(state.LastPrices))
	for ticker, price := range state.LastPrices {
		e.lastPrices[ticker] = price
	}
	e.lastScores = make(map[string]float64, len(state.Positions))
	for ticker, position := range state.Positions {
		e.lastScores[ticker] = position.SignalScore
	}

	logger.Info(ctx, "State loaded",
		"positions", len(state.Positions),
		"trades", len(state.TradeHistory),
		"cash", state.Cash.StringFixed(2),
		"version", state.Version)
	return nil
}
