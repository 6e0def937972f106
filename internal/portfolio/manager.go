package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// DefaultPortfolioManager implements the PortfolioManager interface. Every
// mutator runs as one critical section under mu.
type DefaultPortfolioManager struct {
	mu           sync.RWMutex
	config       PortfolioConfig
	riskManager  RiskManager
	cash         decimal.Decimal
	positions    map[string]*Position
	tradeHistory []TradeRecord
	now          func() time.Time
}

// NewPortfolioManager creates a new portfolio manager instance
func NewPortfolioManager(config *PortfolioConfig) *DefaultPortfolioManager {
	if config == nil {
		defaults := DefaultPortfolioConfig()
		config = &defaults
	}

	return &DefaultPortfolioManager{
		config:      *config,
		riskManager: NewBasicRiskManager(*config),
		cash:        config.InitialCash,
		positions:   make(map[string]*Position),
		now:         time.Now,
	}
}

// SetClock replaces the time source used for entry dates and hold days
func (p *DefaultPortfolioManager) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetRiskManager replaces the sizing limits
func (p *DefaultPortfolioManager) SetRiskManager(rm RiskManager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.riskManager = rm
}

// Config returns the ledger limits
func (p *DefaultPortfolioManager) Config() PortfolioConfig {
	return p.config
}

// CalculatePositionSize proposes an order size scaled by signal strength and
// bounded by the portfolio limits. It does not mutate the ledger.
func (p *DefaultPortfolioManager) CalculatePositionSize(
	price decimal.Decimal,
	signalScore float64,
	positionType types.PositionType,
) (*SizingResult, bool) {
	if !price.IsPositive() {
		return nil, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.riskManager.CanEnterTrade(len(p.positions), p.cash) {
		return nil, false
	}

	portfolioValue := p.portfolioValueLocked()
	multiplier := signalScore / 100

	value := p.riskManager.MaxPositionValue(portfolioValue).Mul(decimal.NewFromFloat(multiplier))
	value = p.riskManager.ClampPositionValue(value, p.cash)
	if positionType.IsRisky() {
		value = p.riskManager.FitRiskyLimit(value, p.riskyExposureLocked(), portfolioValue)
	}

	shares := value.Div(price).Floor().IntPart()
	if shares < 1 {
		return nil, false
	}

	positionValue := price.Mul(decimal.NewFromInt(shares))
	return &SizingResult{
		Shares:           shares,
		PositionValue:    positionValue,
		SignalMultiplier: multiplier,
		PositionPct:      positionValue.Div(portfolioValue),
	}, true
}

// AddPosition opens a position, debits cash and appends a BUY record. It
// returns false without touching the ledger on a duplicate ticker, at the
// position-count ceiling, when the order costs more than available cash or
// when it would breach the per-stock or risky exposure cap.
func (p *DefaultPortfolioManager) AddPosition(
	ticker string,
	shares int64,
	entryPrice decimal.Decimal,
	signalScore float64,
	positionType types.PositionType,
) bool {
	if shares <= 0 || !entryPrice.IsPositive() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[ticker]; exists {
		logger.Debug(context.Background(), "Rejected duplicate position", "ticker", ticker)
		return false
	}
	if len(p.positions) >= p.config.MaxPositions {
		logger.Debug(context.Background(), "Rejected position at count ceiling", "ticker", ticker, "max_positions", p.config.MaxPositions)
		return false
	}

	value := entryPrice.Mul(decimal.NewFromInt(shares))
	if value.GreaterThan(p.cash) {
		logger.Debug(context.Background(), "Rejected position over available cash",
			"ticker", ticker, "value", value.StringFixed(2), "cash", p.cash.StringFixed(2))
		return false
	}

	portfolioValue := p.portfolioValueLocked()
	if maxValue := p.riskManager.MaxPositionValue(portfolioValue); value.GreaterThan(maxValue) {
		logger.Debug(context.Background(), "Rejected position over per-stock cap",
			"ticker", ticker, "value", value.StringFixed(2), "max", maxValue.StringFixed(2))
		return false
	}
	if positionType.IsRisky() {
		maxRisky := portfolioValue.Mul(p.config.MaxRiskyPct)
		if exposure := p.riskyExposureLocked().Add(value); exposure.GreaterThan(maxRisky) {
			logger.Debug(context.Background(), "Rejected position over risky exposure cap",
				"ticker", ticker, "exposure", exposure.StringFixed(2), "max", maxRisky.StringFixed(2))
			return false
		}
	}

	now := p.now()
	p.cash = p.cash.Sub(value)
	p.positions[ticker] = &Position{
		Ticker:       ticker,
		Shares:       shares,
		EntryPrice:   entryPrice,
		EntryDate:    now,
		SignalScore:  signalScore,
		PositionType: positionType,
	}
	p.tradeHistory = append(p.tradeHistory, TradeRecord{
		ID:           uuid.NewString(),
		Action:       ActionBuy,
		Ticker:       ticker,
		Shares:       shares,
		Price:        entryPrice,
		Timestamp:    now,
		SignalScore:  signalScore,
		PositionType: positionType,
	})

	return true
}

// ClosePosition sells the whole position at exitPrice, credits cash and
// appends a SELL record. It returns false when no position is open.
func (p *DefaultPortfolioManager) ClosePosition(ticker string, exitPrice decimal.Decimal, reason string) (*ClosureResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	position, exists := p.positions[ticker]
	if !exists {
		return nil, false
	}

	now := p.now()
	entryValue := position.EntryValue()
	exitValue := position.MarketValue(exitPrice)
	profit := exitValue.Sub(entryValue)
	profitPct := pct(profit, entryValue)
	holdDays := int(now.Sub(position.EntryDate) / (24 * time.Hour))

	record := TradeRecord{
		ID:        uuid.NewString(),
		Action:    ActionSell,
		Ticker:    ticker,
		Shares:    position.Shares,
		Price:     exitPrice,
		Timestamp: now,
		Profit:    &profit,
		ProfitPct: &profitPct,
		HoldDays:  holdDays,
		Reason:    reason,
	}

	p.cash = p.cash.Add(exitValue)
	delete(p.positions, ticker)
	p.tradeHistory = append(p.tradeHistory, record)

	return &ClosureResult{
		Ticker:     ticker,
		Shares:     position.Shares,
		EntryPrice: position.EntryPrice,
		ExitPrice:  exitPrice,
		Profit:     profit,
		ProfitPct:  profitPct,
		HoldDays:   holdDays,
		Reason:     reason,
		Record:     record,
	}, true
}

// GetPortfolioStatus returns a snapshot of the ledger valued at cost basis.
// Percentages are zero when the portfolio value is zero.
func (p *DefaultPortfolioManager) GetPortfolioStatus() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positionsValue := p.positionsValueLocked()
	total := p.cash.Add(positionsValue)

	return &Snapshot{
		TotalValue:      total,
		Cash:            p.cash,
		PositionsValue:  positionsValue,
		NumPositions:    len(p.positions),
		MaxPositions:    p.config.MaxPositions,
		CashUtilization: pct(positionsValue, total),
		RiskyExposure:   pct(p.riskyExposureLocked(), total),
		MaxRiskyPct:     p.config.MaxRiskyPct.Mul(hundred),
		RealizedPnL:     p.realizedPnLLocked(),
		Positions:       p.positionsLocked(),
	}
}

// GetRiskMetrics returns per-ticker exposure
func (p *DefaultPortfolioManager) GetRiskMetrics() *RiskMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.riskManager.GetRiskMetrics(p.positionsLocked(), p.cash)
}

// Cash returns uninvested cash
func (p *DefaultPortfolioManager) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// PortfolioValue returns cash plus the entry value of open positions
func (p *DefaultPortfolioManager) PortfolioValue() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.portfolioValueLocked()
}

// RiskyExposure returns the entry value held in momentum and pump positions
func (p *DefaultPortfolioManager) RiskyExposure() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.riskyExposureLocked()
}

// Position returns a copy of the open position for ticker
func (p *DefaultPortfolioManager) Position(ticker string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	position, ok := p.positions[ticker]
	if !ok {
		return Position{}, false
	}
	return *position, true
}

// Positions returns copies of the open positions sorted by ticker
func (p *DefaultPortfolioManager) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionsLocked()
}

// TradeHistory returns a copy of the trade log
func (p *DefaultPortfolioManager) TradeHistory() []TradeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	history := make([]TradeRecord, len(p.tradeHistory))
	copy(history, p.tradeHistory)
	return history
}

// RealizedPnL sums profit over every SELL record
func (p *DefaultPortfolioManager) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnLLocked()
}

func (p *DefaultPortfolioManager) portfolioValueLocked() decimal.Decimal {
	return p.cash.Add(p.positionsValueLocked())
}

func (p *DefaultPortfolioManager) positionsValueLocked() decimal.Decimal {
	total := decimal.Zero
	for _, position := range p.positions {
		total = total.Add(position.EntryValue())
	}
	return total
}

func (p *DefaultPortfolioManager) riskyExposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, position := range p.positions {
		if position.PositionType.IsRisky() {
			total = total.Add(position.EntryValue())
		}
	}
	return total
}

func (p *DefaultPortfolioManager) realizedPnLLocked() decimal.Decimal {
	total := decimal.Zero
	for _, record := range p.tradeHistory {
		if record.Action == ActionSell && record.Profit != nil {
			total = total.Add(*record.Profit)
		}
	}
	return total
}

func (p *DefaultPortfolioManager) positionsLocked() []Position {
	positions := make([]Position, 0, len(p.positions))
	for _, position := range p.positions {
		positions = append(positions, *position)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions
}
