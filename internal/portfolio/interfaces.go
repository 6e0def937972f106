package portfolio

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// PortfolioManager owns the cash and position ledger. Sizing and status are
// read-only; AddPosition and ClosePosition are the only mutators.
type PortfolioManager interface {
	// Sizing & admission
	CalculatePositionSize(price decimal.Decimal, signalScore float64, positionType types.PositionType) (*SizingResult, bool)
	AddPosition(ticker string, shares int64, entryPrice decimal.Decimal, signalScore float64, positionType types.PositionType) bool
	ClosePosition(ticker string, exitPrice decimal.Decimal, reason string) (*ClosureResult, bool)

	// Read side
	GetPortfolioStatus() *Snapshot
	Cash() decimal.Decimal
	PortfolioValue() decimal.Decimal
	RiskyExposure() decimal.Decimal
	Position(ticker string) (Position, bool)
	Positions() []Position
	TradeHistory() []TradeRecord
	RealizedPnL() decimal.Decimal
	Config() PortfolioConfig

	// State Management
	ToState() *PortfolioState
	LoadState(state *PortfolioState) error
}

// ErrStateNotFound is returned by a StateManager that has nothing saved yet
var ErrStateNotFound = errors.New("portfolio state not found")

// StateManager handles portfolio state persistence
type StateManager interface {
	Save(state *PortfolioState) error
	Load() (*PortfolioState, error)
	Lock() error
	Unlock() error
	IsLocked() bool
}

// RiskManager applies portfolio-level limits to sizing decisions
type RiskManager interface {
	CanEnterTrade(numPositions int, cash decimal.Decimal) bool
	MaxPositionValue(portfolioValue decimal.Decimal) decimal.Decimal
	ClampPositionValue(value, cash decimal.Decimal) decimal.Decimal
	FitRiskyLimit(value, riskyExposure, portfolioValue decimal.Decimal) decimal.Decimal
	GetRiskMetrics(positions []Position, cash decimal.Decimal) *RiskMetrics
}

// PortfolioConfig holds the ledger limits. Percentages are fractions (0.08 = 8%).
type PortfolioConfig struct {
	InitialCash     decimal.Decimal `json:"initial_cash" yaml:"initial_cash"`
	MaxPositionPct  decimal.Decimal `json:"max_position_pct" yaml:"max_position_pct"`
	MaxRiskyPct     decimal.Decimal `json:"max_risky_pct" yaml:"max_risky_pct"`
	MaxPositions    int             `json:"max_positions" yaml:"max_positions"`
	MinPositionSize decimal.Decimal `json:"min_position_size" yaml:"min_position_size"`
	MaxPositionSize decimal.Decimal `json:"max_position_size" yaml:"max_position_size"`
}

// Position is an open holding. Ticker is unique within a portfolio.
type Position struct {
	Ticker       string             `json:"ticker"`
	Shares       int64              `json:"shares"`
	EntryPrice   decimal.Decimal    `json:"entry_price"`
	EntryDate    time.Time          `json:"entry_date"`
	SignalScore  float64            `json:"signal_score"`
	PositionType types.PositionType `json:"position_type"`
}

// EntryValue is the cost basis used for every limit check
func (p Position) EntryValue() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(p.Shares))
}

// MarketValue values the position at price
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Shares))
}

// Trade actions
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// TradeRecord is an append-only ledger entry. BUY records carry the signal
// fields, SELL records carry the profit fields.
type TradeRecord struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Ticker    string          `json:"ticker"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`

	SignalScore  float64            `json:"signal_score,omitempty"`
	PositionType types.PositionType `json:"position_type,omitempty"`

	Profit    *decimal.Decimal `json:"profit,omitempty"`
	ProfitPct *decimal.Decimal `json:"profit_pct,omitempty"`
	HoldDays  int              `json:"hold_days,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// Value is shares x price
func (t TradeRecord) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares))
}

// SizingResult is a proposed order size
type SizingResult struct {
	Shares           int64           `json:"shares"`
	PositionValue    decimal.Decimal `json:"position_value"`
	SignalMultiplier float64         `json:"signal_multiplier"`
	PositionPct      decimal.Decimal `json:"position_pct"`
}

// ClosureResult describes a committed close
type ClosureResult struct {
	Ticker     string          `json:"ticker"`
	Shares     int64           `json:"shares"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Profit     decimal.Decimal `json:"profit"`
	ProfitPct  decimal.Decimal `json:"profit_pct"`
	HoldDays   int             `json:"hold_days"`
	Reason     string          `json:"reason"`
	Record     TradeRecord     `json:"record"`
}

// Snapshot is a read-only view of the ledger. Percentages are 0-100.
type Snapshot struct {
	TotalValue      decimal.Decimal `json:"total_value"`
	Cash            decimal.Decimal `json:"cash"`
	PositionsValue  decimal.Decimal `json:"positions_value"`
	NumPositions    int             `json:"num_positions"`
	MaxPositions    int             `json:"max_positions"`
	CashUtilization decimal.Decimal `json:"cash_utilization"`
	RiskyExposure   decimal.Decimal `json:"risky_exposure"`
	MaxRiskyPct     decimal.Decimal `json:"max_risky_pct"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	Positions       []Position      `json:"positions"`
}

// PortfolioState is the persisted form of the ledger
type PortfolioState struct {
	Cash           decimal.Decimal            `json:"cash"`
	PortfolioValue decimal.Decimal            `json:"portfolio_value"`
	Positions      map[string]*PositionState  `json:"positions"`
	TradeHistory   []TradeRecord              `json:"trade_history"`
	ExitConfig     map[string]any             `json:"exit_config,omitempty"`
	Peaks          map[string]decimal.Decimal `json:"peaks,omitempty"`
	LastPrices     map[string]decimal.Decimal `json:"last_prices,omitempty"`
	Version        string                     `json:"version"`
	LastUpdated    time.Time                  `json:"last_updated"`
	LockHolder     string                     `json:"lock_holder,omitempty"`
	LockTime       *time.Time                 `json:"lock_time,omitempty"`
}

// PositionState is one open position inside a PortfolioState
type PositionState struct {
	Shares       int64              `json:"shares"`
	EntryPrice   decimal.Decimal    `json:"entry_price"`
	EntryDate    string             `json:"entry_date"` // RFC3339
	SignalScore  float64            `json:"signal_score"`
	PositionType types.PositionType `json:"position_type"`
}

// RiskMetrics breaks exposure down by ticker, in percent of portfolio value
type RiskMetrics struct {
	PortfolioValue    decimal.Decimal            `json:"portfolio_value"`
	TotalExposure     decimal.Decimal            `json:"total_exposure"`
	RiskyExposure     decimal.Decimal            `json:"risky_exposure"`
	ExposureByTicker  map[string]decimal.Decimal `json:"exposure_by_ticker"`
	ConcentrationRisk decimal.Decimal            `json:"concentration_risk"` // largest single exposure %
	LargestTicker     string                     `json:"largest_ticker,omitempty"`
}

// PortfolioError represents portfolio-specific errors
type PortfolioError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Ticker    string    `json:"ticker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *PortfolioError) Error() string {
	if e.Ticker != "" {
		return e.Code + " [" + e.Ticker + "]: " + e.Message
	}
	return e.Code + ": " + e.Message
}

// Common error codes
const (
	ErrPortfolioLocked      = "PORTFOLIO_LOCKED"
	ErrStateCorrupted       = "STATE_CORRUPTED"
	ErrConfigurationInvalid = "CONFIGURATION_INVALID"
)
