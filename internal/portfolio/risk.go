package portfolio

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultPortfolioConfig returns $10,000 cash, an 8% per-stock cap, a 25% cap
// on momentum/pump exposure, 10 positions and $100-$2,000 per trade.
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		InitialCash:     decimal.NewFromInt(10000),
		MaxPositionPct:  decimal.NewFromFloat(0.08),
		MaxRiskyPct:     decimal.NewFromFloat(0.25),
		MaxPositions:    10,
		MinPositionSize: decimal.NewFromInt(100),
		MaxPositionSize: decimal.NewFromInt(2000),
	}
}

// Validate checks the limits for internal consistency
func (c PortfolioConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return &PortfolioError{
			Code:      ErrConfigurationInvalid,
			Message:   fmt.Sprintf(format, args...),
			Timestamp: time.Now(),
		}
	}

	if c.InitialCash.IsNegative() {
		return invalid("initial cash must not be negative, got %s", c.InitialCash)
	}
	if !c.MaxPositionPct.IsPositive() || c.MaxPositionPct.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("max position pct must be within (0, 1], got %s", c.MaxPositionPct)
	}
	if !c.MaxRiskyPct.IsPositive() || c.MaxRiskyPct.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("max risky pct must be within (0, 1], got %s", c.MaxRiskyPct)
	}
	if c.MaxPositions <= 0 {
		return invalid("max positions must be positive, got %d", c.MaxPositions)
	}
	if !c.MinPositionSize.IsPositive() {
		return invalid("min position size must be positive, got %s", c.MinPositionSize)
	}
	if c.MaxPositionSize.LessThan(c.MinPositionSize) {
		return invalid("max position size %s is below min position size %s", c.MaxPositionSize, c.MinPositionSize)
	}
	return nil
}

// BasicRiskManager implements the RiskManager interface
type BasicRiskManager struct {
	config PortfolioConfig
}

// NewBasicRiskManager creates a new basic risk manager
func NewBasicRiskManager(config PortfolioConfig) *BasicRiskManager {
	return &BasicRiskManager{
		config: config,
	}
}

// CanEnterTrade is false at the position-count ceiling or when cash is below
// the minimum trade size
func (r *BasicRiskManager) CanEnterTrade(numPositions int, cash decimal.Decimal) bool {
	if numPositions >= r.config.MaxPositions {
		return false
	}
	return cash.GreaterThanOrEqual(r.config.MinPositionSize)
}

// MaxPositionValue is the per-stock ceiling for the given portfolio value
func (r *BasicRiskManager) MaxPositionValue(portfolioValue decimal.Decimal) decimal.Decimal {
	return portfolioValue.Mul(r.config.MaxPositionPct)
}

// ClampPositionValue bounds value to [MinPositionSize, MaxPositionSize] and
// then to available cash
func (r *BasicRiskManager) ClampPositionValue(value, cash decimal.Decimal) decimal.Decimal {
	value = decimal.Max(r.config.MinPositionSize, value)
	value = decimal.Min(r.config.MaxPositionSize, value)
	return decimal.Min(value, cash)
}

// FitRiskyLimit shrinks value so risky exposure stays under the cap. The
// result never drops below MinPositionSize, so an already breached cap yields
// the floor value.
func (r *BasicRiskManager) FitRiskyLimit(value, riskyExposure, portfolioValue decimal.Decimal) decimal.Decimal {
	maxRisky := portfolioValue.Mul(r.config.MaxRiskyPct)
	if riskyExposure.Add(value).LessThanOrEqual(maxRisky) {
		return value
	}
	return decimal.Max(r.config.MinPositionSize, maxRisky.Sub(riskyExposure))
}

// GetRiskMetrics returns exposure per ticker at cost basis
func (r *BasicRiskManager) GetRiskMetrics(positions []Position, cash decimal.Decimal) *RiskMetrics {
	metrics := &RiskMetrics{
		ExposureByTicker: make(map[string]decimal.Decimal, len(positions)),
	}

	var largest decimal.Decimal
	for _, p := range positions {
		value := p.EntryValue()
		metrics.TotalExposure = metrics.TotalExposure.Add(value)
		if p.PositionType.IsRisky() {
			metrics.RiskyExposure = metrics.RiskyExposure.Add(value)
		}
		if value.GreaterThan(largest) {
			largest = value
			metrics.LargestTicker = p.Ticker
		}
	}

	metrics.PortfolioValue = cash.Add(metrics.TotalExposure)
	if !metrics.PortfolioValue.IsPositive() {
		return metrics
	}

	for _, p := range positions {
		metrics.ExposureByTicker[p.Ticker] = pct(p.EntryValue(), metrics.PortfolioValue)
	}
	metrics.ConcentrationRisk = pct(largest, metrics.PortfolioValue)
	return metrics
}

// pct returns part/whole*100, or zero when whole is not positive
func pct(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
