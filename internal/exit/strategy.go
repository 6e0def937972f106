package exit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// Signal is a recommendation to close a position
type Signal struct {
	ExitSignal bool            `json:"exit_signal"`
	Reason     Reason          `json:"reason"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
	HoldDays   int             `json:"hold_days"`
	Extra      map[string]any  `json:"extra,omitempty"`
}

// Targets are the price levels implied by the policy for an entry price
type Targets struct {
	ProfitTarget        decimal.Decimal `json:"profit_target"`
	StopLoss            decimal.Decimal `json:"stop_loss"`
	TrailingStopTrigger decimal.Decimal `json:"trailing_stop_trigger"`
}

// Strategy evaluates open positions against the exit policy and owns the
// per-ticker peak price table used by the trailing stop.
type Strategy struct {
	config Config

	mu    sync.Mutex
	now   func() time.Time
	peaks map[string]decimal.Decimal
}

// NewStrategy creates a strategy with the given policy
func NewStrategy(config Config) *Strategy {
	return &Strategy{
		config: config,
		now:    time.Now,
		peaks:  make(map[string]decimal.Decimal),
	}
}

// SetClock replaces the time source used for hold-day calculation
func (s *Strategy) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Strategy) clock() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

// Config returns the exit policy
func (s *Strategy) Config() Config {
	return s.config
}

// ToMap serialises the exit policy
func (s *Strategy) ToMap() map[string]any {
	return s.config.ToMap()
}

// EvaluateExit updates the ticker's peak and reports the first exit rule that
// fires. ok is false when the position should be held.
func (s *Strategy) EvaluateExit(
	ticker string,
	currentPrice decimal.Decimal,
	entryPrice decimal.Decimal,
	entryDate time.Time,
	signalScore float64,
	positionType types.PositionType,
) (*Signal, bool) {
	if !entryPrice.IsPositive() || !currentPrice.IsPositive() {
		return nil, false
	}

	obs := observation{
		price:        currentPrice,
		entryPrice:   entryPrice,
		entryDate:    entryDate,
		signalScore:  signalScore,
		positionType: positionType,
		pnlPct:       currentPrice.Sub(entryPrice).Div(entryPrice).Mul(hundred),
		holdDays:     int(s.clock().Sub(entryDate) / (24 * time.Hour)),
		peak:         s.updatePeak(ticker, currentPrice, entryPrice),
	}

	for _, r := range rules {
		extra, ok := r.match(s.config, obs)
		if !ok {
			continue
		}
		return &Signal{
			ExitSignal: true,
			Reason:     r.reason,
			ExitPrice:  currentPrice,
			PnLPct:     obs.pnlPct,
			HoldDays:   obs.holdDays,
			Extra:      extra,
		}, true
	}

	return nil, false
}

func (s *Strategy) updatePeak(ticker string, currentPrice, entryPrice decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	peak, ok := s.peaks[ticker]
	if !ok {
		peak = entryPrice
	}
	peak = decimal.Max(peak, currentPrice)
	s.peaks[ticker] = peak
	return peak
}

// GetExitTargets returns the profit target, stop loss and trailing trigger
// prices for an entry price
func (s *Strategy) GetExitTargets(entryPrice decimal.Decimal) Targets {
	return Targets{
		ProfitTarget:        entryPrice.Mul(hundred.Add(s.config.ProfitTargetPct)).Div(hundred),
		StopLoss:            entryPrice.Mul(hundred.Sub(s.config.StopLossPct)).Div(hundred),
		TrailingStopTrigger: entryPrice.Mul(hundred.Sub(s.config.TrailingStopPct)).Div(hundred),
	}
}

// ClearPeak forgets the tracked peak for ticker
func (s *Strategy) ClearPeak(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peaks, ticker)
}

// Peak returns the tracked peak for ticker
func (s *Strategy) Peak(ticker string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peak, ok := s.peaks[ticker]
	return peak, ok
}

// Peaks returns a copy of the peak table
func (s *Strategy) Peaks() map[string]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(s.peaks))
	for k, v := range s.peaks {
		out[k] = v
	}
	return out
}

// RestorePeaks replaces the peak table, used when reloading saved state
func (s *Strategy) RestorePeaks(peaks map[string]decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peaks = make(map[string]decimal.Decimal, len(peaks))
	for k, v := range peaks {
		s.peaks[k] = v
	}
}
