package exit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config is the exit policy. It is fixed once a Strategy is built.
type Config struct {
	ProfitTargetPct decimal.Decimal `json:"profit_target_pct" yaml:"profit_target_pct"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxHoldDays     int             `json:"max_hold_days" yaml:"max_hold_days"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	MinSignalScore  float64         `json:"min_signal_score" yaml:"min_signal_score"`
}

// DefaultConfig returns a 5% target, 2% stop, 5 day hold, 2% trailing stop
// and a signal floor of 40.
func DefaultConfig() Config {
	return Config{
		ProfitTargetPct: decimal.NewFromInt(5),
		StopLossPct:     decimal.NewFromInt(2),
		MaxHoldDays:     5,
		TrailingStopPct: decimal.NewFromInt(2),
		MinSignalScore:  40,
	}
}

// Validate checks that every threshold is usable
func (c Config) Validate() error {
	if !c.ProfitTargetPct.IsPositive() {
		return fmt.Errorf("profit_target_pct must be positive, got %s", c.ProfitTargetPct)
	}
	if !c.StopLossPct.IsPositive() {
		return fmt.Errorf("stop_loss_pct must be positive, got %s", c.StopLossPct)
	}
	if !c.TrailingStopPct.IsPositive() {
		return fmt.Errorf("trailing_stop_pct must be positive, got %s", c.TrailingStopPct)
	}
	if c.MaxHoldDays <= 0 {
		return fmt.Errorf("max_hold_days must be positive, got %d", c.MaxHoldDays)
	}
	if c.MinSignalScore < 0 || c.MinSignalScore > 100 {
		return fmt.Errorf("min_signal_score must be within [0, 100], got %.1f", c.MinSignalScore)
	}
	return nil
}

// ToMap serialises the policy for state files and status output
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"profit_target_pct": c.ProfitTargetPct.InexactFloat64(),
		"stop_loss_pct":     c.StopLossPct.InexactFloat64(),
		"max_hold_days":     c.MaxHoldDays,
		"trailing_stop_pct": c.TrailingStopPct.InexactFloat64(),
		"min_signal_score":  c.MinSignalScore,
	}
}
