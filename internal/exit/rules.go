package exit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// Reason names the condition that closed, or should close, a position
type Reason string

const (
	ReasonProfitTarget        Reason = "profit_target"
	ReasonStopLoss            Reason = "stop_loss"
	ReasonTimeLimit           Reason = "time_limit"
	ReasonSignalDeterioration Reason = "signal_deterioration"
	ReasonTrailingStop        Reason = "trailing_stop"
	ReasonManual              Reason = "manual"
)

var hundred = decimal.NewFromInt(100)

// observation is everything a rule may look at for one evaluation
type observation struct {
	price        decimal.Decimal
	entryPrice   decimal.Decimal
	entryDate    time.Time
	signalScore  float64
	positionType types.PositionType
	pnlPct       decimal.Decimal
	holdDays     int
	peak         decimal.Decimal
}

// rule fires when match returns true; extra is merged into the signal
type rule struct {
	reason Reason
	match  func(cfg Config, obs observation) (extra map[string]any, ok bool)
}

// rules are evaluated in order and the first match wins
var rules = []rule{
	{
		reason: ReasonProfitTarget,
		match: func(cfg Config, obs observation) (map[string]any, bool) {
			return nil, obs.pnlPct.GreaterThanOrEqual(cfg.ProfitTargetPct)
		},
	},
	{
		reason: ReasonStopLoss,
		match: func(cfg Config, obs observation) (map[string]any, bool) {
			return nil, obs.pnlPct.LessThanOrEqual(cfg.StopLossPct.Neg())
		},
	},
	{
		reason: ReasonTimeLimit,
		match: func(cfg Config, obs observation) (map[string]any, bool) {
			return nil, obs.holdDays >= cfg.MaxHoldDays
		},
	},
	{
		reason: ReasonSignalDeterioration,
		match: func(cfg Config, obs observation) (map[string]any, bool) {
			if !obs.positionType.IsRisky() || obs.signalScore >= cfg.MinSignalScore {
				return nil, false
			}
			return map[string]any{"signal_score": obs.signalScore}, true
		},
	},
	{
		reason: ReasonTrailingStop,
		match: func(cfg Config, obs observation) (map[string]any, bool) {
			drawdown := obs.price.Sub(obs.peak).Div(obs.peak).Mul(hundred)
			if drawdown.GreaterThan(cfg.TrailingStopPct.Neg()) {
				return nil, false
			}
			return map[string]any{
				"peak_drawdown_pct": drawdown.Round(4).InexactFloat64(),
				"peak":              obs.peak.String(),
			}, true
		},
	},
}

// RuleOrder returns the exit reasons in evaluation priority
func RuleOrder() []Reason {
	order := make([]Reason, len(rules))
	for i, r := range rules {
		order[i] = r.reason
	}
	return order
}
