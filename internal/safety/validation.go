package safety

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Issue codes reported by the trade validator
const (
	CodeInvalidPrice         = "INVALID_PRICE"
	CodeInvalidShares        = "INVALID_SHARES"
	CodeExceedsPositionLimit = "EXCEEDS_POSITION_LIMIT"
	CodeInsufficientCash     = "INSUFFICIENT_CASH"
	CodeOversell             = "OVERSELL"
	CodeExtremePriceChange   = "EXTREME_PRICE_CHANGE"
)

// DefaultMaxPositionPct is the per-position ceiling as a fraction of portfolio value
var DefaultMaxPositionPct = decimal.NewFromFloat(0.08)

// DefaultMaxChangePct is the largest accepted tick-to-tick move, in percent
var DefaultMaxChangePct = decimal.NewFromInt(50)

var hundred = decimal.NewFromInt(100)

// Issue is a single reason an order was refused
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of a validation check.
// Message and Code summarise Issues for callers that only log the outcome.
type ValidationResult struct {
	Valid      bool            `json:"valid"`
	Message    string          `json:"message,omitempty"`
	Code       string          `json:"code,omitempty"`
	Ticker     string          `json:"ticker"`
	Shares     int64           `json:"shares,omitempty"`
	Price      decimal.Decimal `json:"price"`
	OrderValue decimal.Decimal `json:"order_value"`
	ChangePct  decimal.Decimal `json:"change_pct"`
	Issues     []Issue         `json:"issues,omitempty"`
}

// HasIssue reports whether the result carries the given issue code
func (r ValidationResult) HasIssue(code string) bool {
	for _, issue := range r.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func (r *ValidationResult) add(code, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) finish() ValidationResult {
	r.Valid = len(r.Issues) == 0
	if r.Valid {
		return *r
	}
	msgs := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		msgs[i] = issue.Message
	}
	r.Message = strings.Join(msgs, "; ")
	r.Code = r.Issues[0].Code
	return *r
}

// Validator runs stateless pre-trade checks. Every check is evaluated so the
// result lists all problems with an order, not just the first.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBuyOrder checks price, shares, the per-position ceiling and cash.
// maxPositionPct is applied as given; a zero ceiling flags every order.
func (v *Validator) ValidateBuyOrder(
	ticker string,
	shares int64,
	price decimal.Decimal,
	availableCash decimal.Decimal,
	portfolioValue decimal.Decimal,
	existingPositionValue decimal.Decimal,
	maxPositionPct decimal.Decimal,
) ValidationResult {
	orderValue := price.Mul(decimal.NewFromInt(shares))
	result := ValidationResult{
		Ticker:     ticker,
		Shares:     shares,
		Price:      price,
		OrderValue: orderValue,
	}

	if !price.IsPositive() {
		result.add(CodeInvalidPrice, "invalid price: $%s", price.String())
	}
	if shares <= 0 {
		result.add(CodeInvalidShares, "invalid shares: %d", shares)
	}

	newPositionValue := existingPositionValue.Add(orderValue)
	maxPositionValue := portfolioValue.Mul(maxPositionPct)
	if newPositionValue.GreaterThan(maxPositionValue) {
		result.add(CodeExceedsPositionLimit, "position $%s exceeds max $%s (%s%% of portfolio)",
			newPositionValue.StringFixed(2), maxPositionValue.StringFixed(2),
			maxPositionPct.Mul(hundred).String())
	}

	if orderValue.GreaterThan(availableCash) {
		result.add(CodeInsufficientCash, "insufficient cash: need $%s, have $%s",
			orderValue.StringFixed(2), availableCash.StringFixed(2))
	}

	return result.finish()
}

// ValidateSellOrder checks price, shares and that no more than the held
// quantity is sold.
func (v *Validator) ValidateSellOrder(
	ticker string,
	shares int64,
	price decimal.Decimal,
	positionShares int64,
	positionValue decimal.Decimal,
) ValidationResult {
	result := ValidationResult{
		Ticker:     ticker,
		Shares:     shares,
		Price:      price,
		OrderValue: price.Mul(decimal.NewFromInt(shares)),
	}

	if !price.IsPositive() {
		result.add(CodeInvalidPrice, "invalid price: $%s", price.String())
	}
	if shares <= 0 {
		result.add(CodeInvalidShares, "invalid shares: %d", shares)
	}
	if shares > positionShares {
		result.add(CodeOversell, "trying to sell %d but only have %d (position value $%s)",
			shares, positionShares, positionValue.StringFixed(2))
	}

	return result.finish()
}

// ValidatePriceChange rejects a move larger than maxChangePct percent between
// two observations. A non-positive oldPrice means there is no reference and is
// always accepted. maxChangePct is applied as given; zero flags any move.
func (v *Validator) ValidatePriceChange(ticker string, oldPrice, newPrice, maxChangePct decimal.Decimal) ValidationResult {
	result := ValidationResult{Ticker: ticker, Price: newPrice}
	if !oldPrice.IsPositive() {
		return result.finish()
	}

	result.ChangePct = newPrice.Sub(oldPrice).Div(oldPrice).Abs().Mul(hundred)
	if result.ChangePct.GreaterThan(maxChangePct) {
		result.add(CodeExtremePriceChange, "extreme price change: %s%% (%s -> %s)",
			result.ChangePct.StringFixed(1), oldPrice.String(), newPrice.String())
	}

	return result.finish()
}
