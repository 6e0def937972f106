package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	engerrors "github.com/ducminhle1904/trading-risk-engine/internal/errors"
	"github.com/ducminhle1904/trading-risk-engine/internal/exit"
	"github.com/ducminhle1904/trading-risk-engine/internal/journal"
	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/internal/safety"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// DefaultMinEntryScore is the signal score an entry candidate must exceed
const DefaultMinEntryScore = 70

// Circuit breaker names
const (
	BreakerState   = "state"
	BreakerJournal = "journal"
)

// Skip reasons reported for entries that were not admitted
const (
	SkipInvalidRequest = "invalid_request"
	SkipWeakSignal     = "weak_signal"
	SkipPriceChange    = "extreme_price_change"
	SkipAlreadyOpen    = "already_open"
	SkipNoSize         = "no_size"
	SkipValidation     = "validation_failed"
	SkipRiskyLimit     = "risky_limit"
	SkipCommitRejected = "commit_rejected"
)

// Options configures the optional collaborators. Every field may be left zero.
type Options struct {
	MinEntryScore     float64
	MaxPriceChangePct decimal.Decimal
	Storage           portfolio.StateManager
	Journal           journal.Journal
	Metrics           *monitoring.Metrics
	Health            *monitoring.HealthChecker
	Breakers          *safety.CircuitBreakerManager
}

// EntryRequest is one entry candidate from the signal feed
type EntryRequest struct {
	Ticker       string
	Price        decimal.Decimal
	SignalScore  float64
	PositionType types.PositionType
}

// EntryResult reports what happened to an entry candidate. Business
// rejections set SkipReason and are not errors.
type EntryResult struct {
	Ticker     string
	Admitted   bool
	SkipReason string
	Sizing     *portfolio.SizingResult
	Validation *safety.ValidationResult
	PriceCheck *safety.ValidationResult
	Record     *portfolio.TradeRecord
}

// ExitResult reports one exit signal and whether it was committed
type ExitResult struct {
	Ticker     string
	Signal     *exit.Signal
	Validation safety.ValidationResult
	Closure    *portfolio.ClosureResult
	Closed     bool
}

// Engine drives the ledger, the exit evaluator and the validator as one
// unit. A single mutex is held from sizing through commit, and from exit
// evaluation through close and peak cleanup, so a sizing decision can never
// go stale before it is committed.
type Engine struct {
	mu         sync.Mutex
	portfolio  portfolio.PortfolioManager
	exits      *exit.Strategy
	validator  *safety.Validator
	lastPrices map[string]decimal.Decimal
	lastScores map[string]float64

	minEntryScore     float64
	maxPriceChangePct decimal.Decimal

	storage  portfolio.StateManager
	journal  journal.Journal
	metrics  *monitoring.Metrics
	health   *monitoring.HealthChecker
	breakers *safety.CircuitBreakerManager

	errMu    sync.Mutex
	errStats *engerrors.ErrorStats
}

// New wires an engine around a ledger and an exit strategy
func New(pm portfolio.PortfolioManager, exits *exit.Strategy, opts Options) *Engine {
	if opts.MinEntryScore == 0 {
		opts.MinEntryScore = DefaultMinEntryScore
	}
	if opts.MaxPriceChangePct.IsZero() {
		opts.MaxPriceChangePct = safety.DefaultMaxChangePct
	}
	if opts.Journal == nil {
		opts.Journal = journal.NoopJournal{}
	}
	if opts.Breakers == nil {
		opts.Breakers = safety.NewCircuitBreakerManager(safety.CircuitBreakerConfig{})
	}

	return &Engine{
		portfolio:         pm,
		exits:             exits,
		validator:         safety.NewValidator(),
		lastPrices:        make(map[string]decimal.Decimal),
		lastScores:        make(map[string]float64),
		minEntryScore:     opts.MinEntryScore,
		maxPriceChangePct: opts.MaxPriceChangePct,
		storage:           opts.Storage,
		journal:           opts.Journal,
		metrics:           opts.Metrics,
		health:            opts.Health,
		breakers:          opts.Breakers,
		errStats:          engerrors.NewErrorStats(50),
	}
}

// Enter sizes, validates and commits one entry candidate
func (e *Engine) Enter(ctx context.Context, req EntryRequest) (*EntryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := logger.StartSpan(ctx, "engine.Enter",
		attribute.String("ticker", req.Ticker),
		attribute.Float64("signal_score", req.SignalScore),
	)
	defer span.End()

	if req.Ticker == "" || !req.PositionType.Valid() {
		return nil, engerrors.NewValidationError("engine", "Enter", "entry request needs a ticker and a known position type").
			WithContext("ticker", req.Ticker).
			WithContext("position_type", string(req.PositionType))
	}

	e.mu.Lock()
	result := e.enterLocked(req)
	e.mu.Unlock()

	if !result.Admitted {
		logger.Debug(ctx, "Entry skipped", "ticker", req.Ticker, "reason", result.SkipReason)
		e.metrics.RecordRejection(result.SkipReason)
		if result.Validation != nil && !result.Validation.Valid {
			logger.Risk(ctx, req.Ticker, "ENTRY_REJECTED", "issues", result.Validation.Message)
		}
		if result.PriceCheck != nil && !result.PriceCheck.Valid {
			logger.Risk(ctx, req.Ticker, "PRICE_SANITY", "issues", result.PriceCheck.Message)
		}
		return result, nil
	}

	logger.Trade(ctx, req.Ticker, portfolio.ActionBuy, result.Record.Shares, result.Record.Price.String(),
		"signal_score", req.SignalScore, "position_type", string(req.PositionType),
		"position_pct", result.Sizing.PositionPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	e.afterCommit(ctx, *result.Record)
	return result, nil
}

func (e *Engine) enterLocked(req EntryRequest) *EntryResult {
	result := &EntryResult{Ticker: req.Ticker}
	skip := func(reason string) *EntryResult {
		result.SkipReason = reason
		return result
	}

	if !req.Price.IsPositive() {
		return skip(SkipInvalidRequest)
	}

	previous, seen := e.lastPrices[req.Ticker]
	e.lastPrices[req.Ticker] = req.Price
	e.lastScores[req.Ticker] = req.SignalScore
	if seen {
		check := e.validator.ValidatePriceChange(req.Ticker, previous, req.Price, e.maxPriceChangePct)
		result.PriceCheck = &check
		if !check.Valid {
			return skip(SkipPriceChange)
		}
	}

	if req.SignalScore <= e.minEntryScore {
		return skip(SkipWeakSignal)
	}

	if _, open := e.portfolio.Position(req.Ticker); open {
		return skip(SkipAlreadyOpen)
	}

	sizing, ok := e.portfolio.CalculatePositionSize(req.Price, req.SignalScore, req.PositionType)
	if !ok {
		return skip(SkipNoSize)
	}
	result.Sizing = sizing

	cfg := e.portfolio.Config()
	portfolioValue := e.portfolio.PortfolioValue()
	validation := e.validator.ValidateBuyOrder(
		req.Ticker,
		sizing.Shares,
		req.Price,
		e.portfolio.Cash(),
		portfolioValue,
		decimal.Zero,
		cfg.MaxPositionPct,
	)
	result.Validation = &validation
	if !validation.Valid {
		return skip(SkipValidation)
	}

	// the sizing floor can exceed an already full risky bucket
	if req.PositionType.IsRisky() {
		maxRisky := portfolioValue.Mul(cfg.MaxRiskyPct)
		if e.portfolio.RiskyExposure().Add(validation.OrderValue).GreaterThan(maxRisky) {
			return skip(SkipRiskyLimit)
		}
	}

	if !e.portfolio.AddPosition(req.Ticker, sizing.Shares, req.Price, req.SignalScore, req.PositionType) {
		return skip(SkipCommitRejected)
	}

	history := e.portfolio.TradeHistory()
	record := history[len(history)-1]
	result.Record = &record
	result.Admitted = true
	return result
}

// CheckExits evaluates every open position that has a quote. Positions
// without a signal update keep their last known score. A fired exit is
// validated, closed and its peak cleared in one step.
func (e *Engine) CheckExits(ctx context.Context, quotes map[string]decimal.Decimal, signals map[string]float64) ([]ExitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := logger.StartSpan(ctx, "engine.CheckExits", attribute.Int("quotes", len(quotes)))
	defer span.End()

	e.mu.Lock()
	var results []ExitResult
	for _, position := range e.portfolio.Positions() {
		price, ok := quotes[position.Ticker]
		if !ok {
			continue
		}
		e.lastPrices[position.Ticker] = price

		score, ok := signals[position.Ticker]
		if ok {
			e.lastScores[position.Ticker] = score
		} else if score, ok = e.lastScores[position.Ticker]; !ok {
			score = position.SignalScore
		}

		signal, fire := e.exits.EvaluateExit(position.Ticker, price, position.EntryPrice, position.EntryDate, score, position.PositionType)
		if !fire {
			continue
		}
		results = append(results, e.closeLocked(position, signal))
	}
	e.mu.Unlock()

	for _, r := range results {
		e.reportExit(ctx, r)
	}

	e.refreshGauges(ctx)
	if e.health != nil {
		e.health.RecordTick()
	}
	return results, nil
}

// Exit force-closes a position at price. An empty reason records "manual".
func (e *Engine) Exit(ctx context.Context, ticker string, price decimal.Decimal, reason string) (*ExitResult, bool) {
	if reason == "" {
		reason = string(exit.ReasonManual)
	}

	e.mu.Lock()
	position, open := e.portfolio.Position(ticker)
	if !open {
		e.mu.Unlock()
		return nil, false
	}
	e.lastPrices[ticker] = price

	entry := position.EntryPrice
	signal := &exit.Signal{
		ExitSignal: true,
		Reason:     exit.Reason(reason),
		ExitPrice:  price,
	}
	if entry.IsPositive() {
		signal.PnLPct = price.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
	}
	result := e.closeLocked(position, signal)
	e.mu.Unlock()

	e.reportExit(ctx, result)
	e.refreshGauges(ctx)
	return &result, result.Closed
}

// closeLocked must be called with e.mu held
func (e *Engine) closeLocked(position portfolio.Position, signal *exit.Signal) ExitResult {
	result := ExitResult{Ticker: position.Ticker, Signal: signal}

	result.Validation = e.validator.ValidateSellOrder(
		position.Ticker,
		position.Shares,
		signal.ExitPrice,
		position.Shares,
		position.EntryValue(),
	)
	if !result.Validation.Valid {
		return result
	}

	closure, ok := e.portfolio.ClosePosition(position.Ticker, signal.ExitPrice, string(signal.Reason))
	if !ok {
		return result
	}
	e.exits.ClearPeak(position.Ticker)

	result.Closure = closure
	result.Closed = true
	return result
}

func (e *Engine) reportExit(ctx context.Context, r ExitResult) {
	if !r.Closed {
		logger.Risk(ctx, r.Ticker, "EXIT_REJECTED", "reason", string(r.Signal.Reason), "issues", r.Validation.Message)
		return
	}

	logger.Trade(ctx, r.Ticker, portfolio.ActionSell, r.Closure.Shares, r.Closure.ExitPrice.String(),
		"reason", r.Closure.Reason,
		"profit", r.Closure.Profit.StringFixed(2),
		"profit_pct", r.Closure.ProfitPct.StringFixed(2),
		"hold_days", r.Closure.HoldDays)
	e.metrics.RecordExit(r.Closure.Reason)
	e.afterCommit(ctx, r.Closure.Record)
}

// afterCommit runs the optional I/O for a committed trade
func (e *Engine) afterCommit(ctx context.Context, record portfolio.TradeRecord) {
	e.metrics.RecordTrade(record.Ticker, record.Action, record.Value().InexactFloat64())

	err := e.breakers.GetOrCreate(BreakerJournal).Call(func() error {
		return e.journal.Record(ctx, record)
	})
	if err != nil {
		e.recordIOError(ctx, engerrors.NewJournalError("engine", "Record", err).
			WithContext("trade_id", record.ID))
	}
}

func (e *Engine) refreshGauges(ctx context.Context) {
	status := e.portfolio.GetPortfolioStatus()
	e.metrics.UpdatePortfolio(
		status.Cash.InexactFloat64(),
		status.TotalValue.InexactFloat64(),
		status.RiskyExposure.InexactFloat64(),
		status.RealizedPnL.InexactFloat64(),
		status.NumPositions,
	)

	err := e.breakers.GetOrCreate(BreakerJournal).Call(func() error {
		return e.journal.RecordSnapshot(ctx, status)
	})
	if err != nil {
		e.recordIOError(ctx, engerrors.NewJournalError("engine", "RecordSnapshot", err))
	}
}

func (e *Engine) recordIOError(ctx context.Context, err *engerrors.EngineError) {
	logger.ErrorWithErr(ctx, "Engine I/O failed", err,
		"category", string(err.Category), "recovery", string(err.GetRecoveryAction()))
	e.metrics.RecordError(string(err.Category))
	if e.health != nil && !errors.Is(err, safety.ErrCircuitOpen) {
		e.health.RecordError(err)
	}

	e.errMu.Lock()
	e.errStats.RecordError(err)
	e.errMu.Unlock()
}

// Status returns the current ledger snapshot
func (e *Engine) Status() *portfolio.Snapshot {
	return e.portfolio.GetPortfolioStatus()
}

// Portfolio returns the underlying ledger
func (e *Engine) Portfolio() portfolio.PortfolioManager {
	return e.portfolio
}

// ExitStrategy returns the underlying exit evaluator
func (e *Engine) ExitStrategy() *exit.Strategy {
	return e.exits
}

// ExitTargets returns the exit price levels for an open position
func (e *Engine) ExitTargets(ticker string) (exit.Targets, bool) {
	position, ok := e.portfolio.Position(ticker)
	if !ok {
		return exit.Targets{}, false
	}
	return e.exits.GetExitTargets(position.EntryPrice), true
}

// LastPrice returns the most recent price seen for ticker
func (e *Engine) LastPrice(ticker string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.lastPrices[ticker]
	return price, ok
}

// OpenCircuits lists the I/O dependencies currently short-circuited
func (e *Engine) OpenCircuits() []string {
	return e.breakers.GetOpenCircuits()
}

// ErrorCounts returns I/O error counts by category
func (e *Engine) ErrorCounts() map[engerrors.ErrorCategory]int {
	e.errMu.Lock()
	defer e.errMu.Unlock()

	out := make(map[engerrors.ErrorCategory]int, len(e.errStats.ErrorsByCategory))
	for k, v := range e.errStats.ErrorsByCategory {
		out[k] = v
	}
	return out
}
