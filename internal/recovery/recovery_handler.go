package recovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ducminhle1904/trading-risk-engine/internal/errors"
	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
)

// MaxAttempts bounds ExecuteWithRecovery regardless of the per-category limits
const MaxAttempts = 10

// RecoveryHandler retries failed engine I/O according to the error category
type RecoveryHandler struct {
	mu            sync.Mutex
	errorStats    *errors.ErrorStats
	retryConfig   RetryConfig
	backoffConfig BackoffConfig
	sleep         func(ctx context.Context, d time.Duration) error
}

// RetryConfig defines retry behavior for different error categories
type RetryConfig struct {
	MaxRetries map[errors.ErrorCategory]int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BackoffConfig defines backoff strategies
type BackoffConfig struct {
	Strategy   BackoffStrategy
	Multiplier float64
	Jitter     bool
}

// BackoffStrategy defines different backoff strategies
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RecoveryResult represents the result of a recovery attempt
type RecoveryResult struct {
	Action     errors.RecoveryAction
	Delay      time.Duration
	ShouldStop bool
	Message    string
}

// DefaultRetryConfig retries storage and journal writes a few times with
// sub-second delays
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: map[errors.ErrorCategory]int{
			errors.ErrorCategoryStorage:   3,
			errors.ErrorCategoryJournal:   3,
			errors.ErrorCategoryTemporary: 3,
		},
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// NewRecoveryHandler creates a handler with exponential backoff and jitter
func NewRecoveryHandler(retryConfig RetryConfig) *RecoveryHandler {
	return &RecoveryHandler{
		errorStats:  errors.NewErrorStats(50),
		retryConfig: retryConfig,
		backoffConfig: BackoffConfig{
			Strategy:   BackoffExponential,
			Multiplier: 1.5,
			Jitter:     true,
		},
		sleep: sleepContext,
	}
}

// SetBackoff replaces the backoff strategy
func (rh *RecoveryHandler) SetBackoff(cfg BackoffConfig) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.backoffConfig = cfg
}

// HandleError records err and decides what the caller should do next
func (rh *RecoveryHandler) HandleError(ctx context.Context, err error, component, operation string, attempt int) *RecoveryResult {
	engErr := categorize(err, component, operation)

	rh.mu.Lock()
	rh.errorStats.RecordError(engErr)
	rh.mu.Unlock()

	rh.logError(ctx, engErr, attempt)

	if reason, stop := rh.stopReason(engErr, attempt); stop {
		return &RecoveryResult{
			Action:     errors.RecoveryActionStop,
			ShouldStop: true,
			Message:    reason,
		}
	}

	action := engErr.GetRecoveryAction()
	result := &RecoveryResult{Action: action}
	switch action {
	case errors.RecoveryActionRetry:
		result.Delay = rh.calculateDelay(attempt)
		result.Message = fmt.Sprintf("retrying %s (attempt %d) after %s error", engErr.Operation, attempt+2, engErr.Category)
	default:
		result.Message = fmt.Sprintf("skipping %s after non-retryable %s error", engErr.Operation, engErr.Category)
	}
	return result
}

func (rh *RecoveryHandler) stopReason(engErr *errors.EngineError, attempt int) (string, bool) {
	if engErr.IsFatal() {
		return fmt.Sprintf("fatal error in %s: %s", engErr.Component, engErr.Message), true
	}

	rh.mu.Lock()
	maxRetries, exists := rh.retryConfig.MaxRetries[engErr.Category]
	rh.mu.Unlock()

	if exists && attempt >= maxRetries {
		return fmt.Sprintf("maximum retry attempts (%d) exceeded for %s errors", maxRetries, engErr.Category), true
	}
	return "", false
}

func (rh *RecoveryHandler) calculateDelay(attempt int) time.Duration {
	rh.mu.Lock()
	backoff := rh.backoffConfig
	baseDelay := rh.retryConfig.BaseDelay
	maxDelay := rh.retryConfig.MaxDelay
	rh.mu.Unlock()

	var delay time.Duration
	switch backoff.Strategy {
	case BackoffExponential:
		multiplier := 1.0
		for i := 0; i < attempt; i++ {
			multiplier *= backoff.Multiplier
		}
		delay = time.Duration(float64(baseDelay) * multiplier)
	case BackoffLinear:
		delay = baseDelay * time.Duration(attempt+1)
	default:
		delay = baseDelay
	}

	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if backoff.Jitter {
		delay = addJitter(delay)
	}
	return delay
}

// addJitter adds up to 10% to delay
func addJitter(delay time.Duration) time.Duration {
	jitter := int64(delay) / 10
	if jitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(jitter))
}

func (rh *RecoveryHandler) logError(ctx context.Context, engErr *errors.EngineError, attempt int) {
	args := []any{
		"category", string(engErr.Category),
		"component", engErr.Component,
		"operation", engErr.Operation,
		"attempt", attempt + 1,
		"retryable", engErr.Retryable,
	}

	switch {
	case engErr.IsFatal():
		logger.ErrorWithErr(ctx, "Fatal engine error", engErr, args...)
	case attempt > 0:
		logger.Warn(ctx, "Operation failed again", append(args, "error", engErr.Error())...)
	default:
		logger.Debug(ctx, "Operation failed", append(args, "error", engErr.Error())...)
	}
}

// ExecuteWithRecovery runs fn until it succeeds, the handler decides to stop
// or ctx is done
func (rh *RecoveryHandler) ExecuteWithRecovery(
	ctx context.Context,
	component, operation string,
	fn func() error,
) error {
	var lastError error

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "Operation recovered", "component", component, "operation", operation, "attempts", attempt+1)
			}
			return nil
		}
		lastError = err

		result := rh.HandleError(ctx, err, component, operation, attempt)
		if result.ShouldStop {
			logger.Warn(ctx, "Giving up", "component", component, "operation", operation, "reason", result.Message)
			return lastError
		}
		if result.Action != errors.RecoveryActionRetry {
			return lastError
		}

		if result.Delay > 0 {
			logger.Debug(ctx, "Waiting before retry", "delay", result.Delay.String(), "reason", result.Message)
			if err := rh.sleep(ctx, result.Delay); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", MaxAttempts, lastError)
}

// GetErrorStats returns a copy of the error statistics
func (rh *RecoveryHandler) GetErrorStats() errors.ErrorStats {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	stats := *rh.errorStats
	stats.ErrorsByCategory = make(map[errors.ErrorCategory]int, len(rh.errorStats.ErrorsByCategory))
	for k, v := range rh.errorStats.ErrorsByCategory {
		stats.ErrorsByCategory[k] = v
	}
	stats.RecentErrors = append([]*errors.EngineError(nil), rh.errorStats.RecentErrors...)
	return stats
}

// ResetStats resets error statistics
func (rh *RecoveryHandler) ResetStats() {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.errorStats = errors.NewErrorStats(50)
}

// categorize keeps engine errors as they are and treats anything else as
// temporary
func categorize(err error, component, operation string) *errors.EngineError {
	var engErr *errors.EngineError
	if stderrors.As(err, &engErr) {
		return engErr
	}
	return errors.WrapError(err, errors.ErrorCategoryTemporary, component, operation)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
