package notifications

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
)

// ThrottledNotifier drops alerts above a per-minute budget so a flapping
// breaker cannot flood the channel
type ThrottledNotifier struct {
	next    Notifier
	limiter *rate.Limiter
	dropped atomic.Int64
}

var _ Notifier = (*ThrottledNotifier)(nil)

// NewThrottledNotifier allows perMinute alerts per minute with a burst of the
// same size
func NewThrottledNotifier(next Notifier, perMinute int) *ThrottledNotifier {
	if perMinute < 1 {
		perMinute = 1
	}
	return &ThrottledNotifier{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
	}
}

// SendAlert forwards the alert when the budget allows it
func (t *ThrottledNotifier) SendAlert(ctx context.Context, level, message string) error {
	if !t.limiter.Allow() {
		n := t.dropped.Add(1)
		logger.Debug(ctx, "Alert dropped by throttle", "level", level, "dropped_total", n)
		return nil
	}
	return t.next.SendAlert(ctx, level, message)
}

// Dropped returns how many alerts were throttled
func (t *ThrottledNotifier) Dropped() int64 {
	return t.dropped.Load()
}
