package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct{ sent int }

func (c *countingNotifier) SendAlert(context.Context, string, string) error {
	c.sent++
	return nil
}

func TestThrottledNotifier_DropsAboveBudget(t *testing.T) {
	next := &countingNotifier{}
	n := NewThrottledNotifier(next, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, n.SendAlert(context.Background(), LevelError, "circuit open"))
	}

	assert.Equal(t, 3, next.sent)
	assert.Equal(t, int64(2), n.Dropped())
}

func TestThrottledNotifier_MinimumBudget(t *testing.T) {
	next := &countingNotifier{}
	n := NewThrottledNotifier(next, 0)

	require.NoError(t, n.SendAlert(context.Background(), LevelInfo, "a"))
	require.NoError(t, n.SendAlert(context.Background(), LevelInfo, "b"))
	assert.Equal(t, 1, next.sent)
}
