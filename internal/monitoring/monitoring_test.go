package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordTrade("AAPL", "BUY", 600)
	m.RecordTrade("AAPL", "SELL", 632)
	m.RecordExit("profit_target")
	m.RecordRejection("weak_signal")
	m.RecordRejection("weak_signal")
	m.UpdatePortfolio(9400, 10032, 6, 32, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tradesTotal.WithLabelValues("AAPL", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exitsTotal.WithLabelValues("profit_target")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejectionsTotal.WithLabelValues("weak_signal")))
	assert.Equal(t, 9400.0, testutil.ToFloat64(m.cash))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.openPositions))

	// a second registry does not collide
	assert.NotPanics(t, func() { NewMetrics() })
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTrade("AAPL", "BUY", 1)
		m.RecordExit("manual")
		m.RecordRejection("x")
		m.RecordError("x")
		m.UpdatePortfolio(0, 0, 0, 0, 0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordTrade("NVDA", "BUY", 880)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `risk_engine_trades_total{action="BUY",ticker="NVDA"} 1`)
}

func TestHealthChecker(t *testing.T) {
	now := time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)
	h := NewHealthChecker(time.Minute)
	h.now = func() time.Time { return now }

	assert.Equal(t, "degraded", h.Check().Status, "no tick yet")

	h.RecordTick()
	assert.Equal(t, "healthy", h.Check().Status)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, "degraded", h.Check().Status, "stale tick")

	h.RecordTick()
	open := []string{"state"}
	h.SetOpenCircuitsFunc(func() []string { return open })
	assert.Equal(t, "degraded", h.Check().Status)
	open = nil

	h.RecordError(errors.New("journal write failed"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, []string{"journal write failed"}, body.Errors)

	h.ClearErrors()
	assert.Equal(t, "healthy", h.Check().Status)
}
