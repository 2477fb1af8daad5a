package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/events"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 9} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count, "window keeps the newest samples")
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.InDelta(t, 13.0/3, s.Avg, 1e-9)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TickAccepted("BTCUSDT", 1)
	m.TickDropped()
	m.TradeExecuted("PAPER", "FILLED")
	assert.Zero(t, m.GetSnapshot().TicksAccepted)
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.TickAccepted("BTCUSDT", 101)
	m.TickDropped()
	m.TradeExecuted("PAPER", "FILLED")
	m.AnalysisDone(20*time.Millisecond, 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `metron_ticks_total{outcome="accepted"} 1`)
	assert.Contains(t, body, `metron_trades_total{mode="PAPER",status="FILLED"} 1`)
	assert.Contains(t, body, `metron_signal_score 4`)

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(1), snap.TicksDropped)
	assert.Equal(t, 1, snap.AnalysisLatency.Count)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Notify(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestMonitorForwardsAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	sink := &recordingSink{}
	(&Monitor{Bus: bus, Sink: sink, Logger: zerolog.Nop()}).Start(ctx)

	bus.Publish(events.EventAlert, events.Alert{Level: "WARN", Source: "reconciliation", Message: "order 7 unverifiable"})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.msgs[0], "reconciliation: order 7 unverifiable")
}
