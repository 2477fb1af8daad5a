package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/events"
	"metron-core/internal/gateway"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/pkg/db"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store    *db.Database
	gw       *gateway.Mock
	executor *order.Executor
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gw := gateway.NewMock(100, nil)
	return &fixture{
		store:    store,
		gw:       gw,
		executor: order.NewExecutor(store, gw, order.Config{}, nil, zerolog.Nop()),
		bus:      events.NewBus(),
	}
}

func (f *fixture) service(cfg Config) *Service {
	s := NewService(f.executor, f.store, f.gw, f.bus, cfg, zerolog.Nop())
	s.now = func() time.Time { return t0 }
	return s
}

func (f *fixture) seed(t *testing.T, id string, mode order.Mode, status order.Status) {
	t.Helper()
	tr := order.Trade{
		OrderID: id, Symbol: "BTCUSDT", Side: market.SideBuy, Price: 100, Amount: 1,
		Status: status, Mode: mode, Exchange: "binance", Timestamp: t0,
	}
	require.NoError(t, f.store.SaveTrade(context.Background(), tr.Row()))
}

func ids(trades []order.Trade) []string {
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.OrderID)
	}
	return out
}

func TestClosedUpstreamIsMarkedClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "real-1", order.ModeReal, order.StatusOpen)
	f.gw.SetOrder("real-1", gateway.OrderClosed)

	report, err := f.service(DefaultConfig()).SyncPositions(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"real-1"}, report.Closed)
	assert.Empty(t, f.executor.Positions())

	open, err := f.store.GetOpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "ledger row moved to CLOSED")
}

func TestPaperTrustedAndOpenRealKept(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "paper-1", order.ModePaper, order.StatusFilled)
	f.seed(t, "real-open", order.ModeReal, order.StatusOpen)
	f.gw.SetOrder("real-open", gateway.OrderOpen)

	report, err := f.service(DefaultConfig()).SyncPositions(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"paper-1", "real-open"}, report.Loaded)
	assert.ElementsMatch(t, []string{"paper-1", "real-open"}, ids(f.executor.Positions()))
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "paper-1", order.ModePaper, order.StatusFilled)
	f.seed(t, "real-open", order.ModeReal, order.StatusOpen)
	f.seed(t, "real-closed", order.ModeReal, order.StatusFilled)
	f.seed(t, "real-ghost", order.ModeReal, order.StatusOpen)
	f.gw.SetOrder("real-open", gateway.OrderOpen)
	f.gw.SetOrder("real-closed", gateway.OrderClosed)

	svc := f.service(DefaultConfig())
	_, err := svc.SyncPositions(context.Background())
	require.NoError(t, err)
	first := ids(f.executor.Positions())

	_, err = svc.SyncPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, ids(f.executor.Positions()))
	assert.ElementsMatch(t, []string{"paper-1", "real-open"}, first)
}

func TestUnverifiableAlertsOperator(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "real-ghost", order.ModeReal, order.StatusOpen)
	alerts, unsub := f.bus.Subscribe(events.EventAlert, 4)
	defer unsub()

	report, err := f.service(DefaultConfig()).SyncPositions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"real-ghost"}, report.Unverified)
	assert.Empty(t, f.executor.Positions(), "unverifiable position never tradable")

	require.Len(t, alerts, 1)
	alert := (<-alerts).Data.(events.Alert)
	assert.Contains(t, alert.Message, "real-ghost")

	open, _ := f.store.GetOpenTrades(context.Background())
	assert.Len(t, open, 1, "ledger left untouched")
}

func TestRetryPolicyAdoptsOnceVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "real-late", order.ModeReal, order.StatusOpen)
	f.gw.FetchErr = errors.New("timeout")

	cfg := Config{Policy: PolicyRetry, RetryBase: time.Minute, RetryMax: time.Hour, MaxAttempts: 3}
	svc := f.service(cfg)
	_, err := svc.SyncPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"real-late"}, svc.Pending())

	svc.RetryPending(ctx)
	assert.Len(t, svc.Pending(), 1, "backoff not elapsed")

	svc.now = func() time.Time { return t0.Add(2 * time.Minute) }
	f.gw.FetchErr = nil
	f.gw.SetOrder("real-late", gateway.OrderOpen)
	svc.RetryPending(ctx)

	assert.Empty(t, svc.Pending())
	assert.Equal(t, []string{"real-late"}, ids(f.executor.Positions()))
}

func TestRetryPolicyGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "real-lost", order.ModeReal, order.StatusOpen)
	alerts, unsub := f.bus.Subscribe(events.EventAlert, 4)
	defer unsub()

	svc := f.service(Config{Policy: PolicyRetry, RetryBase: time.Second, RetryMax: time.Second, MaxAttempts: 2})
	_, err := svc.SyncPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 0, "retry policy does not alert up front")

	clock := t0
	for i := 0; i < 2; i++ {
		clock = clock.Add(time.Hour)
		now := clock
		svc.now = func() time.Time { return now }
		svc.RetryPending(ctx)
	}
	assert.Empty(t, svc.Pending())
	assert.Len(t, alerts, 1)
}
