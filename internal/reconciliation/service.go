// Package reconciliation rebuilds the executor's position set from the
// ledger at startup, checking REAL orders against the exchange.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/events"
	"metron-core/internal/gateway"
	"metron-core/internal/order"
	"metron-core/pkg/db"
)

// Policy decides what happens to a REAL position the exchange cannot confirm.
// Both policies exclude it from memory.
type Policy string

const (
	PolicyAlert Policy = "alert" // exclude and alert the operator
	PolicyRetry Policy = "retry" // exclude and keep checking in the background
)

// Positions is the executor surface reconciliation drives.
type Positions interface {
	OpenTrades(ctx context.Context) ([]order.Trade, error)
	ReplacePositions(trades []order.Trade)
	Adopt(t order.Trade)
}

// StatusUpdater marks ledger rows closed.
type StatusUpdater interface {
	UpdateTradeStatus(ctx context.Context, orderID, status string) error
}

// OrderLookup is the gateway call used to verify REAL orders.
type OrderLookup interface {
	FetchOrder(ctx context.Context, id, symbol string) (gateway.OrderState, error)
}

// Config tunes the retry policy.
type Config struct {
	Policy      Policy
	RetryBase   time.Duration // first retry delay, doubled per attempt
	RetryMax    time.Duration
	MaxAttempts int
}

// DefaultConfig returns the alert policy with retry defaults filled in.
func DefaultConfig() Config {
	return Config{
		Policy:      PolicyAlert,
		RetryBase:   30 * time.Second,
		RetryMax:    10 * time.Minute,
		MaxAttempts: 10,
	}
}

// Report summarises one SyncPositions run.
type Report struct {
	Timestamp  time.Time `json:"timestamp"`
	Loaded     []string  `json:"loaded"`
	Closed     []string  `json:"closed"`
	Unverified []string  `json:"unverified"`
}

type pendingOrder struct {
	trade    order.Trade
	attempts int
	next     time.Time
}

// Service runs startup reconciliation and, under PolicyRetry, the
// background re-check of unverifiable orders.
type Service struct {
	positions Positions
	ledger    StatusUpdater
	lookup    OrderLookup
	bus       *events.Bus
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingOrder
}

func NewService(positions Positions, ledger StatusUpdater, lookup OrderLookup, bus *events.Bus, cfg Config, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Service{
		positions: positions,
		ledger:    ledger,
		lookup:    lookup,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.With().Str("component", "reconciliation").Logger(),
		now:       time.Now,
		pending:   make(map[string]*pendingOrder),
	}
}

// SyncPositions rebuilds the in-memory position set from the ledger. PAPER
// rows are trusted; REAL rows are kept only when the exchange reports them
// open. Running it twice without new trades yields the same set.
func (s *Service) SyncPositions(ctx context.Context) (Report, error) {
	report := Report{Timestamp: s.now().UTC()}

	trades, err := s.positions.OpenTrades(ctx)
	if err != nil {
		return report, fmt.Errorf("load open trades: %w", err)
	}

	active := make([]order.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Mode == order.ModePaper {
			active = append(active, t)
			report.Loaded = append(report.Loaded, t.OrderID)
			continue
		}

		state, err := s.verify(ctx, t)
		switch {
		case err != nil:
			report.Unverified = append(report.Unverified, t.OrderID)
			s.unverifiable(ctx, t, err)
		case state.Active():
			active = append(active, t)
			report.Loaded = append(report.Loaded, t.OrderID)
		default:
			s.close(ctx, t, state)
			report.Closed = append(report.Closed, t.OrderID)
		}
	}

	s.positions.ReplacePositions(active)
	s.logger.Info().
		Int("loaded", len(report.Loaded)).
		Int("closed", len(report.Closed)).
		Int("unverified", len(report.Unverified)).
		Msg("positions reconciled")
	return report, nil
}

func (s *Service) verify(ctx context.Context, t order.Trade) (gateway.OrderState, error) {
	if t.Mode != order.ModeReal {
		return "", fmt.Errorf("unknown trade mode %q", t.Mode)
	}
	if s.lookup == nil {
		return "", fmt.Errorf("no exchange gateway to verify order")
	}
	return s.lookup.FetchOrder(ctx, t.OrderID, t.Symbol)
}

func (s *Service) close(ctx context.Context, t order.Trade, state gateway.OrderState) {
	if err := s.ledger.UpdateTradeStatus(ctx, t.OrderID, db.TradeStatusClosed); err != nil {
		s.logger.Error().Err(err).Str("order_id", t.OrderID).Msg("could not mark trade closed")
		return
	}
	s.logger.Info().Str("order_id", t.OrderID).Str("exchange_state", string(state)).Msg("trade closed upstream")
}

func (s *Service) unverifiable(ctx context.Context, t order.Trade, cause error) {
	s.logger.Warn().Err(cause).Str("order_id", t.OrderID).Str("policy", string(s.cfg.Policy)).Msg("position unverifiable, excluded")

	switch s.cfg.Policy {
	case PolicyRetry:
		s.mu.Lock()
		if _, ok := s.pending[t.OrderID]; !ok {
			s.pending[t.OrderID] = &pendingOrder{trade: t, next: s.now().Add(s.cfg.RetryBase)}
		}
		s.mu.Unlock()
	default:
		s.alert(fmt.Sprintf("REAL order %s (%s %s) could not be verified and was excluded: %v", t.OrderID, t.Side, t.Symbol, cause))
	}
}

func (s *Service) alert(msg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventAlert, events.Alert{Level: "WARN", Source: "reconciliation", Message: msg})
}

// Pending lists order ids still awaiting verification.
func (s *Service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
	}
	return out
}

// Run re-checks pending orders until ctx is cancelled. It is a no-op
// under PolicyAlert.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if s.cfg.Policy != PolicyRetry {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RetryPending(ctx)
		}
	}
}

// RetryPending checks every pending order whose backoff has elapsed.
func (s *Service) RetryPending(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]*pendingOrder, 0, len(s.pending))
	for _, p := range s.pending {
		if !now.Before(p.next) {
			due = append(due, p)
		}
	}
	s.mu.Unlock()

	for _, p := range due {
		state, err := s.verify(ctx, p.trade)
		if err != nil {
			s.backoff(p, err)
			continue
		}
		if state.Active() {
			s.positions.Adopt(p.trade)
			s.logger.Info().Str("order_id", p.trade.OrderID).Msg("unverified position confirmed open, adopted")
		} else {
			s.close(ctx, p.trade, state)
		}
		s.mu.Lock()
		delete(s.pending, p.trade.OrderID)
		s.mu.Unlock()
	}
}

func (s *Service) backoff(p *pendingOrder, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.attempts++
	if p.attempts >= s.cfg.MaxAttempts {
		delete(s.pending, p.trade.OrderID)
		s.alert(fmt.Sprintf("REAL order %s still unverifiable after %d attempts, giving up: %v", p.trade.OrderID, p.attempts, cause))
		return
	}
	delay := s.cfg.RetryBase << p.attempts
	if delay > s.cfg.RetryMax || delay <= 0 {
		delay = s.cfg.RetryMax
	}
	p.next = s.now().Add(delay)
}
