// Package broadcast relays bus events to outside consumers: an in-memory
// latest-value snapshot, Redis and Kafka.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"metron-core/internal/events"
	"metron-core/pkg/cache"
)

// Sink receives every relayed message.
type Sink interface {
	Name() string
	Relay(ctx context.Context, symbol string, msg events.Message) error
	Close() error
}

// Relay subscribes to the bus and forwards each message to its sinks.
type Relay struct {
	bus    *events.Bus
	symbol string
	sinks  []Sink
	buffer int
	logger zerolog.Logger
}

func NewRelay(bus *events.Bus, symbol string, logger zerolog.Logger, sinks ...Sink) *Relay {
	return &Relay{
		bus:    bus,
		symbol: symbol,
		sinks:  sinks,
		buffer: 256,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Run forwards messages until ctx ends, then closes the sinks.
func (r *Relay) Run(ctx context.Context) {
	ch, unsubscribe := r.bus.SubscribeAll(r.buffer)
	defer unsubscribe()
	defer r.close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			for _, s := range r.sinks {
				if err := s.Relay(ctx, r.symbol, msg); err != nil {
					r.logger.Warn().Err(err).Str("sink", s.Name()).Str("event", string(msg.Type)).Msg("relay failed")
				}
			}
		}
	}
}

func (r *Relay) close() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.Warn().Err(err).Str("sink", s.Name()).Msg("close sink")
		}
	}
}

// Latest remembers the most recent message of each event type.
type Latest struct {
	store *cache.Sharded[events.Message]
}

func NewLatest() *Latest {
	return &Latest{store: cache.NewSharded[events.Message]()}
}

func (l *Latest) Name() string { return "latest" }

func (l *Latest) Relay(_ context.Context, symbol string, msg events.Message) error {
	l.store.Set(key(symbol, msg.Type), msg)
	return nil
}

func (l *Latest) Close() error { return nil }

// Get returns the last message of type e for symbol.
func (l *Latest) Get(symbol string, e events.Event) (events.Message, bool) {
	return l.store.Get(key(symbol, e))
}

// Snapshot returns the last message of every type seen for symbol, in
// analysis, trade, alert, tick order.
func (l *Latest) Snapshot(symbol string) []events.Message {
	var out []events.Message
	for _, e := range []events.Event{events.EventAnalysis, events.EventTrade, events.EventAlert, events.EventTick} {
		if msg, ok := l.Get(symbol, e); ok {
			out = append(out, msg)
		}
	}
	return out
}

func key(symbol string, e events.Event) string {
	return symbol + ":" + string(e)
}

// filter limits which events a sink forwards. Empty means all.
type filter map[events.Event]bool

func newFilter(list []events.Event) filter {
	f := make(filter, len(list))
	for _, e := range list {
		f[e] = true
	}
	return f
}

func (f filter) allows(e events.Event) bool {
	return len(f) == 0 || f[e]
}

func encode(msg events.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return b, nil
}
