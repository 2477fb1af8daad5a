package stream

import (
	"fmt"
	"strings"

	"metron-core/internal/events"
	"metron-core/internal/market"
)

// HandleTick validates a tick and folds it into the open candle. Crossing a
// minute boundary closes the open candle, appends it to the buffer and hands
// it to the persistence queue. Rejected ticks return an error wrapping
// market.ErrInvalidTick.
func (e *Engine) HandleTick(t market.Tick) error {
	if t.Symbol == "" {
		t.Symbol = e.cfg.Symbol
	}
	t.Symbol = strings.ToUpper(t.Symbol)
	t.Time = t.Time.UTC()

	if err := e.admit(t); err != nil {
		e.dropped.Add(1)
		e.deps.Metrics.TickDropped()
		e.logger.Debug().Err(err).Float64("price", t.Price).Msg("tick dropped")
		return err
	}

	e.accepted.Add(1)
	e.deps.Metrics.TickAccepted(t.Symbol, t.Price)
	e.deps.Bus.Publish(events.EventTick, t)
	return nil
}

func (e *Engine) admit(t market.Tick) error {
	if t.Symbol != e.cfg.Symbol {
		return fmt.Errorf("%w: symbol %s, engine follows %s", market.ErrInvalidTick, t.Symbol, e.cfg.Symbol)
	}
	if err := market.ValidateTick(t, e.now()); err != nil {
		return err
	}

	minute := market.MinuteOf(t.Time)

	e.bufMu.Lock()
	defer e.bufMu.Unlock()

	if last, ok := e.buf.last(); ok && !minute.After(last.OpenTime) {
		return fmt.Errorf("%w: minute %s already closed", market.ErrInvalidTick, minute.Format("15:04"))
	}

	switch {
	case e.open == nil:
		c := market.NewCandle(t)
		e.open = &c
	case minute.Equal(e.open.OpenTime):
		e.open.Apply(t)
	case minute.Before(e.open.OpenTime):
		return fmt.Errorf("%w: tick for %s behind open minute %s", market.ErrInvalidTick,
			minute.Format("15:04"), e.open.OpenTime.Format("15:04"))
	default:
		closed := *e.open
		e.buf.push(closed)
		e.deps.Queue.Enqueue(closed)
		c := market.NewCandle(t)
		e.open = &c
	}
	e.lastPrice = t.Price
	e.lastTick = t.Time
	return nil
}

// Snapshot copies the buffered closed candles followed by the open candle.
func (e *Engine) Snapshot() []market.Candle {
	e.bufMu.RLock()
	defer e.bufMu.RUnlock()
	out := make([]market.Candle, 0, e.buf.len()+1)
	out = e.buf.appendTo(out)
	if e.open != nil {
		out = append(out, *e.open)
	}
	return out
}
