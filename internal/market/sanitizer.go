package market

import (
	"errors"
	"fmt"
	"time"
)

// MaxFutureSkew is how far ahead of the local clock a tick may be stamped.
const MaxFutureSkew = 5000 * time.Millisecond

// ErrInvalidTick marks ticks the stream must drop.
var ErrInvalidTick = errors.New("invalid tick")

// ValidateTick rejects non-positive prices, negative quantities and
// timestamps more than MaxFutureSkew ahead of now.
func ValidateTick(t Tick, now time.Time) error {
	if !(t.Price > 0) {
		return fmt.Errorf("%w: price %v", ErrInvalidTick, t.Price)
	}
	if t.Qty < 0 {
		return fmt.Errorf("%w: qty %v", ErrInvalidTick, t.Qty)
	}
	if t.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTick)
	}
	if t.Time.After(now.Add(MaxFutureSkew)) {
		return fmt.Errorf("%w: timestamp %d is %s in the future", ErrInvalidTick,
			t.Time.UnixMilli(), t.Time.Sub(now).Truncate(time.Millisecond))
	}
	return nil
}
