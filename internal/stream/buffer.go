package stream

import "metron-core/internal/market"

// ring holds the most recent closed candles, oldest first.
type ring struct {
	buf   []market.Candle
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]market.Candle, capacity)}
}

func (r *ring) push(c market.Candle) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = c
		r.n++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) last() (market.Candle, bool) {
	if r.n == 0 {
		return market.Candle{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

func (r *ring) len() int { return r.n }

// appendTo copies the contents in order onto dst.
func (r *ring) appendTo(dst []market.Candle) []market.Candle {
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.buf[(r.start+i)%len(r.buf)])
	}
	return dst
}
