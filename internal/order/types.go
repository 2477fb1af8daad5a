package order

import (
	"time"

	"metron-core/internal/analysis"
	"metron-core/internal/market"
	"metron-core/internal/strategy"
	"metron-core/pkg/db"
)

// Mode tells whether a trade reached the exchange.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeReal  Mode = "REAL"
)

// Status is the ledger lifecycle of a trade.
type Status string

const (
	StatusOpen   Status = db.TradeStatusOpen
	StatusFilled Status = db.TradeStatusFilled
	StatusClosed Status = db.TradeStatusClosed
	StatusFailed Status = db.TradeStatusFailed
)

// Trade is one executed (or attempted) order. OrderID is unique and all
// ledger writes are keyed on it.
type Trade struct {
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      market.Side `json:"side"`
	Price     float64     `json:"price"`
	Amount    float64     `json:"amount"`
	Notional  float64     `json:"notional"`
	Status    Status      `json:"status"`
	Strategy  string      `json:"strategy"`
	Mode      Mode        `json:"mode"`
	Exchange  string      `json:"exchange"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Active reports OPEN or FILLED, the statuses held as positions.
func (t Trade) Active() bool {
	return t.Status == StatusOpen || t.Status == StatusFilled
}

// Row converts to the ledger model.
func (t Trade) Row() db.Trade {
	return db.Trade{
		OrderID:   t.OrderID,
		Symbol:    t.Symbol,
		Side:      string(t.Side),
		Price:     t.Price,
		Amount:    t.Amount,
		Notional:  t.Notional,
		Status:    string(t.Status),
		Strategy:  t.Strategy,
		Mode:      string(t.Mode),
		Exchange:  t.Exchange,
		Error:     t.Error,
		Timestamp: t.Timestamp,
	}
}

// FromRow converts a ledger row.
func FromRow(r db.Trade) Trade {
	return Trade{
		OrderID:   r.OrderID,
		Symbol:    r.Symbol,
		Side:      market.Side(r.Side),
		Price:     r.Price,
		Amount:    r.Amount,
		Notional:  r.Notional,
		Status:    Status(r.Status),
		Strategy:  r.Strategy,
		Mode:      Mode(r.Mode),
		Exchange:  r.Exchange,
		Error:     r.Error,
		Timestamp: r.Timestamp.UTC(),
	}
}

// Request is one execution intent derived from a decision.
type Request struct {
	Decision strategy.Decision
	Symbol   string
	Price    float64
	// Side defaults to the direction of Decision.Verdict.
	Side market.Side
}

// Result is what Execute returns. Degraded means the trade happened but
// its ledger write did not; durable and memory state may disagree.
type Result struct {
	Trade    Trade `json:"trade"`
	Degraded bool  `json:"degraded"`
}

// SideFor maps a verdict onto an order side. NEUTRAL has no side.
func SideFor(v analysis.Verdict) (market.Side, bool) {
	switch {
	case v.IsBuy():
		return market.SideBuy, true
	case v.IsSell():
		return market.SideSell, true
	}
	return "", false
}
