package events

import "time"

// Event enumerates the topics fanned out by the core.
type Event string

const (
	EventTick     Event = "tick"
	EventAnalysis Event = "analysis"
	EventTrade    Event = "trade"
	// EventAlert carries operator-facing warnings such as degraded ledger
	// writes or unverifiable positions.
	EventAlert Event = "alert"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Type Event     `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Alert is the payload of EventAlert.
type Alert struct {
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}
