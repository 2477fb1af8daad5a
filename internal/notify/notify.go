// Package notify delivers signal alerts to chat channels. Alerts are sent
// only when the verdict changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is one formatted alert.
type Message struct {
	Title     string
	Body      string
	Symbol    string
	Price     float64
	Verdict   string
	Timestamp time.Time
}

// Channel is one delivery provider.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Notifier fans alerts out to every channel and suppresses repeats of the
// last verdict.
type Notifier struct {
	channels []Channel
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	lastVerdict string
}

func NewNotifier(logger zerolog.Logger, channels ...Channel) *Notifier {
	return &Notifier{
		channels: channels,
		logger:   logger.With().Str("component", "notify").Logger(),
		now:      time.Now,
	}
}

// Channels returns the configured channel names.
func (n *Notifier) Channels() []string {
	out := make([]string, 0, len(n.channels))
	for _, c := range n.channels {
		out = append(out, c.Name())
	}
	return out
}

// SendAlert sends a signal alert when verdict differs from the previous one.
// It reports whether an alert was emitted.
func (n *Notifier) SendAlert(ctx context.Context, verdict, symbol string, price float64, details string) (bool, error) {
	n.mu.Lock()
	if verdict == n.lastVerdict {
		n.mu.Unlock()
		return false, nil
	}
	prev := n.lastVerdict
	n.lastVerdict = verdict
	n.mu.Unlock()

	n.logger.Info().Str("from", prev).Str("to", verdict).Msg("signal changed, sending alert")

	msg := Message{
		Title:     "METRON SIGNAL ALERT",
		Symbol:    symbol,
		Price:     price,
		Verdict:   verdict,
		Timestamp: n.now().UTC(),
	}
	msg.Body = fmt.Sprintf("Symbol: %s\nVerdict: %s\nPrice: $%.2f\nTime: %s",
		symbol, verdict, price, msg.Timestamp.Format("2006-01-02 15:04:05"))
	if details != "" {
		msg.Body += "\nNote: " + details
	}
	return true, n.broadcast(ctx, msg)
}

// Notify sends a free-form operator message, without de-duplication.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	return n.broadcast(ctx, Message{Title: "METRON OPERATOR ALERT", Body: text, Timestamp: n.now().UTC()})
}

// Reset forgets the last verdict so the next alert is always sent.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.lastVerdict = ""
	n.mu.Unlock()
}

func (n *Notifier) broadcast(ctx context.Context, msg Message) error {
	if len(n.channels) == 0 {
		n.logger.Info().Str("title", msg.Title).Msg("no alert channels configured")
		return nil
	}
	var errs []error
	for _, c := range n.channels {
		if err := c.Send(ctx, msg); err != nil {
			n.logger.Error().Err(err).Str("channel", c.Name()).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		n.logger.Debug().Str("channel", c.Name()).Msg("alert sent")
	}
	return errors.Join(errs...)
}
