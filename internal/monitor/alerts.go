package monitor

import "context"

// AlertSink delivers free-form operator messages.
type AlertSink interface {
	Notify(ctx context.Context, message string) error
}
