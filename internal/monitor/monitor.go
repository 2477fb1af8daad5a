package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/events"
)

// Monitor forwards operator alerts from the bus to an AlertSink.
type Monitor struct {
	Bus    *events.Bus
	Sink   AlertSink
	Logger zerolog.Logger
}

// Start consumes alerts until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Logger.Info().Msg("monitor not fully configured; alerts are only logged")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := m.Sink.Notify(sendCtx, formatAlert(msg)); err != nil {
					m.Logger.Warn().Err(err).Msg("alert delivery failed")
				}
				cancel()
			}
		}
	}()
}

func formatAlert(msg events.Message) string {
	return "[" + msg.Time.Format(time.RFC3339) + "] " + toString(msg.Data)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case events.Alert:
		return fmt.Sprintf("%s %s: %s", t.Level, t.Source, t.Message)
	default:
		return "alert triggered"
	}
}
