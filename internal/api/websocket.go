package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"metron-core/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams engine events. A new subscriber first receives the
// latest cached message of each type, then live events. ?events=analysis,trade
// narrows the stream.
func (s *Server) websocket(c *gin.Context) {
	filter := parseEventFilter(c.Query("events"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.Engine == nil {
		_ = conn.WriteJSON(gin.H{"error": "engine not ready"})
		return
	}

	stream, unsub := s.Engine.Subscribe(wsBuffer)
	defer unsub()

	if s.Latest != nil {
		for _, msg := range s.Latest.Snapshot(s.symbol) {
			if !filter.allows(msg.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}

	// The read pump only services control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if !filter.allows(msg.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}
}

type eventFilter map[events.Event]bool

func parseEventFilter(raw string) eventFilter {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	f := make(eventFilter)
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(strings.ToLower(part)); name != "" {
			f[events.Event(name)] = true
		}
	}
	return f
}

func (f eventFilter) allows(e events.Event) bool {
	return f == nil || f[e]
}
