package api

import (
	"net/http"
	"time"

	"ledger-core/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// websocket streams the caller's own ledger events until either side closes.
func (s *Server) websocket(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if s.Bus == nil {
		respondError(c, http.StatusServiceUnavailable, "BUS_UNAVAILABLE", "event bus not ready")
		return
	}

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	stream, unsub := s.Bus.Subscribe(100, events.LedgerTopics...)
	defer unsub()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away.
	closed := make(chan struct{})
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
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-stream:
			if !ok {
				return
			}
			ev, isEvent := msg.(events.LedgerEvent)
			if !isEvent || ev.UserID != uid {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.Log.Debug().Err(err).Str("user_id", uid).Msg("ws write")
				return
			}
		}
	}
}
