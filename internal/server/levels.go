package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/private-scribe/scribe/internal/logging"
)

const (
	levelWriteWait  = 2 * time.Second
	levelPingPeriod = 20 * time.Second
)

var levelUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// levels streams every Volume Sample as one JSON text message until the
// client disconnects.
func (s *Server) levels(c *gin.Context) {
	conn, err := levelUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnw("server: levels upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	samples, cancel := s.svc.Levels(32)
	defer cancel()

	// reader: only needed to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(levelPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case v, ok := <-samples:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(levelWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				logging.Debugw("server: levels client write failed", "err", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(levelWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
