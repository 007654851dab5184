package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"telechat/logger"
	"telechat/module/identity"
	"telechat/tools/ids"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS runs one connection's full lifecycle:
// connecting -> authenticating -> active -> closed.
//
// The token and claimed class arrive as query parameters, e.g.
// ws://host/ws/chat?token=...&class=patient. Authentication failure sends a
// single error frame and closes; the identity never reaches the registry.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	token := c.Query("token")
	claimed := c.Query("class")
	identityID, class, err := s.resolver.ResolveWithClaimedClass(token, claimed)
	if err != nil {
		writeRaw(ws, BuildError("authentication failed"))
		_ = ws.Close()
		return
	}

	ctx := c.Request.Context()
	name := s.names.DisplayName(ctx, identity.Ref{ID: identityID, Class: class})

	connID := ids.GenerateString()
	conn := s.conns.Register(identityID, class, name, connID, ws)
	s.conns.AttachPongHandler(ws, identityID, connID)

	// periodic pings solicit the pongs that renew the idle deadline; a quiet
	// but healthy connection stays registered
	stopPing := make(chan struct{})
	go s.pingLoop(ws, stopPing)

	if s.presence != nil {
		_ = s.presence.MarkOnline(ctx, identityID)
	}

	if werr := conn.WriteJSON(BuildWelcome(identityID, class)); werr != nil {
		logger.Infof("[ws] welcome write failed identity=%s err=%v", identityID, werr)
	}

	logger.Infof("[ws] active identity=%s class=%s conn=%s", identityID, class, connID)

	// read loop: one goroutine per connection, frames strictly in arrival
	// order. Only the loop blocks; fan-out is in-memory lookups.
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed identity=%s err=%v", identityID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout identity=%s err=%v", identityID, rerr)
			} else {
				logger.Infof("[ws] read error identity=%s err=%v", identityID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frameType, payload, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame identity=%s err=%v sample=%q", identityID, perr, sample)
			if werr := conn.WriteJSON(BuildError("invalid message format")); werr != nil {
				logger.Infof("[ws] error frame write failed identity=%s err=%v", identityID, werr)
			}
			continue
		}

		s.conns.RefreshHeartbeat(identityID, connID)
		s.disp.Dispatch(s, conn, frameType, payload)
	}

	// closed: drop the registry entry (guarded by connID so a replaced
	// connection closing late cannot evict its successor) and record
	// last-seen.
	close(stopPing)
	s.conns.Unregister(identityID, connID)
	if s.presence != nil {
		offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.presence.MarkOffline(offCtx, identityID)
		cancel()
	}
	_ = ws.Close()
	logger.Infof("[ws] closed identity=%s conn=%s", identityID, connID)
}

// pingLoop sends ping control frames until stop closes or the socket dies.
// WriteControl is safe to call concurrently with the data writes.
func (s *Server) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(s.conns.conf.PingEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// writeRaw sends one frame on a socket that never made it into the registry.
func writeRaw(ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = ws.WriteMessage(websocket.TextMessage, data)
}
