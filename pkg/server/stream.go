package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/harun/mosaic/pkg/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// handleStream upgrades to a websocket and forwards the session's new
// timeline entries until either side closes. The session does not need to
// exist yet.
func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")
	if err := session.ValidateID(id); err != nil {
		s.fail(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to upgrade stream")
		return
	}

	s.streams.Add(1)
	defer s.streams.Done()

	logger := tracing.LoggerFromContext(tracing.WithSessionID(c.Request.Context(), id), s.logger)
	sub := s.hub.Subscribe(id)
	defer s.hub.Unsubscribe(sub)
	defer conn.Close()

	logger.Info().Str("subscriber", sub.ID).Msg("Stream opened")

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("Stream read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			logger.Info().Str("subscriber", sub.ID).Msg("Stream closed by shutdown")
			return

		case <-closed:
			logger.Info().Str("subscriber", sub.ID).Msg("Stream closed by client")
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn().Err(err).Int64("seq", ev.Seq).Msg("Failed to write stream event")
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
