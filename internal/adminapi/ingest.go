package adminapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"nybot/internal/events"
	logx "nybot/pkg/logx"
)

const maxEventBody = 1 << 20

// ingest accepts one event from the bot and publishes it unchanged.
// The reply does not wait for delivery.
func (s *Server) ingest(c *gin.Context) {
	if !equalSecret(c.GetHeader(events.SecretHeader), s.opt.Secret) {
		abortWith(c, ErrUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		abortWith(c, ErrInvalidEvent)
		return
	}
	ev, err := events.Decode(body)
	if err != nil {
		s.log.Debug("event rejected", logx.Err(err))
		abortWith(c, ErrInvalidEvent)
		return
	}
	rep := s.broker.Publish(ev)
	s.log.Debug("event published",
		logx.String("type", string(ev.Kind())),
		logx.Int("delivered", rep.Delivered),
		logx.Int("dropped", rep.Dropped),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
