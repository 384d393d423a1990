// Package gateway streams broker events to authenticated dashboard clients
// over websocket connections.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nybot/internal/broker"
	"nybot/internal/session"
	logx "nybot/pkg/logx"
)

const (
	// CloseUnauthorized is sent right after the upgrade when the session is missing or invalid.
	CloseUnauthorized = 4401

	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	maxMessageSize = 512 // clients only send control frames
)

var ErrMissingDeps = errors.New("gateway: broker and session codec are required")

type Options struct {
	Broker     *broker.Broker
	Codec      *session.Codec
	AdminLogin string

	PingInterval time.Duration
	WriteTimeout time.Duration
	// MaxConnections bounds concurrent streams. 0 means unlimited.
	MaxConnections int
	// CheckOrigin is passed to the upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	Logger logx.Logger
	Now    func() time.Time
}

// Gateway is an http.Handler for the /ws route.
type Gateway struct {
	opt      Options
	log      logx.Logger
	upgrader websocket.Upgrader
	active   atomic.Int64
}

func New(opt Options) (*Gateway, error) {
	if opt.Broker == nil || opt.Codec == nil {
		return nil, ErrMissingDeps
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = DefaultPingInterval
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	check := opt.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Gateway{
		opt: opt,
		log: opt.Logger.With(logx.String("comp", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     check,
		},
	}, nil
}

// Active reports the number of streaming connections.
func (g *Gateway) Active() int { return int(g.active.Load()) }

// authenticate returns the login carried by a valid session cookie for the admin.
func (g *Gateway) authenticate(r *http.Request) (string, bool) {
	c, err := r.Cookie(session.CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	login, ok := g.opt.Codec.Verify(c.Value, g.opt.Now())
	if !ok || login != g.opt.AdminLogin {
		return "", false
	}
	return login, true
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		g.log.Debug("websocket upgrade failed", logx.String("remote_addr", r.RemoteAddr), logx.Err(err))
		return
	}
	c := &connection{
		id:   uuid.NewString(),
		conn: conn,
		gw:   g,
	}
	c.log = g.log.With(logx.String("conn", c.id), logx.String("remote_addr", r.RemoteAddr))

	login, ok := g.authenticate(r)
	if !ok {
		c.log.Info("websocket rejected: unauthorized")
		c.closeWith(CloseUnauthorized, "unauthorized")
		return
	}

	n := g.active.Add(1)
	defer g.active.Add(-1)
	if limit := g.opt.MaxConnections; limit > 0 && n > int64(limit) {
		c.log.Warn("max websocket connections reached, rejecting", logx.Int64("current", n-1), logx.Int("max", limit))
		c.closeWith(websocket.CloseTryAgainLater, "too many connections")
		return
	}

	c.log.Info("websocket connected", logx.String("login", login))
	c.stream()
}

type connection struct {
	id   string
	conn *websocket.Conn
	gw   *Gateway
	log  logx.Logger
}

func (c *connection) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.gw.opt.WriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

// stream runs until the peer goes away, a write fails or the subscription ends.
// Events come from Subscription.Next, so nothing buffered before an
// unsubscribe is written afterwards.
func (c *connection) stream() {
	b := c.gw.opt.Broker
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	gone := make(chan struct{})
	go func() {
		defer cancel()
		c.readPump(gone)
	}()
	go c.pingLoop(ctx)

	defer func() {
		cancel()
		_ = c.conn.Close()
		<-gone
		c.log.Info("websocket disconnected")
	}()

	for {
		e, ok := sub.Next(ctx)
		if !ok {
			if ctx.Err() == nil {
				c.closeWith(websocket.CloseGoingAway, "server shutting down")
			}
			return
		}
		msg, err := json.Marshal(e)
		if err != nil {
			c.log.Warn("event encode failed", logx.String("type", string(e.Kind())), logx.Err(err))
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.gw.opt.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug("websocket write failed", logx.Err(err))
			return
		}
	}
}

// pingLoop keeps the peer's read deadline alive. WriteControl may run
// concurrently with the event writer.
func (c *connection) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.gw.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.gw.opt.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("websocket ping failed", logx.Err(err))
				_ = c.conn.Close()
				return
			}
		}
	}
}

// readPump drains client frames so control frames are processed. A peer that
// misses two ping intervals is considered dead.
func (c *connection) readPump(gone chan<- struct{}) {
	defer close(gone)
	pongWait := 2 * c.gw.opt.PingInterval
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket read error", logx.Err(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
