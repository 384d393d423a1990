// Package adminapi serves the admin dashboard backend: session auth, read-only
// views over the bot database, the event ingestion endpoint and the /ws stream.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nybot/internal/broker"
	"nybot/internal/gateway"
	"nybot/internal/session"
	"nybot/internal/storage"
	logx "nybot/pkg/logx"
)

type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	CORSOrigins       []string
	// TrustedProxies lists proxies whose X-Forwarded-For is honoured. Empty
	// means the peer address is the client IP.
	TrustedProxies []string

	Secret          string
	AdminLogin      string
	AdminPassword   string
	CookieSecure    bool
	LoginRatePerMin int

	Broker *broker.Broker
	// Store may be nil; reads then answer 503 and /health reports db "not_ready".
	Store storage.Reader

	Gateway gateway.Options

	Logger logx.Logger
	Now    func() time.Time
}

type Server struct {
	opt     Options
	log     logx.Logger
	codec   *session.Codec
	broker  *broker.Broker
	store   storage.Reader
	gw      *gateway.Gateway
	limiter *ipLimiter
	engine  *gin.Engine
	http    *http.Server
}

func New(opt Options) (*Server, error) {
	if opt.Broker == nil {
		return nil, errors.New("adminapi: broker is required")
	}
	codec, err := session.NewCodec(opt.Secret)
	if err != nil {
		return nil, fmt.Errorf("adminapi: %w", err)
	}
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.ReadHeaderTimeout <= 0 {
		opt.ReadHeaderTimeout = 10 * time.Second
	}

	gwOpt := opt.Gateway
	gwOpt.Broker = opt.Broker
	gwOpt.Codec = codec
	gwOpt.AdminLogin = opt.AdminLogin
	gwOpt.Now = opt.Now
	if gwOpt.Logger.IsZero() {
		gwOpt.Logger = opt.Logger
	}
	if gwOpt.CheckOrigin == nil {
		gwOpt.CheckOrigin = originChecker(opt.CORSOrigins)
	}
	gw, err := gateway.New(gwOpt)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opt:     opt,
		log:     opt.Logger.With(logx.String("comp", "adminapi")),
		codec:   codec,
		broker:  opt.Broker,
		store:   opt.Store,
		gw:      gw,
		limiter: newIPLimiter(opt.LoginRatePerMin, opt.Now),
	}
	if s.engine, err = s.routes(); err != nil {
		return nil, err
	}
	s.http = &http.Server{
		Addr:              opt.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: opt.ReadHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes() (*gin.Engine, error) {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if err := r.SetTrustedProxies(s.opt.TrustedProxies); err != nil {
		return nil, fmt.Errorf("adminapi: trusted proxies: %w", err)
	}
	r.Use(recovery(s.log), requestID(), cors(s.opt.CORSOrigins), requestLog(s.log))

	r.GET("/health", s.health)
	r.GET("/ws", gin.WrapH(s.gw))

	api := r.Group("/api")
	api.POST("/internal/events", s.ingest)

	auth := api.Group("/auth")
	auth.POST("/login", s.limiter.middleware(), s.login)
	auth.POST("/logout", s.logout)
	auth.GET("/me", s.requireSession(), s.me)

	reads := api.Group("", s.requireSession())
	reads.GET("/users", s.listUsers)
	reads.GET("/users/:tg_user_id", s.userDetails)
	reads.GET("/greetings", s.listGreetings)
	reads.GET("/messages", s.listMessages)
	reads.GET("/stats", s.stats)
	return r, nil
}

// originChecker admits websocket upgrades from the serving host and the
// configured dashboard origins. Requests without Origin are not from browsers.
func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(origins, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Handler exposes the router (tests, embedding).
func (s *Server) Handler() http.Handler { return s.engine }

// Gateway returns the /ws handler.
func (s *Server) Gateway() *gateway.Gateway { return s.gw }

// Serve listens on Addr until ctx is done, then shuts down within shutdownTimeout.
// Hijacked websocket connections are not tracked by Shutdown; close the broker to end them.
func (s *Server) Serve(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("adminapi: listen %s: %w", s.http.Addr, err)
	}
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return fmt.Errorf("adminapi: shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
