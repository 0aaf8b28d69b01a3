// Package mockbackend is an in-memory stand-in for the storefront backend:
// HS256 login, view tracking, wishlists, notifications and a websocket feed
// of order events. It is meant for development and end-to-end tests.
package mockbackend

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

const (
	defaultTokenTTL  = 24 * time.Hour
	defaultBodyLimit = "64K"
	shutdownTimeout  = 5 * time.Second
)

// Server is the mock backend.
type Server struct {
	echo   *echo.Echo
	cfg    conf.MockBackendSettings
	secret []byte
	// passwordHash is the bcrypt hash of the configured account password
	passwordHash []byte
	log          logger.Logger
	now          func() time.Time

	state     *state
	hub       *hub
	startTime time.Time

	serveErr chan error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for tokens and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a mock backend from settings.
func New(settings *conf.MockBackendSettings, opts ...Option) (*Server, error) {
	if settings == nil || settings.JWTSecret == "" {
		return nil, errors.Newf("mock backend requires a jwt secret").
			Component("mockbackend").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg := *settings
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	s := &Server{
		cfg:       cfg,
		secret:    []byte(cfg.JWTSecret),
		log:       logger.Global().Module("mockbackend"),
		now:       time.Now,
		state:     newState(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Email != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.MinCost)
		if err != nil {
			return nil, errors.New(err).
				Component("mockbackend").
				Category(errors.CategoryConfiguration).
				Build()
		}
		s.passwordHash = hash
	}
	s.hub = newHub(s.log)

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.log))
	s.echo.Use(echomw.BodyLimit(defaultBodyLimit))

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api")
	api.POST("/auth/login", s.login)

	authed := api.Group("", s.requireAuth)
	authed.POST("/products/:id/view", s.trackView)
	authed.GET("/products/:id/wishlist-count", s.wishlistCount)
	authed.GET("/wishlist/check/:id", s.checkWishlist)
	authed.POST("/wishlist/toggle/:id", s.toggleWishlist)
	authed.POST("/wishlist/:id", s.addWishlist)
	authed.DELETE("/wishlist/:id", s.removeWishlist)
	authed.GET("/notifications", s.listNotifications)
	authed.PUT("/notifications/read-all", s.markAllRead)
	authed.PUT("/notifications/:id/read", s.markRead)
	authed.DELETE("/notifications/:id", s.deleteNotification)
	authed.POST("/orders/:id/status", s.updateOrderStatus)

	s.echo.GET("/ws", s.hub.serve, s.requireAuth)
}

// Handler returns the HTTP handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() (net.Addr, error) {
	addr := s.cfg.Listen
	if addr == "" {
		addr = conf.DefaultMockBackendAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.New(err).
			Component("mockbackend").
			Category(errors.CategoryNetwork).
			Context("listen", addr).
			Build()
	}

	s.serveErr = make(chan error, 1)

	s.echo.Listener = ln
	go func() {
		err := s.echo.Server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()

	s.log.Info("mock backend listening", logger.String("address", ln.Addr().String()))
	return ln.Addr(), nil
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case err := <-s.serveErr:
		return err
	}
	return s.Shutdown()
}

// Shutdown closes websocket clients and stops the HTTP server.
func (s *Server) Shutdown() error {
	s.hub.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("mock backend shutdown failed", logger.Error(err))
		return err
	}
	s.log.Info("mock backend stopped", logger.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// IssueToken signs a token for the mock user, for tests and tooling.
func (s *Server) IssueToken() (string, error) {
	return s.issueToken(mockUserID)
}
