// Package devbackend is an in-process stand-in for the portal REST backend. It
// implements the auth endpoints the client relies on and is used for local
// runs and end-to-end tests.
package devbackend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"github.com/takutakahashi/portalgate/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// Config configures a Server
type Config struct {
	// Secret signs tokens. Empty means a random per-process secret.
	Secret        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotateRefresh bool
	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
	Logger     *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Counts reports how often each auth endpoint was called
type Counts struct {
	Login   int64
	Refresh int64
	Me      int64
	Logout  int64
}

// Server is the development backend
type Server struct {
	echo   *echo.Echo
	users  *userStore
	tokens *tokenIssuer
	rotate bool
	logger *slog.Logger

	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	meCalls      atomic.Int64
	logoutCalls  atomic.Int64
}

// New creates a development backend
func New(cfg Config) (*Server, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
	}

	s := &Server{
		echo:   echo.New(),
		users:  newUserStore(cfg.BcryptCost),
		tokens: newTokenIssuer(secret, cfg.AccessTTL, cfg.RefreshTTL, cfg.Now),
		rotate: cfg.RotateRefresh,
		logger: logger.OrDiscard(cfg.Logger),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(io.Discard)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)

	api := e.Group("/api")
	api.POST("/token/", s.handleToken)
	api.POST("/token/refresh/", s.handleRefresh)
	api.POST("/users/register/", s.handleRegister)

	api.GET("/users/me/", s.handleMe, s.requireAccess)
	api.POST("/users/logout/", s.handleLogout, s.requireAccess)
	api.GET("/dashboard/stats/", s.handleStats, s.requireAccess)
}

// Handler returns the HTTP handler, for httptest servers
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.logger.Info("development backend listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Seed adds an account
func (s *Server) Seed(username, password string, role entities.Role) (entities.User, error) {
	if !role.Valid() {
		return entities.User{}, fmt.Errorf("%w: %q", entities.ErrUnknownRole, role)
	}
	return s.users.create(entities.User{Username: username, Role: role}, password)
}

// Users lists the accounts sorted by username
func (s *Server) Users() []entities.User {
	return s.users.list()
}

// Counts returns endpoint call counters
func (s *Server) Counts() Counts {
	return Counts{
		Login:   s.loginCalls.Load(),
		Refresh: s.refreshCalls.Load(),
		Me:      s.meCalls.Load(),
		Logout:  s.logoutCalls.Load(),
	}
}

// ExpireAccess makes every access token issued so far fail with 401, as if
// they had all expired. Refresh tokens stay valid.
func (s *Server) ExpireAccess() {
	s.tokens.expireAccess()
}
