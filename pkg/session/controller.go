// Package session owns the signed-in identity of a portal client.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"github.com/takutakahashi/portalgate/pkg/logger"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
)

// ErrMissingCredentials is returned by Login when the username or password is empty
var ErrMissingCredentials = errors.New("username and password are required")

const (
	DefaultLandingRoute = "/dashboard"
	DefaultLoginRoute   = "/login"
)

// Backend is the subset of the portal API the controller needs
type Backend interface {
	Login(ctx context.Context, username, password string) (entities.Credential, error)
	Me(ctx context.Context) (*entities.User, error)
	Logout(ctx context.Context) error
}

// Navigator receives navigation signals
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(path string)

// Navigate calls f(path)
func (f NavigatorFunc) Navigate(path string) { f(path) }

type subscriber struct {
	id uint64
	fn func(State)
}

// Controller drives the session state machine:
// Initializing to Authenticated or Anonymous, Authenticated to Anonymous on
// logout or expiry, Anonymous to Authenticated on login.
type Controller struct {
	backend      Backend
	store        tokenstore.Store
	navigator    Navigator
	logger       *slog.Logger
	landingRoute string
	loginRoute   string

	mu         sync.Mutex
	state      State
	loggingOut bool

	subMu  sync.Mutex
	subs   []subscriber
	nextID uint64
}

// Option configures a Controller
type Option func(*Controller)

// WithNavigator sets where navigation signals go
func WithNavigator(n Navigator) Option {
	return func(c *Controller) { c.navigator = n }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger.OrDiscard(l) }
}

// WithLandingRoute sets the route opened after login
func WithLandingRoute(path string) Option {
	return func(c *Controller) { c.landingRoute = path }
}

// WithLoginRoute sets the route opened after logout
func WithLoginRoute(path string) Option {
	return func(c *Controller) { c.loginRoute = path }
}

// NewController creates a controller in the Initializing state
func NewController(backend Backend, store tokenstore.Store, opts ...Option) *Controller {
	c := &Controller{
		backend:      backend,
		store:        store,
		navigator:    NavigatorFunc(func(string) {}),
		logger:       logger.Discard(),
		landingRoute: DefaultLandingRoute,
		loginRoute:   DefaultLoginRoute,
		state:        State{Status: StatusInitializing, Loading: LoadingInitializing},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current session
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// CurrentUser returns a copy of the signed-in user or nil
func (c *Controller) CurrentUser() *entities.User {
	return c.State().User
}

// Ready reports whether the session check has finished
func (c *Controller) Ready() bool {
	return c.State().Ready()
}

// Subscribe registers fn to be called after every transition. Calls happen
// outside the controller lock in subscription order. The returned function
// removes the subscription.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// CheckSession resolves the stored credential into an identity. It always
// leaves the session Ready. A failed identity fetch clears the stored tokens
// and is returned.
func (c *Controller) CheckSession(ctx context.Context) (State, error) {
	if c.store.Access() == "" {
		return c.transition(StatusAnonymous, nil), nil
	}

	user, err := c.backend.Me(ctx)
	if err == nil {
		if user == nil {
			err = errors.New("backend returned no user")
		} else {
			err = user.Validate()
		}
	}
	if err != nil {
		if clearErr := c.store.Clear(); clearErr != nil {
			c.logger.Error("failed to clear tokens", "error", clearErr)
		}
		c.logger.Info("stored session is no longer valid", "error", err)
		return c.transition(StatusAnonymous, nil), fmt.Errorf("failed to fetch current user: %w", err)
	}

	return c.transition(StatusAuthenticated, user), nil
}

// Login authenticates, stores the issued tokens, loads the identity and
// navigates to the landing route. On failure the error is returned unchanged
// and no retry is attempted; a session that was not signed in ends Anonymous.
func (c *Controller) Login(ctx context.Context, username, password string) (*entities.User, error) {
	if username == "" || password == "" {
		c.settleAnonymous()
		return nil, ErrMissingCredentials
	}

	cred, err := c.backend.Login(ctx, username, password)
	if err != nil {
		c.logger.Info("login failed", "username", username, "error", err)
		c.settleAnonymous()
		return nil, err
	}

	if err := c.store.Save(cred.AccessToken, cred.RefreshToken); err != nil {
		c.settleAnonymous()
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	state, err := c.CheckSession(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("logged in", "username", state.User.Username, "role", state.User.Role)
	c.navigator.Navigate(c.landingRoute)
	return state.User, nil
}

// Logout revokes the session on the backend when possible, clears the stored
// tokens and navigates to the login route. Backend errors are logged only.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	c.loggingOut = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loggingOut = false
		c.mu.Unlock()
	}()

	if c.store.Access() != "" {
		if err := c.backend.Logout(ctx); err != nil {
			c.logger.Warn("backend logout failed", "error", err)
		}
	}

	c.end()
}

// Expire ends the session after the refresh token was rejected
func (c *Controller) Expire(err error) {
	c.logger.Warn("session expired", "error", err)

	c.mu.Lock()
	loggingOut := c.loggingOut
	c.mu.Unlock()
	if loggingOut {
		// Logout finishes the teardown.
		return
	}

	c.end()
}

func (c *Controller) end() {
	if err := c.store.Clear(); err != nil {
		c.logger.Error("failed to clear tokens", "error", err)
	}
	c.transition(StatusAnonymous, nil)
	c.navigator.Navigate(c.loginRoute)
}

// settleAnonymous moves a session that is not signed in to Anonymous/Ready.
// A signed-in session keeps its state and tokens.
func (c *Controller) settleAnonymous() {
	c.mu.Lock()
	authenticated := c.state.Status == StatusAuthenticated
	c.mu.Unlock()
	if authenticated {
		return
	}
	c.transition(StatusAnonymous, nil)
}

func (c *Controller) transition(status Status, user *entities.User) State {
	c.mu.Lock()
	prev := c.state.Status
	c.state = State{Status: status, Loading: LoadingReady, User: user.Clone()}
	snapshot := c.state.clone()
	c.mu.Unlock()

	if prev != status {
		c.logger.Debug("session transition", "from", prev, "to", status)
	}
	c.notify(snapshot)
	return snapshot
}

func (c *Controller) notify(s State) {
	c.subMu.Lock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(s.clone())
	}
}
