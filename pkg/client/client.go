package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"github.com/takutakahashi/portalgate/pkg/logger"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
	"github.com/takutakahashi/portalgate/pkg/utils"
)

// DefaultBaseURL is the backend API root used when none is configured
const DefaultBaseURL = "http://localhost:8000/api"

// Endpoints are the backend auth paths, relative to the base URL
type Endpoints struct {
	Token    string `mapstructure:"token" json:"token"`
	Refresh  string `mapstructure:"refresh" json:"refresh"`
	Me       string `mapstructure:"me" json:"me"`
	Register string `mapstructure:"register" json:"register"`
	Logout   string `mapstructure:"logout" json:"logout"`
}

// DefaultEndpoints returns the Django REST backend paths
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Token:    "/token/",
		Refresh:  "/token/refresh/",
		Me:       "/users/me/",
		Register: "/users/register/",
		Logout:   "/users/logout/",
	}
}

func (e Endpoints) withDefaults() Endpoints {
	d := DefaultEndpoints()
	if e.Token == "" {
		e.Token = d.Token
	}
	if e.Refresh == "" {
		e.Refresh = d.Refresh
	}
	if e.Me == "" {
		e.Me = d.Me
	}
	if e.Register == "" {
		e.Register = d.Register
	}
	if e.Logout == "" {
		e.Logout = d.Logout
	}
	return e
}

// Client talks to the portal backend. Calls other than Login, Refresh and
// Register are signed with the stored access token and renewed on 401.
type Client struct {
	baseURL    string
	endpoints  Endpoints
	store      tokenstore.Store
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
	onExpired  func(error)

	plain  *http.Client
	authed *http.Client
	guard  *Guard
}

// Option configures a Client
type Option func(*Client)

// WithStore sets the token store. Default is an in-memory store.
func WithStore(s tokenstore.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithHTTPClient sets the underlying HTTP client. Its transport becomes the
// base transport below signing and refresh handling.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides backend paths. Empty fields keep their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e.withDefaults() }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.OrDiscard(l) }
}

// WithMetrics sets the refresh counters
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSessionExpiredHook sets the function called when a refresh fails
func WithSessionExpiredHook(fn func(error)) Option {
	return func(c *Client) { c.onExpired = fn }
}

// WithTimeout sets the per-call timeout, including any refresh and resend
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a new portal backend client
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: DefaultEndpoints(),
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = tokenstore.NewMemoryStore()
	}
	if c.httpClient == nil {
		c.httpClient = utils.NewDefaultHTTPClient()
	}
	if c.timeout == 0 {
		c.timeout = c.httpClient.Timeout
	}

	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	c.plain = &http.Client{
		Transport:     base,
		Timeout:       c.timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}

	// Tokens only go to the backend host. An unparsable base URL matches nothing.
	origin, err := url.Parse(c.baseURL)
	if err != nil {
		origin = &url.URL{}
	}

	c.guard = NewGuard(
		&SigningTransport{Base: base, Store: c.store, Origin: origin},
		c.store,
		c.Refresh,
		WithGuardOrigin(origin),
		WithGuardLogger(c.logger),
		WithGuardMetrics(c.metrics),
	)
	c.guard.OnSessionExpired(c.onExpired)

	c.authed = &http.Client{
		Transport:     c.guard,
		Timeout:       c.timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}

	return c
}

// OnSessionExpired replaces the hook called when a refresh fails
func (c *Client) OnSessionExpired(fn func(error)) {
	c.guard.OnSessionExpired(fn)
}

// Store returns the token store the client signs from
func (c *Client) Store() tokenstore.Store {
	return c.store
}

// BaseURL returns the backend API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns an HTTP client whose requests are signed and renewed on 401
func (c *Client) HTTPClient() *http.Client {
	return c.authed
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges a username and password for a credential. The token store
// is not modified.
func (c *Client) Login(ctx context.Context, username, password string) (entities.Credential, error) {
	var tokens tokenResponse
	err := c.call(ctx, c.plain, http.MethodPost, c.endpoints.Token, loginRequest{Username: username, Password: password}, &tokens)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusBadRequest || httpErr.StatusCode == http.StatusUnauthorized) {
			return entities.Credential{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return entities.Credential{}, err
	}

	cred := entities.Credential{AccessToken: tokens.Access, RefreshToken: tokens.Refresh}
	if !cred.Complete() {
		return entities.Credential{}, errors.New("login reply is missing access or refresh token")
	}
	c.logger.Debug("login succeeded", "username", username, "token", logger.Fingerprint(cred.AccessToken))
	return cred, nil
}

// Refresh exchanges a refresh token for a new access token. The returned
// refresh token is empty unless the backend rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (entities.Credential, error) {
	if refreshToken == "" {
		return entities.Credential{}, ErrNoRefreshToken
	}

	var tokens tokenResponse
	if err := c.call(ctx, c.plain, http.MethodPost, c.endpoints.Refresh, map[string]string{"refresh": refreshToken}, &tokens); err != nil {
		return entities.Credential{}, err
	}
	return entities.Credential{AccessToken: tokens.Access, RefreshToken: tokens.Refresh}, nil
}

// Me returns the identity of the signed-in user
func (c *Client) Me(ctx context.Context) (*entities.User, error) {
	var user entities.User
	if err := c.Do(ctx, http.MethodGet, c.endpoints.Me, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RegisterRequest is the payload for creating a portal account
type RegisterRequest struct {
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	Email     string        `json:"email,omitempty"`
	FirstName string        `json:"first_name,omitempty"`
	LastName  string        `json:"last_name,omitempty"`
	Role      entities.Role `json:"user_type"`
}

// Register creates an account. Validation failures come back as *HTTPError
// carrying the backend's field errors in Body.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*entities.User, error) {
	var user entities.User
	if err := c.call(ctx, c.plain, http.MethodPost, c.endpoints.Register, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout asks the backend to revoke the stored refresh token. Backends
// without a logout endpoint (404, 405) count as success. The token store is
// not modified.
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.store.Refresh()
	if refresh == "" {
		return nil
	}

	err := c.Do(ctx, http.MethodPost, c.endpoints.Logout, map[string]string{"refresh": refresh}, nil)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusMethodNotAllowed) {
		return nil
	}
	return err
}

// Do sends a signed JSON request. path is relative to the base URL unless it
// is an absolute http(s) URL. in is encoded as the body when non-nil; out is
// decoded from a non-empty 2xx reply when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	return c.call(ctx, c.authed, method, path, in, out)
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		var data []byte
		switch v := in.(type) {
		case []byte:
			data = v
		case json.RawMessage:
			data = v
		default:
			var err error
			if data, err = json.Marshal(in); err != nil {
				return fmt.Errorf("failed to marshal request: %w", err)
			}
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer utils.DrainAndClose(resp)

	c.logger.Debug("backend call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}
