package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"github.com/takutakahashi/portalgate/pkg/logger"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
	"github.com/takutakahashi/portalgate/pkg/utils"
	"golang.org/x/sync/singleflight"
)

// GuardState is the refresh state of a single request passing through a Guard
type GuardState int

const (
	GuardNormal GuardState = iota
	GuardRefreshInFlight
	GuardFailed
)

func (s GuardState) String() string {
	switch s {
	case GuardNormal:
		return "normal"
	case GuardRefreshInFlight:
		return "refresh_in_flight"
	case GuardFailed:
		return "failed"
	default:
		return fmt.Sprintf("GuardState(%d)", int(s))
	}
}

// RefreshFunc exchanges a refresh token for a new credential. The returned
// refresh token may be empty when the backend does not rotate it.
type RefreshFunc func(ctx context.Context, refreshToken string) (entities.Credential, error)

type retriedKey struct{}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

const refreshKey = "refresh"

// Guard renews the access token when the backend answers 401 and resends the
// request once. Concurrent 401s share a single refresh exchange.
type Guard struct {
	next      http.RoundTripper
	store     tokenstore.Store
	refresh   RefreshFunc
	origin    *url.URL
	logger    *slog.Logger
	metrics   *Metrics
	onExpired atomic.Pointer[func(error)]
	group     singleflight.Group
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithGuardLogger sets the guard logger
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger.OrDiscard(l) }
}

// WithGuardMetrics sets the guard counters
func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithGuardOrigin limits refreshes to 401s from the backend at origin.
// Replies from other hosts pass through unchanged.
func WithGuardOrigin(origin *url.URL) GuardOption {
	return func(g *Guard) { g.origin = origin }
}

// NewGuard wraps next, which is expected to sign requests from store
func NewGuard(next http.RoundTripper, store tokenstore.Store, refresh RefreshFunc, opts ...GuardOption) *Guard {
	g := &Guard{
		next:    next,
		store:   store,
		refresh: refresh,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnSessionExpired sets the hook called once for every failed refresh, after
// the store has been cleared
func (g *Guard) OnSessionExpired(fn func(error)) {
	if fn == nil {
		g.onExpired.Store(nil)
		return
	}
	g.onExpired.Store(&fn)
}

// RoundTrip implements http.RoundTripper
func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	if isRetried(req.Context()) || !sameOrigin(g.origin, req.URL) {
		return g.next.RoundTrip(req)
	}

	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	stored := g.store.Access()
	resp, err := g.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	sent := resp.Request
	if sent == nil {
		sent = req
	}
	sentWith := bearerToken(sent)
	current := g.store.Access()
	log := g.logger.With("method", req.Method, "url", req.URL.String(), "request_id", sent.Header.Get(headerRequestID))

	switch {
	case current == "" && stored == "":
		// Nothing was stored when the request went out, so there is no
		// session to renew. A caller-supplied Authorization header is the
		// caller's business.
		return resp, nil

	case current == "":
		utils.DrainAndClose(resp)
		log.Debug("session already ended while request was in flight")
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, ErrNoRefreshToken)

	case current != sentWith:
		utils.DrainAndClose(resp)
		log.Debug("access token changed since request was signed, resending", "token", logger.Fingerprint(current))
		return g.resend(req)
	}

	utils.DrainAndClose(resp)
	log.Debug("guard state", "from", GuardNormal, "to", GuardRefreshInFlight)

	ch := g.group.DoChan(refreshKey, func() (interface{}, error) {
		return nil, g.renew(context.WithoutCancel(req.Context()), sentWith)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-req.Context().Done():
		log.Debug("request cancelled while waiting for refresh", "error", req.Context().Err())
		return nil, req.Context().Err()
	}

	if res.Err != nil {
		log.Debug("guard state", "from", GuardRefreshInFlight, "to", GuardFailed, "shared", res.Shared)
		return nil, res.Err
	}

	log.Debug("guard state", "from", GuardRefreshInFlight, "to", GuardNormal, "shared", res.Shared)
	return g.resend(req)
}

// renew runs the refresh exchange for a request rejected with stale. Only one
// call is active at a time. A flight that starts after another one already
// replaced stale returns without refreshing again.
func (g *Guard) renew(ctx context.Context, stale string) error {
	stored := g.store.Credential()
	switch {
	case stored.AccessToken == "":
		return fmt.Errorf("%w: %w", ErrSessionExpired, ErrNoRefreshToken)
	case stored.AccessToken != stale:
		return nil
	case stored.RefreshToken == "":
		return g.fail(ErrNoRefreshToken)
	}
	refreshToken := stored.RefreshToken

	cred, err := g.refresh(ctx, refreshToken)
	if err != nil {
		return g.fail(err)
	}
	if cred.AccessToken == "" {
		return g.fail(errors.New("refresh reply carried no access token"))
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	if err := g.store.Save(cred.AccessToken, cred.RefreshToken); err != nil {
		return g.fail(fmt.Errorf("failed to store refreshed tokens: %w", err))
	}

	g.metrics.refreshed(true)
	g.logger.Info("access token refreshed", "token", logger.Fingerprint(cred.AccessToken))
	return nil
}

func (g *Guard) fail(cause error) error {
	g.metrics.refreshed(false)
	g.metrics.forcedLogout()

	if err := g.store.Clear(); err != nil {
		g.logger.Error("failed to clear tokens after refresh failure", "error", err)
	}
	g.logger.Warn("token refresh failed, session ended", "error", cause)

	err := fmt.Errorf("%w: %w", ErrSessionExpired, cause)
	if fn := g.onExpired.Load(); fn != nil {
		(*fn)(err)
	}
	return err
}

func (g *Guard) resend(req *http.Request) (*http.Response, error) {
	retry := req.Clone(markRetried(req.Context()))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}
	g.metrics.retried()
	return g.next.RoundTrip(retry)
}

// replayable returns a clone of req whose body can be read again for a resend
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.ContentLength = int64(len(data))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return clone, nil
}
