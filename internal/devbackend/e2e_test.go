package devbackend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takutakahashi/portalgate/internal/devbackend"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"github.com/takutakahashi/portalgate/pkg/client"
	"github.com/takutakahashi/portalgate/pkg/routing"
	"github.com/takutakahashi/portalgate/pkg/session"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
	"golang.org/x/crypto/bcrypt"
)

type portal struct {
	backend    *devbackend.Server
	store      tokenstore.Store
	client     *client.Client
	controller *session.Controller
	navigated  []string
	mu         sync.Mutex
}

func (p *portal) Navigate(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, path)
}

func (p *portal) lastNavigation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.navigated) == 0 {
		return ""
	}
	return p.navigated[len(p.navigated)-1]
}

func newPortal(t *testing.T, cfg devbackend.Config, store tokenstore.Store) *portal {
	t.Helper()
	cfg.BcryptCost = bcrypt.MinCost
	backend, err := devbackend.New(cfg)
	require.NoError(t, err)
	_, err = backend.Seed("alice", "correct", entities.RoleStudent)
	require.NoError(t, err)
	_, err = backend.Seed("root", "toor", entities.RoleAdmin)
	require.NoError(t, err)

	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	if store == nil {
		store = tokenstore.NewMemoryStore()
	}
	p := &portal{backend: backend, store: store}
	p.client = client.NewClient(srv.URL+"/api", client.WithStore(store), client.WithTimeout(5*time.Second))
	p.controller = session.NewController(p.client, store, session.WithNavigator(p))
	p.client.OnSessionExpired(p.controller.Expire)
	return p
}

func TestLoginAndCheckSession(t *testing.T) {
	p := newPortal(t, devbackend.Config{}, nil)
	ctx := context.Background()

	state, err := p.controller.CheckSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAnonymous, state.Status)

	_, err = p.controller.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, client.ErrInvalidCredentials)
	assert.Empty(t, p.store.Access())
	assert.Empty(t, p.store.Refresh())
	assert.Equal(t, session.StatusAnonymous, p.controller.State().Status)

	user, err := p.controller.Login(ctx, "alice", "correct")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, p.store.Access())
	assert.NotEmpty(t, p.store.Refresh())
	assert.Equal(t, session.DefaultLandingRoute, p.lastNavigation())

	state, err = p.controller.CheckSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", state.User.Username)

	table := routing.DefaultTable()
	assert.Equal(t, "/student-dashboard", table.Resolve("/dashboard", p.controller).Target)
	assert.Equal(t, routing.Decision{Action: routing.ActionRedirectUnauthorized, Target: routing.PathUnauthorized},
		table.Decide("/admin-dashboard", p.controller))
}

func TestExpiredAccessRefreshesOnce(t *testing.T) {
	p := newPortal(t, devbackend.Config{}, nil)
	ctx := context.Background()

	_, err := p.controller.Login(ctx, "alice", "correct")
	require.NoError(t, err)
	before := p.store.Access()

	p.backend.ExpireAccess()

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var stats map[string]interface{}
			errs[i] = p.client.Do(ctx, http.MethodGet, "/dashboard/stats/", nil, &stats)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, p.backend.Counts().Refresh)
	assert.NotEqual(t, before, p.store.Access())
	assert.Equal(t, session.StatusAuthenticated, p.controller.State().Status)
}

func TestRotatedRefreshIsStored(t *testing.T) {
	p := newPortal(t, devbackend.Config{RotateRefresh: true}, nil)
	ctx := context.Background()

	_, err := p.controller.Login(ctx, "root", "toor")
	require.NoError(t, err)
	oldRefresh := p.store.Refresh()

	p.backend.ExpireAccess()
	_, err = p.client.Me(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, oldRefresh, p.store.Refresh())

	p.backend.ExpireAccess()
	_, err = p.client.Me(ctx)
	require.NoError(t, err, "the rotated refresh token must be the one used next")
	assert.EqualValues(t, 2, p.backend.Counts().Refresh)
}

func TestRejectedRefreshForcesLogout(t *testing.T) {
	p := newPortal(t, devbackend.Config{}, nil)
	ctx := context.Background()

	_, err := p.controller.Login(ctx, "alice", "correct")
	require.NoError(t, err)

	// Revoke the refresh token server-side, then let the access token lapse.
	require.NoError(t, p.client.Logout(ctx))
	p.backend.ExpireAccess()

	_, err = p.client.Me(ctx)
	assert.ErrorIs(t, err, client.ErrSessionExpired)
	assert.Empty(t, p.store.Access())
	assert.Empty(t, p.store.Refresh())
	assert.Equal(t, session.StatusAnonymous, p.controller.State().Status)
	assert.Equal(t, session.DefaultLoginRoute, p.lastNavigation())

	table := routing.DefaultTable()
	assert.Equal(t, routing.ActionRedirectLogin, table.Decide("/dashboard", p.controller).Action)
}

func TestLogoutRevokesOnBackend(t *testing.T) {
	p := newPortal(t, devbackend.Config{}, nil)
	ctx := context.Background()

	_, err := p.controller.Login(ctx, "alice", "correct")
	require.NoError(t, err)
	refresh := p.store.Refresh()

	p.controller.Logout(ctx)
	assert.Empty(t, p.store.Access())
	assert.Equal(t, session.StatusAnonymous, p.controller.State().Status)
	assert.EqualValues(t, 1, p.backend.Counts().Logout)

	_, err = p.client.Refresh(ctx, refresh)
	assert.Error(t, err, "refresh token is blacklisted after logout")
}

func TestSessionSurvivesRestartWithFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store, err := tokenstore.NewFileStore(path, "k", nil)
	require.NoError(t, err)

	p := newPortal(t, devbackend.Config{}, store)
	ctx := context.Background()
	_, err = p.controller.Login(ctx, "alice", "correct")
	require.NoError(t, err)

	reopened, err := tokenstore.NewFileStore(path, "k", nil)
	require.NoError(t, err)
	restarted := session.NewController(client.NewClient(p.client.BaseURL(), client.WithStore(reopened)), reopened)

	state, err := restarted.CheckSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", state.User.Username)
}
