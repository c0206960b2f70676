package routing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

type viewer struct {
	user  *entities.User
	ready bool
}

func (v viewer) CurrentUser() *entities.User { return v.user }
func (v viewer) Ready() bool                 { return v.ready }

func as(role entities.Role) viewer {
	return viewer{user: &entities.User{Username: string(role), Role: role}, ready: true}
}

var (
	anonymous = viewer{ready: true}
	loading   = viewer{}
)

func TestDecide(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name   string
		path   string
		viewer Viewer
		want   Decision
	}{
		{"public home", "/", anonymous, Decision{ActionRender, "/"}},
		{"public login while loading", "/login", loading, Decision{ActionRender, "/login"}},
		{"register", "/register/", anonymous, Decision{ActionRender, "/register"}},
		{"protected while loading", "/dashboard", loading, Decision{ActionWait, "/dashboard"}},
		{"protected anonymous", "/dashboard", anonymous, Decision{ActionRedirectLogin, PathLogin}},
		{"dashboard any role", "/dashboard", as(entities.RoleMentor), Decision{ActionRender, "/dashboard"}},
		{"dashboard subpath", "/dashboard/reports?page=2", as(entities.RoleTeacher), Decision{ActionRender, "/dashboard/reports"}},
		{"student on admin route", "/admin-dashboard", as(entities.RoleStudent), Decision{ActionRedirectUnauthorized, PathUnauthorized}},
		{"admin on admin route", "/admin-dashboard", as(entities.RoleAdmin), Decision{ActionRender, "/admin-dashboard"}},
		{"anonymous on admin route", "/admin-dashboard", anonymous, Decision{ActionRedirectLogin, PathLogin}},
		{"unknown path", "/nowhere", as(entities.RoleAdmin), Decision{ActionRedirectHome, PathHome}},
		{"prefix does not leak", "/dashboardx", as(entities.RoleAdmin), Decision{ActionRedirectHome, PathHome}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Decide(tt.path, tt.viewer))
		})
	}
}

func TestEachRoleOnlyReachesItsDashboard(t *testing.T) {
	table := DefaultTable()
	for _, role := range entities.AllRoles() {
		for _, other := range entities.AllRoles() {
			d := table.Decide(DashboardPath(other), as(role))
			if role == other {
				assert.Equal(t, ActionRender, d.Action, "%s on own dashboard", role)
			} else {
				assert.Equal(t, ActionRedirectUnauthorized, d.Action, "%s on %s dashboard", role, other)
			}
		}
	}
}

func TestResolveDashboard(t *testing.T) {
	table := DefaultTable()

	assert.Equal(t, "/student-dashboard", table.Resolve("/dashboard", as(entities.RoleStudent)).Target)
	assert.Equal(t, "/teacher-dashboard", table.Resolve("/dashboard/", as(entities.RoleTeacher)).Target)
	assert.Equal(t, "/mentor-dashboard", table.Resolve("/dashboard", as(entities.RoleMentor)).Target)
	assert.Equal(t, "/admin-dashboard", table.Resolve("/dashboard", as(entities.RoleAdmin)).Target)

	assert.Equal(t, Decision{ActionRedirectLogin, PathLogin}, table.Resolve("/dashboard", anonymous))
	assert.Equal(t, "/dashboard/reports", table.Resolve("/dashboard/reports", as(entities.RoleAdmin)).Target)
}

func TestDashboardPathIsTotal(t *testing.T) {
	seen := map[string]bool{}
	for _, role := range entities.AllRoles() {
		p := DashboardPath(role)
		assert.NotEqual(t, PathUnauthorized, p)
		assert.False(t, seen[p], "dashboards must be distinct")
		seen[p] = true
	}
	assert.Equal(t, PathUnauthorized, DashboardPath("guest"))
}

func TestMatchLongestPrefix(t *testing.T) {
	table := NewTable(
		Route{Path: "/dashboard", Prefix: true},
		Route{Path: "/dashboard/admin", Prefix: true, Roles: []entities.Role{entities.RoleAdmin}},
	)

	r, ok := table.Match("/dashboard/admin/users")
	require.True(t, ok)
	assert.Equal(t, "/dashboard/admin", r.Path)

	r, ok = table.Match("/dashboard/other")
	require.True(t, ok)
	assert.Equal(t, "/dashboard", r.Path)

	_, ok = table.Match("/elsewhere")
	assert.False(t, ok)
}

func TestLoadTable(t *testing.T) {
	doc := `
routes:
  - path: /reports
    roles: [Teacher, admin]
    prefix: true
  - path: /news
    public: true
`
	table, err := LoadTable(strings.NewReader(doc))
	require.NoError(t, err)

	routes := table.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, []entities.Role{entities.RoleTeacher, entities.RoleAdmin}, routes[0].Roles)

	assert.Equal(t, ActionRender, table.Decide("/reports/weekly", as(entities.RoleTeacher)).Action)
	assert.Equal(t, ActionRedirectUnauthorized, table.Decide("/reports", as(entities.RoleStudent)).Action)
	assert.Equal(t, ActionRender, table.Decide("/news", anonymous).Action)
}

func TestLoadTableErrors(t *testing.T) {
	tests := map[string]string{
		"unknown role":    "routes:\n  - path: /x\n    roles: [guest]\n",
		"relative path":   "routes:\n  - path: x\n",
		"duplicate":       "routes:\n  - path: /x\n  - path: /x/\n",
		"public and role": "routes:\n  - path: /x\n    public: true\n    roles: [admin]\n",
		"unknown field":   "routes:\n  - path: /x\n    role: admin\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTable(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}

	table, err := LoadTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, table.Routes())
}

func TestLoadTableFileMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	doc := "routes:\n  - path: /dashboard\n    prefix: true\n    roles: [admin]\n  - path: /forum\n    prefix: true\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	table, err := LoadTableFile(path)
	require.NoError(t, err)

	assert.Equal(t, ActionRedirectUnauthorized, table.Decide("/dashboard", as(entities.RoleStudent)).Action)
	assert.Equal(t, ActionRender, table.Decide("/forum/thread/1", as(entities.RoleStudent)).Action)
	assert.Equal(t, ActionRender, table.Decide("/login", anonymous).Action)
	assert.Len(t, table.Routes(), len(DefaultTable().Routes())+1)

	_, err = LoadTableFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "redirect_unauthorized", ActionRedirectUnauthorized.String())
	assert.Equal(t, "wait", ActionWait.String())
}
