// Package routing decides what a portal path shows for the current session.
package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

const (
	PathHome         = "/"
	PathLogin        = "/login"
	PathRegister     = "/register"
	PathUnauthorized = "/unauthorized"
	PathDashboard    = "/dashboard"
)

// Viewer is the session view the router needs
type Viewer interface {
	CurrentUser() *entities.User
	Ready() bool
}

// Action is the outcome of a route decision
type Action int

const (
	ActionWait Action = iota
	ActionRender
	ActionRedirectLogin
	ActionRedirectUnauthorized
	ActionRedirectHome
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionRender:
		return "render"
	case ActionRedirectLogin:
		return "redirect_login"
	case ActionRedirectUnauthorized:
		return "redirect_unauthorized"
	case ActionRedirectHome:
		return "redirect_home"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision says what to do with a path. Target is the path to render or redirect to.
type Decision struct {
	Action Action
	Target string
}

// Route describes one portal path. Protected routes with no Roles accept any
// signed-in user.
type Route struct {
	Path   string          `yaml:"path"`
	Roles  []entities.Role `yaml:"roles,omitempty"`
	Public bool            `yaml:"public,omitempty"`
	Prefix bool            `yaml:"prefix,omitempty"`
}

func (r Route) allows(u *entities.User) bool {
	return len(r.Roles) == 0 || u.HasRole(r.Roles...)
}

func (r Route) matches(path string) bool {
	if path == r.Path {
		return true
	}
	if !r.Prefix {
		return false
	}
	return strings.HasPrefix(path, strings.TrimSuffix(r.Path, "/")+"/")
}

// Table is an ordered set of routes
type Table struct {
	routes []Route
}

// NewTable builds a table from routes
func NewTable(routes ...Route) *Table {
	t := &Table{routes: make([]Route, len(routes))}
	copy(t.routes, routes)
	return t
}

// DefaultTable returns the portal routes
func DefaultTable() *Table {
	routes := []Route{
		{Path: PathHome, Public: true},
		{Path: PathLogin, Public: true},
		{Path: PathRegister, Public: true},
		{Path: PathUnauthorized, Public: true},
		{Path: PathDashboard, Prefix: true},
	}
	for _, role := range entities.AllRoles() {
		routes = append(routes, Route{Path: DashboardPath(role), Roles: []entities.Role{role}})
	}
	return NewTable(routes...)
}

// Routes returns a copy of the table's routes
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Match returns the route for path: an exact match first, otherwise the
// longest matching prefix route
func (t *Table) Match(path string) (Route, bool) {
	path = normalize(path)

	var candidates []Route
	for _, r := range t.routes {
		if r.Path == path {
			return r, true
		}
		if r.matches(path) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Route{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Path) > len(candidates[j].Path)
	})
	return candidates[0], true
}

// Decide returns what to do with path for the viewer. A signed-in user whose
// role does not match goes to the unauthorized view, never to login.
func (t *Table) Decide(path string, v Viewer) Decision {
	path = normalize(path)

	route, ok := t.Match(path)
	if !ok {
		return Decision{Action: ActionRedirectHome, Target: PathHome}
	}
	if route.Public {
		return Decision{Action: ActionRender, Target: path}
	}
	if !v.Ready() {
		return Decision{Action: ActionWait, Target: path}
	}

	user := v.CurrentUser()
	if user == nil {
		return Decision{Action: ActionRedirectLogin, Target: PathLogin}
	}
	if !route.allows(user) {
		return Decision{Action: ActionRedirectUnauthorized, Target: PathUnauthorized}
	}
	return Decision{Action: ActionRender, Target: path}
}

// Resolve is Decide with the generic dashboard mapped to the user's own
// dashboard when it renders
func (t *Table) Resolve(path string, v Viewer) Decision {
	d := t.Decide(path, v)
	if d.Action == ActionRender && normalize(path) == PathDashboard {
		if u := v.CurrentUser(); u != nil {
			d.Target = DashboardPath(u.Role)
		}
	}
	return d
}

// DashboardPath returns the dashboard route for a role
func DashboardPath(role entities.Role) string {
	switch role {
	case entities.RoleStudent:
		return "/student-dashboard"
	case entities.RoleTeacher:
		return "/teacher-dashboard"
	case entities.RoleMentor:
		return "/mentor-dashboard"
	case entities.RoleAdmin:
		return "/admin-dashboard"
	default:
		return PathUnauthorized
	}
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return PathHome
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
